// Package leakcheck detects goroutines left behind by a test.
package leakcheck

import (
	"runtime"
	"time"
)

// TB is the part of testing.TB the detector reports through.
type TB interface {
	Helper()
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Detector compares the goroutine count at Check against the one recorded at
// Start.
type Detector struct {
	t             TB
	baseline      int
	allowedGrowth int
	settle        time.Duration
	deadline      time.Duration
}

// Option configures a Detector.
type Option func(*Detector)

// WithAllowedGrowth tolerates n extra goroutines, for runtimes that keep
// pooled workers such as net/http.
func WithAllowedGrowth(n int) Option {
	return func(d *Detector) {
		d.allowedGrowth = n
	}
}

// WithDeadline bounds how long Check waits for goroutines to exit.
func WithDeadline(deadline time.Duration) Option {
	return func(d *Detector) {
		d.deadline = deadline
	}
}

// New creates a detector reporting to t.
func New(t TB, opts ...Option) *Detector {
	d := &Detector{
		t:        t,
		settle:   50 * time.Millisecond,
		deadline: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start records the baseline after letting earlier goroutines settle.
func (d *Detector) Start() *Detector {
	time.Sleep(d.settle)
	d.baseline = runtime.NumGoroutine()
	return d
}

// Check polls until the count is back within the allowed growth or the
// deadline passes, in which case it fails the test with every stack.
func (d *Detector) Check() {
	d.t.Helper()

	limit := d.baseline + d.allowedGrowth
	stop := time.Now().Add(d.deadline)
	count := runtime.NumGoroutine()
	for count > limit && time.Now().Before(stop) {
		time.Sleep(d.settle)
		count = runtime.NumGoroutine()
	}
	if count <= limit {
		return
	}

	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	d.t.Errorf("goroutine leak: started with %d, ended with %d (allowed growth %d)\n%s",
		d.baseline, count, d.allowedGrowth, buf[:n])
}
