package leakcheck

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	failures []string
}

func (r *recorder) Helper() {}

func (r *recorder) Logf(format string, args ...interface{}) {}

func (r *recorder) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestDetector(t *testing.T) {
	t.Run("finished goroutines pass", func(t *testing.T) {
		rec := &recorder{}
		d := New(rec).Start()

		done := make(chan struct{})
		go func() { close(done) }()
		<-done

		d.Check()
		assert.Empty(t, rec.failures)
	})

	t.Run("blocked goroutine is reported", func(t *testing.T) {
		rec := &recorder{}
		d := New(rec, WithDeadline(200*time.Millisecond)).Start()

		release := make(chan struct{})
		defer close(release)
		go func() { <-release }()

		d.Check()
		assert.Len(t, rec.failures, 1)
		assert.Contains(t, rec.failures[0], "goroutine leak")
	})

	t.Run("allowed growth", func(t *testing.T) {
		rec := &recorder{}
		d := New(rec, WithAllowedGrowth(1), WithDeadline(100*time.Millisecond)).Start()

		release := make(chan struct{})
		defer close(release)
		go func() { <-release }()

		d.Check()
		assert.Empty(t, rec.failures)
	})
}
