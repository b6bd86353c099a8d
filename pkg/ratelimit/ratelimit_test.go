package ratelimit

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestAllowWithinWindow(t *testing.T) {
	clock := newFakeClock()
	l := New(map[Category]Rule{CategoryTools: {Limit: 5, Window: time.Second}}, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow(CategoryTools), "call %d", i+1)
	}

	err := l.Allow(CategoryTools)
	require.Error(t, err)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindRateLimited))
	assert.True(t, mcperrors.IsCode(err, mcperrors.DefaultRateLimitedCode))

	mcpErr, ok := mcperrors.AsMCPError(err)
	require.True(t, ok)
	data, ok := mcpErr.Data().(*mcperrors.RateLimitData)
	require.True(t, ok)
	assert.Equal(t, "tools", data.Category)
	assert.Equal(t, 5, data.Limit)
}

func TestWindowRollsOver(t *testing.T) {
	clock := newFakeClock()
	l := New(map[Category]Rule{CategoryTools: {Limit: 2, Window: time.Second}}, WithClock(clock.Now))

	require.NoError(t, l.Allow(CategoryTools))
	require.NoError(t, l.Allow(CategoryTools))
	assert.Error(t, l.Allow(CategoryTools))

	clock.Advance(999 * time.Millisecond)
	assert.Error(t, l.Allow(CategoryTools), "window still open")

	clock.Advance(time.Millisecond)
	assert.NoError(t, l.Allow(CategoryTools), "window expired exactly at boundary")
	assert.Equal(t, 1, l.Remaining(CategoryTools))
}

func TestCategoriesAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := New(DefaultRules(), WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Allow(CategoryTools))
	}
	assert.Error(t, l.Allow(CategoryTools))

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Allow(CategoryCompletions))
	}
	assert.Error(t, l.Allow(CategoryCompletions))
	assert.Equal(t, 20, l.Remaining(CategoryLogs))
}

func TestKeysHaveSeparateWindows(t *testing.T) {
	clock := newFakeClock()
	l := New(map[Category]Rule{CategoryTools: {Limit: 2, Window: time.Second}}, WithClock(clock.Now))

	for i := 0; i < 2; i++ {
		require.NoError(t, l.AllowKey(CategoryTools, "search"))
	}
	assert.Error(t, l.AllowKey(CategoryTools, "search"))
	assert.Equal(t, 0, l.RemainingKey(CategoryTools, "search"))

	assert.NoError(t, l.AllowKey(CategoryTools, "fetch"), "another key has its own budget")
	assert.Equal(t, 1, l.RemainingKey(CategoryTools, "fetch"))
	assert.Equal(t, 2, l.Remaining(CategoryTools), "the unkeyed window is untouched")

	clock.Advance(time.Second)
	assert.NoError(t, l.AllowKey(CategoryTools, "search"))
}

func TestKeyForRequest(t *testing.T) {
	tests := []struct {
		name   string
		method string
		params string
		want   string
	}{
		{name: "tool name", method: "tools/call", params: `{"name":"search","arguments":{}}`, want: "search"},
		{name: "prompt ref", method: "completion/complete", params: `{"ref":{"type":"ref/prompt","name":"greet"}}`, want: "greet"},
		{name: "resource ref", method: "completion/complete", params: `{"ref":{"type":"ref/resource","uri":"file:///a"}}`, want: "file:///a"},
		{name: "malformed", method: "tools/call", params: `[1,2]`, want: ""},
		{name: "no params", method: "tools/call", want: ""},
		{name: "other method", method: "tools/list", params: `{"name":"x"}`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyForRequest(tt.method, json.RawMessage(tt.params)))
		})
	}
}

func TestUnknownCategoryIsUnlimited(t *testing.T) {
	l := New(map[Category]Rule{CategoryTools: {Limit: 1, Window: time.Second}})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Allow(CategoryLogs))
	}
	assert.Equal(t, -1, l.Remaining(CategoryLogs))
}

func TestZeroLimitRejectsEverything(t *testing.T) {
	l := New(map[Category]Rule{CategoryProgress: {Limit: 0, Window: time.Second}})
	assert.Error(t, l.Allow(CategoryProgress))
}

func TestCustomCodeAndRejectHook(t *testing.T) {
	var rejected []Category
	l := New(map[Category]Rule{CategoryLogs: {Limit: 1, Window: time.Minute}},
		WithErrorCode(-32099),
		WithRejectHook(func(c Category) { rejected = append(rejected, c) }),
	)

	require.NoError(t, l.Allow(CategoryLogs))
	err := l.Allow(CategoryLogs)
	assert.True(t, mcperrors.IsCode(err, -32099))
	assert.Equal(t, []Category{CategoryLogs}, rejected)
}

func TestReset(t *testing.T) {
	l := New(map[Category]Rule{CategoryTools: {Limit: 1, Window: time.Hour}})
	require.NoError(t, l.Allow(CategoryTools))
	require.Error(t, l.Allow(CategoryTools))

	l.Reset()
	assert.NoError(t, l.Allow(CategoryTools))
}

func TestCategoryForMethod(t *testing.T) {
	tests := []struct {
		method string
		want   Category
		ok     bool
	}{
		{method: "tools/call", want: CategoryTools, ok: true},
		{method: "completion/complete", want: CategoryCompletions, ok: true},
		{method: "tools/list"},
		{method: "ping"},
		{method: "notifications/cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got, ok := CategoryForMethod(tt.method)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConcurrentAllowNeverExceedsLimit(t *testing.T) {
	clock := newFakeClock()
	l := New(map[Category]Rule{CategoryTools: {Limit: 50, Window: time.Second}}, WithClock(clock.Now))

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(CategoryTools) == nil {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), admitted)
}
