// Package ratelimit enforces per-category message budgets over fixed windows.
//
// A Limiter never queues: once the budget of the current window is spent,
// Allow fails immediately with a RateLimited error and the caller answers or
// drops the message. Windows are anchored at the first message after the
// previous window expired.
package ratelimit

import (
	"encoding/json"
	"sync"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
)

// Category groups methods that share one budget.
type Category string

const (
	CategoryTools       Category = "tools"
	CategoryCompletions Category = "completions"
	CategoryLogs        Category = "logs"
	CategoryProgress    Category = "progress"
)

// Categories lists every category in a stable order.
func Categories() []Category {
	return []Category{CategoryTools, CategoryCompletions, CategoryLogs, CategoryProgress}
}

// Rule is the budget of one category: Limit events per Window.
type Rule struct {
	Limit  int           `yaml:"limit" json:"limit"`
	Window time.Duration `yaml:"window" json:"window"`
}

// DefaultRules returns the stock budgets.
func DefaultRules() map[Category]Rule {
	return map[Category]Rule{
		CategoryTools:       {Limit: 5, Window: time.Second},
		CategoryCompletions: {Limit: 10, Window: time.Second},
		CategoryLogs:        {Limit: 20, Window: time.Second},
		CategoryProgress:    {Limit: 20, Window: time.Second},
	}
}

// CategoryForMethod maps an inbound request method to its category. Methods
// without a budget report false; cancellation and ping are never limited.
func CategoryForMethod(method string) (Category, bool) {
	switch method {
	case protocol.MethodCallTool:
		return CategoryTools, true
	case protocol.MethodComplete:
		return CategoryCompletions, true
	default:
		return "", false
	}
}

// KeyForRequest picks the sub-window of an inbound request: the tool name
// for tools/call and the prompt name or resource URI of a completion
// reference. Malformed params map to the shared window.
func KeyForRequest(method string, params json.RawMessage) string {
	switch method {
	case protocol.MethodCallTool:
		var call struct {
			Name string `json:"name"`
		}
		if protocol.DecodeParams(params, &call) == nil {
			return call.Name
		}
	case protocol.MethodComplete:
		var complete struct {
			Ref struct {
				Name string `json:"name"`
				URI  string `json:"uri"`
			} `json:"ref"`
		}
		if protocol.DecodeParams(params, &complete) == nil {
			if complete.Ref.Name != "" {
				return complete.Ref.Name
			}
			return complete.Ref.URI
		}
	}
	return ""
}

// windowKey names one window: a category plus an optional sub-key such as a
// tool name.
type windowKey struct {
	category Category
	key      string
}

// window tracks the counter of one category
type window struct {
	start time.Time
	count int
}

// Limiter holds one fixed window per category and sub-key.
type Limiter struct {
	mu       sync.Mutex
	rules    map[Category]Rule
	windows  map[windowKey]*window
	now      func() time.Time
	code     int
	onReject func(Category)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithErrorCode sets the JSON-RPC code carried by RateLimited errors.
func WithErrorCode(code int) Option {
	return func(l *Limiter) {
		l.code = code
	}
}

// WithRejectHook registers a callback invoked for every rejected event.
func WithRejectHook(fn func(Category)) Option {
	return func(l *Limiter) {
		l.onReject = fn
	}
}

// New creates a Limiter. A nil rules map yields DefaultRules. Rules with a
// non-positive window are ignored, which leaves that category unlimited.
func New(rules map[Category]Rule, opts ...Option) *Limiter {
	if rules == nil {
		rules = DefaultRules()
	}
	l := &Limiter{
		rules:   make(map[Category]Rule, len(rules)),
		windows: make(map[windowKey]*window, len(rules)),
		now:     time.Now,
		code:    mcperrors.DefaultRateLimitedCode,
	}
	for cat, rule := range rules {
		if rule.Window <= 0 || rule.Limit < 0 {
			continue
		}
		l.rules[cat] = rule
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes one unit of category. It returns a RateLimited error once
// the count of the current window has reached the limit. Unknown categories
// are unlimited.
func (l *Limiter) Allow(category Category) error {
	return l.AllowKey(category, "")
}

// AllowKey is Allow for the window of key within category. Each key gets
// the full budget of the category rule, so one busy tool does not starve
// another.
func (l *Limiter) AllowKey(category Category, key string) error {
	l.mu.Lock()
	rule, ok := l.rules[category]
	if !ok {
		l.mu.Unlock()
		return nil
	}

	now := l.now()
	wk := windowKey{category: category, key: key}
	w, exists := l.windows[wk]
	if !exists {
		w = &window{start: now}
		l.windows[wk] = w
	} else if now.Sub(w.start) >= rule.Window {
		w.start = now
		w.count = 0
	}

	if w.count >= rule.Limit {
		l.mu.Unlock()
		if l.onReject != nil {
			l.onReject(category)
		}
		return mcperrors.RateLimited(string(category), l.code, rule.Limit, rule.Window)
	}
	w.count++
	l.mu.Unlock()
	return nil
}

// Remaining returns how many events category may still admit in the current
// window, or -1 when the category is unlimited.
func (l *Limiter) Remaining(category Category) int {
	return l.RemainingKey(category, "")
}

// RemainingKey is Remaining for the window of key within category.
func (l *Limiter) RemainingKey(category Category, key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	rule, ok := l.rules[category]
	if !ok {
		return -1
	}
	w, exists := l.windows[windowKey{category: category, key: key}]
	if !exists || l.now().Sub(w.start) >= rule.Window {
		return rule.Limit
	}
	return rule.Limit - w.count
}

// Reset clears every window.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.windows = make(map[windowKey]*window, len(l.rules))
	l.mu.Unlock()
}
