package connection

import (
	"context"
	"encoding/json"
	"sort"
)

// HandlerFunc answers one inbound request. The returned value becomes the
// response result; a returned error becomes the error response.
type HandlerFunc func(ctx context.Context, req *Request) (interface{}, error)

// NotificationFunc observes one inbound notification. It runs on the reader
// goroutine and must not block.
type NotificationFunc func(ctx context.Context, method string, params json.RawMessage)

// Router maps methods to handlers and notification listeners. A Connection
// copies the router when it is created, so later registrations only affect
// connections created afterwards.
//
// initialize and ping are answered by the Connection itself and cannot be
// overridden.
type Router struct {
	handlers  map[string]HandlerFunc
	listeners map[string][]NotificationFunc
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		handlers:  make(map[string]HandlerFunc),
		listeners: make(map[string][]NotificationFunc),
	}
}

// Handle registers h for method, replacing any previous handler.
func (r *Router) Handle(method string, h HandlerFunc) {
	if method == "" {
		panic("connection: empty method")
	}
	if h == nil {
		panic("connection: nil handler for " + method)
	}
	r.handlers[method] = h
}

// OnNotification adds a listener for method. Listeners run in registration
// order after the built-in processing of the notification.
func (r *Router) OnNotification(method string, fn NotificationFunc) {
	if fn == nil {
		panic("connection: nil listener for " + method)
	}
	r.listeners[method] = append(r.listeners[method], fn)
}

// Methods lists the methods with a registered handler, sorted.
func (r *Router) Methods() []string {
	methods := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

func (r *Router) clone() (map[string]HandlerFunc, map[string][]NotificationFunc) {
	handlers := make(map[string]HandlerFunc, len(r.handlers))
	for m, h := range r.handlers {
		handlers[m] = h
	}
	listeners := make(map[string][]NotificationFunc, len(r.listeners))
	for m, fns := range r.listeners {
		listeners[m] = append([]NotificationFunc(nil), fns...)
	}
	return handlers, listeners
}
