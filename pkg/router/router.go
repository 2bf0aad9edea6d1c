// Package router maps control-plane view names to handlers.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/dittostore/pkg/fault"
	"github.com/marmos91/dittostore/pkg/session"
)

// ErrViewNotFound is returned by Dispatch for an unregistered view.
var ErrViewNotFound = errors.New("view not found")

// Request is one decoded control request.
type Request struct {
	// Payload is the JSON body, already checked to be valid JSON.
	Payload json.RawMessage

	Conn      *session.Conn
	SessionID string

	// UserID is the user bound to the session, nil when anonymous.
	UserID *int64
}

// Decode unmarshals the payload into v. A decode failure is a
// Serialization fault.
func (r *Request) Decode(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fault.New(fault.Serialization, "decode payload", err)
	}
	return nil
}

// HandlerFunc serves one view. The returned value becomes the "response"
// field of the reply.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Router is a view table. Safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func New() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Handle binds view to h, replacing any earlier binding.
func (r *Router) Handle(view string, h HandlerFunc) {
	if view == "" || h == nil {
		panic("router: empty view or nil handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[view] = h
}

// Lookup returns the handler bound to view.
func (r *Router) Lookup(view string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[view]
	return h, ok
}

// Views lists the registered views, sorted.
func (r *Router) Views() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]string, 0, len(r.handlers))
	for v := range r.handlers {
		views = append(views, v)
	}
	sort.Strings(views)
	return views
}

// Dispatch calls the handler bound to view. A panicking handler is turned
// into an Internal fault.
func (r *Router) Dispatch(ctx context.Context, view string, req *Request) (resp any, err error) {
	h, ok := r.Lookup(view)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrViewNotFound, view)
	}

	defer func() {
		if rec := recover(); rec != nil {
			resp = nil
			err = fault.Newf(fault.Internal, view, "handler panic: %v", rec)
		}
	}()
	return h(ctx, req)
}
