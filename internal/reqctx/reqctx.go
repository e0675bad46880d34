// Package reqctx holds per-request ambient state (request ID, user, client
// metadata, arbitrary fields) carried through context.Context.
//
// A Context is created once per request by the server pipeline and cleared
// when the request finishes. Code handling the request reads and writes it
// through the context it was handed; nothing is stored in package globals.
package reqctx

import (
	"context"
	"maps"
	"sync"
)

// Well-known keys.
const (
	KeyRequestID = "request_id"
	KeyUserID    = "user_id"
	KeyUsername  = "username"
	KeyClientIP  = "client_ip"
	KeyMethod    = "method"
	KeyPath      = "path"
)

type ctxKey struct{}

// Context is a mutable key/value store scoped to one request. It is safe for
// concurrent use by goroutines spawned while handling that request.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// New returns an empty Context.
func New() *Context {
	return &Context{values: make(map[string]any)}
}

// NewContext returns a child of parent carrying rc.
func NewContext(parent context.Context, rc *Context) context.Context {
	return context.WithValue(parent, ctxKey{}, rc)
}

// FromContext returns the request Context stored in ctx, or nil.
func FromContext(ctx context.Context) *Context {
	rc, _ := ctx.Value(ctxKey{}).(*Context)
	return rc
}

// Ensure returns ctx and its request Context, attaching a fresh one when
// ctx does not carry one yet.
func Ensure(ctx context.Context) (context.Context, *Context) {
	if rc := FromContext(ctx); rc != nil {
		return ctx, rc
	}
	rc := New()
	return NewContext(ctx, rc), rc
}

func (c *Context) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// String returns the value for key when it is a string.
func (c *Context) String(key string) string {
	v, _ := c.Get(key)
	s, _ := v.(string)
	return s
}

func (c *Context) Set(key string, value any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
}

// Update merges values into the context.
func (c *Context) Update(values map[string]any) {
	if c == nil || len(values) == 0 {
		return
	}
	c.mu.Lock()
	maps.Copy(c.values, values)
	c.mu.Unlock()
}

func (c *Context) Delete(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
}

// Snapshot returns a copy of all values.
func (c *Context) Snapshot() map[string]any {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.values)
}

// Clear removes every value.
func (c *Context) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	clear(c.values)
	c.mu.Unlock()
}

func (c *Context) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	return FromContext(ctx).String(KeyRequestID)
}

// SetRequestID stores the request ID. No-op without a request Context.
func SetRequestID(ctx context.Context, id string) {
	FromContext(ctx).Set(KeyRequestID, id)
}

// UserID returns the authenticated user ID, or 0.
func UserID(ctx context.Context) int64 {
	v, _ := FromContext(ctx).Get(KeyUserID)
	id, _ := v.(int64)
	return id
}

// SetUserID stores the authenticated user ID.
func SetUserID(ctx context.Context, id int64) {
	FromContext(ctx).Set(KeyUserID, id)
}
