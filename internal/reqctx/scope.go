package reqctx

import "context"

// Override applies values to the request Context in ctx and returns a
// function that restores the previous state of every touched key. Keys that
// did not exist before are removed on restore. When ctx carries no request
// Context a new one is attached to the returned context.
func Override(ctx context.Context, values map[string]any) (context.Context, func()) {
	ctx, rc := Ensure(ctx)

	type prior struct {
		value   any
		present bool
	}
	saved := make(map[string]prior, len(values))

	rc.mu.Lock()
	for k, v := range values {
		old, ok := rc.values[k]
		saved[k] = prior{value: old, present: ok}
		rc.values[k] = v
	}
	rc.mu.Unlock()

	return ctx, func() {
		rc.mu.Lock()
		defer rc.mu.Unlock()
		for k, p := range saved {
			if p.present {
				rc.values[k] = p.value
			} else {
				delete(rc.values, k)
			}
		}
	}
}

// WithValues runs fn with values overriding the request context. Prior values
// are restored when fn returns, returns an error, or panics.
func WithValues(ctx context.Context, values map[string]any, fn func(context.Context) error) error {
	ctx, restore := Override(ctx, values)
	defer restore()
	return fn(ctx)
}
