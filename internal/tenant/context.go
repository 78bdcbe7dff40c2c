package tenant

import "context"

type resolutionCtxKey struct{}
type tenantCtxKey struct{}

// WithResolution stores the raw resolution outcome on the request context,
// including failed outcomes, so downstream stages can tell "no tenant" apart
// from "never attempted".
func WithResolution(ctx context.Context, res Resolution) context.Context {
	return context.WithValue(ctx, resolutionCtxKey{}, res)
}

// ResolutionFrom returns the resolution stored on ctx, if any.
func ResolutionFrom(ctx context.Context) (Resolution, bool) {
	res, ok := ctx.Value(resolutionCtxKey{}).(Resolution)
	return res, ok
}

// WithContext stores a tenant context. Later stages replace the whole value;
// the stored Context is never mutated in place.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tc)
}

// FromContext returns the tenant context attached to ctx, if any.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(tenantCtxKey{}).(Context)
	return tc, ok
}
