package auth

import "context"

// claimsKey is unexported so only this package can attach admin claims to a request.
type claimsKey struct{}

// WithClaims returns a copy of ctx carrying the verified admin claims. Middleware calls
// it after a bearer token passes Parse; tests call it to act as an operator.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext returns the admin claims of the current request. ok is false when the
// request was not authenticated, either because auth is disabled or the route is skipped.
func FromContext(ctx context.Context) (claims *Claims, ok bool) {
	claims, ok = ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}
