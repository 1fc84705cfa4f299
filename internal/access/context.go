// Package access enforces tenant-scoped access on the opaque panel routes:
// it parses the encrypted segments, binds them to the caller's session, and
// publishes the verified identity to downstream handlers.
package access

import (
	"context"
	"errors"

	"mealdesk.org/internal/tenant"
)

// ErrNoIdentity is returned when a handler asks for the verified identity
// outside a gate-protected subtree. That is always a wiring bug: views must
// never reconstruct identity from the URL themselves.
var ErrNoIdentity = errors.New("access: no verified identity in context")

// Identity is the plain, verified identity for the current request. It is
// built fresh on every grant and never mutated.
type Identity struct {
	CompanyID   string
	UserID      string
	CompanyType tenant.Type
}

type identityContextKey struct{}

// ContextWithIdentity attaches a verified identity to the request context.
// Only the gate calls this.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &id)
}

// FromContext returns the verified identity for the current request. It
// fails loudly instead of returning a zero value so misuse cannot silently
// widen access.
func FromContext(ctx context.Context) (Identity, error) {
	if ctx == nil {
		return Identity{}, ErrNoIdentity
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return Identity{}, ErrNoIdentity
	}
	return *v, nil
}
