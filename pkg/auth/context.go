package auth

import (
	"context"

	"github.com/openpharma/rxengine/pkg/rxerr"
)

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return nil, rxerr.ErrNotAuthorized.WithDetail("no principal in context")
	}
	return p, nil
}

// ActorID returns the principal's ID, or "system" when none is bound.
// Background jobs (expiry scans, reconcile) run as system.
func ActorID(ctx context.Context) string {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return "system"
	}
	return p.GetID()
}
