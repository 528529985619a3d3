// AngelaMos | 2026
// context.go

package middleware

import (
	"context"
	"time"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller attached to a request.
type Principal struct {
	ID             string
	Email          string
	Role           string
	EmailVerified  bool
	Active         bool
	TokenID        string
	TokenExpiresAt time.Time
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey).(*Principal); ok {
		return p
	}
	return nil
}

func GetUserID(ctx context.Context) string {
	if p := GetPrincipal(ctx); p != nil {
		return p.ID
	}
	return ""
}

func GetUserRole(ctx context.Context) string {
	if p := GetPrincipal(ctx); p != nil {
		return p.Role
	}
	return ""
}

func IsAuthenticated(ctx context.Context) bool {
	return GetUserID(ctx) != ""
}
