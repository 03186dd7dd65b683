package auth

import (
	"context"
	"strings"
)

// Principal is the authenticated caller of an operation. Core operations
// take it as an explicit input; nothing in this package reads ambient
// per-request state.
type Principal struct {
	Username string
	Roles    []string
	Entity   string
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	for _, r := range p.Roles {
		if strings.ToLower(r) == role {
			return true
		}
	}
	return false
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
// Transport middleware populates it; handlers pass it on explicitly.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}
