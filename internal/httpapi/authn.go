package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gatehouse.org/internal/auth"
)

const (
	authHeader         = "Authorization"
	bearerPrefix       = "Bearer "
	refreshTokenHeader = "X-Refresh-Token"
)

// AdminRole gates the administrative session endpoints.
const AdminRole = "admin"

// withBearer authenticates the access token and attaches the principal to
// the request context before invoking the handler. User-scoped endpoints
// accept tokens from any entity scope.
func (a *API) withBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.svc.ValidateAccess(token)
		if err != nil {
			handleAuthError(w, err)
			return
		}
		principal := auth.Principal{
			Username: claims.Subject,
			Roles:    claims.Roles,
			Entity:   claims.Entity,
		}
		next(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	}
}

// withAdmin is withBearer plus the admin role check. Administrative
// endpoints are entity-scoped: a token issued for a different entity is
// rejected even when it carries the admin role.
func (a *API) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return a.withBearer(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok || !principal.HasRole(AdminRole) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		if a.opts.EntityCode != "" && principal.Entity != a.opts.EntityCode {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerPrefix)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
