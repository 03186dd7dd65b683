package httpapi

import (
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/auth"
)

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	EntityCode string `json:"entityCode,omitempty"`
}

type tokenPairResponse struct {
	AccessToken     string    `json:"accessToken"`
	RefreshToken    string    `json:"refreshToken"`
	AccessExpiresAt time.Time `json:"accessExpiresAt"`
	Username        string    `json:"username"`
	DisplayName     string    `json:"displayName,omitempty"`
	Roles           []string  `json:"roles"`
	AuthMethod      string    `json:"authenticationMethod,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	res, err := a.svc.Login(r.Context(), req.Username, req.Password, req.EntityCode, clientMeta(r))
	if err != nil {
		handleAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:     res.AccessToken,
		RefreshToken:    res.RefreshToken,
		AccessExpiresAt: res.AccessExpiresAt,
		Username:        res.Username,
		DisplayName:     res.DisplayName,
		Roles:           rolesOrEmpty(res.Roles),
		AuthMethod:      res.Method,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	res, err := a.svc.Refresh(r.Context(), req.RefreshToken, clientMeta(r))
	if err != nil {
		handleAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:     res.AccessToken,
		RefreshToken:    res.RefreshToken,
		AccessExpiresAt: res.AccessExpiresAt,
		Username:        res.Username,
		Roles:           rolesOrEmpty(res.Roles),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	// Idempotent: unknown and already-revoked tokens succeed alike.
	if err := a.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type logoutAllRequest struct {
	EntityCode string `json:"entityCode,omitempty"`
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req logoutAllRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := a.svc.LogoutAll(r.Context(), principal.Username, req.EntityCode); err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleValidate reports whether the bearer token is valid. It never fails
// for a malformed or expired token; the answer is simply false.
func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}
	claims, err := a.svc.ValidateAccess(token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    true,
		"username": claims.Subject,
		"roles":    rolesOrEmpty(claims.Roles),
	})
}

type sessionResponse struct {
	SessionID  string `json:"sessionId"`
	Username   string `json:"username,omitempty"`
	Entity     string `json:"entity,omitempty"`
	Device     string `json:"device"`
	IP         string `json:"ip"`
	CreatedAt  string `json:"createdAt"`
	LastUsedAt any    `json:"lastUsedAt"`
	ExpiresAt  string `json:"expiresAt"`
	Current    bool   `json:"current"`
	Revoked    bool   `json:"revoked"`
}

func sessionToResponse(info auth.SessionInfo, includeOwner bool) sessionResponse {
	s := info.Session
	resp := sessionResponse{
		SessionID:  s.ID,
		Device:     s.Device,
		IP:         s.IP,
		CreatedAt:  s.CreatedAt.UTC().Format(time.RFC3339),
		LastUsedAt: nullableTime(s.LastUsedAt),
		ExpiresAt:  s.ExpiresAt.UTC().Format(time.RFC3339),
		Current:    info.Current,
		Revoked:    s.Revoked,
	}
	if includeOwner {
		resp.Username = s.Username
		resp.Entity = s.Entity
	}
	return resp
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	// The refresh token travels in its own header so the current session
	// can be flagged; absent header just means no session is marked.
	sessions, err := a.svc.Sessions(r.Context(), principal.Username, r.Header.Get(refreshTokenHeader))
	if err != nil {
		handleAuthError(w, err)
		return
	}

	res := make([]sessionResponse, 0, len(sessions))
	for _, info := range sessions {
		res = append(res, sessionToResponse(info, false))
	}
	writeJSON(w, http.StatusOK, res)
}

type revokeSessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (a *API) handleSessionRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req revokeSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := a.svc.RevokeSession(r.Context(), principal, req.SessionID); err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func rolesOrEmpty(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}

func clientMeta(r *http.Request) auth.ClientMeta {
	return auth.ClientMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}
