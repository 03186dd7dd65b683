package httpapi

import (
	"net/http"
)

func (a *API) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	sessions, err := a.svc.AllSessions(r.Context())
	if err != nil {
		handleAuthError(w, err)
		return
	}

	res := make([]sessionResponse, 0, len(sessions))
	for _, info := range sessions {
		res = append(res, sessionToResponse(info, true))
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleAdminSessionRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
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

	if err := a.svc.AdminRevokeSession(r.Context(), req.SessionID); err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
