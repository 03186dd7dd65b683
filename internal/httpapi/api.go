package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
)

// ReadyProbe reports readiness, pinging the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options carries the transport-level configuration of the API.
type Options struct {
	// EntityCode is the entity this deployment serves. Administrative
	// endpoints reject tokens scoped to any other entity.
	EntityCode string
	// RateBurst and RatePerSecond bound per-client request rates on the
	// credential endpoints. Zero disables rate limiting.
	RateBurst     int
	RatePerSecond int
	// CORSOrigins are the browser origins allowed beside localhost.
	CORSOrigins []string
	Version     string
}

// API is the HTTP transport over the session lifecycle service.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	readyProbe ReadyProbe
	opts       Options
}

// New wires the routes. Authorization is performed by explicit wrappers
// around each handler, never by ambient state: withBearer authenticates the
// caller and passes the principal through the request context, withAdmin
// additionally checks the admin role and entity scope.
func New(svc *auth.Service, rp ReadyProbe, opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		readyProbe: rp,
		opts:       opts,
	}

	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/auth/logout-all", a.withBearer(a.handleLogoutAll))
	a.mux.HandleFunc("/auth/validate", a.handleValidate)
	a.mux.HandleFunc("/auth/sessions", a.withBearer(a.handleSessions))
	a.mux.HandleFunc("/auth/sessions/revoke", a.withBearer(a.handleSessionRevoke))
	a.mux.HandleFunc("/auth/admin/sessions", a.withAdmin(a.handleAdminSessions))
	a.mux.HandleFunc("/auth/admin/sessions/revoke", a.withAdmin(a.handleAdminSessionRevoke))

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReadyz)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	if a.opts.RateBurst > 0 && a.opts.RatePerSecond > 0 {
		h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSecond)
	}
	h = CORS(h, a.opts.CORSOrigins)
	h = obs.Instrument(h)
	h = Logging(h)
	h = SecurityHeaders(h)
	h = Recover(h)
	return h
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gatehouse-api",
		"version": a.opts.Version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAuthError maps domain failures to transport responses. Unexpected
// errors are converted to a generic 500 with no internal detail.
func handleAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, http.StatusUnauthorized, "account inactive")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, auth.ErrUnauthorizedSessionAccess):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, auth.ErrEntityNotFound):
		writeError(w, http.StatusNotFound, "entity not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
