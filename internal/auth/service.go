package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/obs"
)

// DefaultRefreshTTL is applied when the service is constructed without an
// explicit refresh-token lifetime.
const DefaultRefreshTTL = 7 * 24 * time.Hour

// DefaultMaxSessions is the per-user+entity session cap. The cap is soft:
// the count check and the eviction run as separate statements, so a small
// transient overshoot under extreme concurrency is tolerated.
const DefaultMaxSessions = 5

// Service implements the refresh-session lifecycle: login, refresh with
// rotation, logout, session enumeration and revocation.
type Service struct {
	authn    *Authenticator
	users    UserStore
	sessions SessionStore
	codec    *Codec

	refreshTTL  time.Duration
	maxSessions int
	now         func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithRefreshTTL configures the refresh-session lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithMaxSessions configures the per-user+entity session cap.
func WithMaxSessions(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the lifecycle manager.
func NewService(authn *Authenticator, users UserStore, sessions SessionStore, codec *Codec, opts ...ServiceOption) *Service {
	s := &Service{
		authn:       authn,
		users:       users,
		sessions:    sessions,
		codec:       codec,
		refreshTTL:  DefaultRefreshTTL,
		maxSessions: DefaultMaxSessions,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TokenPair is the credential pair returned by login and refresh.
type TokenPair struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}

// LoginResult carries the token pair plus the profile fields returned to the
// client.
type LoginResult struct {
	TokenPair
	Username    string
	DisplayName string
	Roles       []string
	Method      string
}

// RefreshResult carries the rotated token pair.
type RefreshResult struct {
	TokenPair
	Username string
	Roles    []string
}

// SessionInfo is a session row plus the caller-relative current flag.
type SessionInfo struct {
	Session *Session
	Current bool
}

// HashToken computes the hex SHA-256 digest under which a plain refresh
// token is stored.
func HashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// newPlainToken generates a 256-bit opaque refresh token value.
func newPlainToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Login authenticates the credentials, enforces the session cap and returns
// a fresh token pair. When entity is non-empty the returned roles are
// filtered to that scope and the entity must exist.
func (s *Service) Login(ctx context.Context, username, password, entity string, meta ClientMeta) (*LoginResult, error) {
	user, assignments, method, err := s.authn.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			obs.LoginsTotal.WithLabelValues("failure", "none").Inc()
		}
		return nil, err
	}

	if entity != "" {
		exists, err := s.users.EntityExists(ctx, entity)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrEntityNotFound
		}
	}

	roles := ActiveRoles(assignments, entity)
	now := s.now().UTC()

	if err := s.enforceSessionCap(ctx, user.Username, entity, now); err != nil {
		return nil, err
	}

	access, accessExp, err := s.codec.Issue(user.Username, roles, entity)
	if err != nil {
		return nil, err
	}

	// Persist last: a failure past this point cannot strand a session the
	// caller never received.
	plain, sess, err := s.newSession(user.Username, entity, CreatedByLogin, meta, now)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	obs.LoginsTotal.WithLabelValues("success", method).Inc()
	obs.Event("auth.login", map[string]any{
		"username": user.Username,
		"entity":   entity,
		"method":   method,
		"session":  sess.ID,
	})

	return &LoginResult{
		TokenPair: TokenPair{
			AccessToken:     access,
			RefreshToken:    plain,
			AccessExpiresAt: accessExp,
		},
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Roles:       roles,
		Method:      method,
	}, nil
}

// enforceSessionCap revokes the oldest active session when the user+entity
// scope is at or over the configured maximum. Auto-eviction, not an error.
func (s *Service) enforceSessionCap(ctx context.Context, username, entity string, now time.Time) error {
	count, err := s.sessions.CountActive(ctx, username, entity, now)
	if err != nil {
		return err
	}
	if count < s.maxSessions {
		return nil
	}
	oldest, err := s.sessions.OldestActive(ctx, username, entity, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.sessions.Revoke(ctx, oldest.ID, now); err != nil {
		return err
	}
	obs.SessionEvictionsTotal.Inc()
	obs.Event("auth.session_evicted", map[string]any{
		"username": username,
		"entity":   entity,
		"session":  oldest.ID,
	})
	return nil
}

func (s *Service) newSession(username, entity, createdBy string, meta ClientMeta, now time.Time) (string, *Session, error) {
	plain, err := newPlainToken()
	if err != nil {
		return "", nil, err
	}
	return plain, &Session{
		ID:        ids.New(),
		TokenHash: HashToken(plain),
		Username:  username,
		Entity:    entity,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedBy: createdBy,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Device:    meta.DeviceLabel(),
	}, nil
}

// Refresh rotates the presented refresh session and issues a new token pair
// with freshly resolved roles. The presented token is permanently unusable
// afterwards, including on retry.
func (s *Service) Refresh(ctx context.Context, plainToken string, meta ClientMeta) (*RefreshResult, error) {
	now := s.now().UTC()

	sess, err := s.sessions.LookupByHash(ctx, HashToken(plainToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.RefreshesTotal.WithLabelValues("invalid").Inc()
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	if !sess.ActiveAt(now) {
		if sess.Revoked {
			// A revoked session presented again is a replay: either a stolen
			// token or a client retrying a completed rotation.
			obs.Event("auth.refresh_replay", map[string]any{
				"username": sess.Username,
				"session":  sess.ID,
			})
		}
		obs.RefreshesTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidRefreshToken
	}

	// Blocks access immediately upon deactivation, even while the session
	// itself is still technically valid.
	user, err := s.users.FindByUsername(ctx, sess.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.RefreshesTotal.WithLabelValues("invalid").Inc()
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	if !user.Active() {
		obs.RefreshesTotal.WithLabelValues("inactive").Inc()
		return nil, ErrAccountInactive
	}

	if err := s.sessions.TouchLastUsed(ctx, sess.ID, now); err != nil {
		return nil, err
	}

	assignments, err := s.users.Assignments(ctx, sess.Username)
	if err != nil {
		return nil, err
	}
	roles := ActiveRoles(assignments, sess.Entity)

	access, accessExp, err := s.codec.Issue(sess.Username, roles, sess.Entity)
	if err != nil {
		return nil, err
	}

	plain, replacement, err := s.newSession(sess.Username, sess.Entity, CreatedByRefresh, meta, now)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Rotate(ctx, sess.ID, now, replacement); err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			obs.RefreshesTotal.WithLabelValues("invalid").Inc()
		}
		return nil, err
	}

	obs.RefreshesTotal.WithLabelValues("success").Inc()
	return &RefreshResult{
		TokenPair: TokenPair{
			AccessToken:     access,
			RefreshToken:    plain,
			AccessExpiresAt: accessExp,
		},
		Username: sess.Username,
		Roles:    roles,
	}, nil
}

// Logout revokes the session behind the presented refresh token. Idempotent:
// unknown and already-revoked tokens succeed, leaking nothing to the caller.
func (s *Service) Logout(ctx context.Context, plainToken string) error {
	return s.sessions.RevokeByHash(ctx, HashToken(plainToken), s.now().UTC())
}

// LogoutAll revokes every active session of the user, optionally limited to
// one entity scope.
func (s *Service) LogoutAll(ctx context.Context, username, entity string) error {
	username = NormalizeUsername(username)
	n, err := s.sessions.RevokeAllForUser(ctx, username, entity, s.now().UTC())
	if err != nil {
		return err
	}
	obs.Event("auth.logout_all", map[string]any{
		"username": username,
		"entity":   entity,
		"revoked":  n,
	})
	return nil
}

// Sessions lists the user's active sessions. The session matching the
// presented refresh token, if any, is flagged current.
func (s *Service) Sessions(ctx context.Context, username, presentedToken string) ([]SessionInfo, error) {
	list, err := s.sessions.ListActive(ctx, NormalizeUsername(username), s.now().UTC())
	if err != nil {
		return nil, err
	}
	currentHash := ""
	if presentedToken != "" {
		currentHash = HashToken(presentedToken)
	}
	res := make([]SessionInfo, 0, len(list))
	for _, sess := range list {
		res = append(res, SessionInfo{
			Session: sess,
			Current: currentHash != "" && sess.TokenHash == currentHash,
		})
	}
	return res, nil
}

// AllSessions lists every session in the store. Administrative use only; the
// transport layer gates it behind a role check.
func (s *Service) AllSessions(ctx context.Context) ([]SessionInfo, error) {
	list, err := s.sessions.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]SessionInfo, 0, len(list))
	for _, sess := range list {
		res = append(res, SessionInfo{Session: sess})
	}
	return res, nil
}

// RevokeSession revokes a session by id on behalf of its owner. Ownership
// mismatch is ErrUnauthorizedSessionAccess.
func (s *Service) RevokeSession(ctx context.Context, caller Principal, sessionID string) error {
	sess, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if sess.Username != NormalizeUsername(caller.Username) {
		return ErrUnauthorizedSessionAccess
	}
	return s.sessions.Revoke(ctx, sess.ID, s.now().UTC())
}

// AdminRevokeSession revokes any session by id, skipping the ownership
// check. The transport layer gates it behind a role check.
func (s *Service) AdminRevokeSession(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return s.sessions.Revoke(ctx, sess.ID, s.now().UTC())
}

// ValidateAccess verifies an access token. Pure; never touches storage.
func (s *Service) ValidateAccess(token string) (*Claims, error) {
	return s.codec.Validate(token)
}
