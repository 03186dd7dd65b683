package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/auth/authtest"
)

const (
	testEntity   = "APP001"
	testPassword = "correct horse"
)

func newTestService(t *testing.T, opts ...auth.ServiceOption) (*auth.Service, *authtest.Store) {
	t.Helper()
	store := authtest.NewStore()
	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	store.AddUser(
		auth.User{Username: "alice", DisplayName: "Alice Liddell", Status: auth.StatusActive, PasswordHash: hash},
		auth.RoleAssignment{Role: "admin", Entity: testEntity, Status: auth.StatusActive},
		auth.RoleAssignment{Role: "viewer", Entity: "APP002", Status: auth.StatusActive},
	)
	store.AddEntity(testEntity)
	store.AddEntity("APP002")

	codec, err := auth.NewCodec("unit-test-secret")
	require.NoError(t, err)
	authn := auth.NewAuthenticator(store, nil)
	return auth.NewService(authn, store, store, codec, opts...), store
}

func login(t *testing.T, svc *auth.Service, entity string) *auth.LoginResult {
	t.Helper()
	res, err := svc.Login(context.Background(), "alice", testPassword, entity, auth.ClientMeta{IP: "10.0.0.1", UserAgent: "curl/8.4.0"})
	require.NoError(t, err)
	return res
}

func TestLoginIssuesTokenPair(t *testing.T) {
	svc, store := newTestService(t)

	res := login(t, svc, testEntity)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	require.Equal(t, "alice", res.Username)
	require.Equal(t, "Alice Liddell", res.DisplayName)
	require.Equal(t, []string{"admin"}, res.Roles)
	require.Equal(t, auth.MethodLocal, res.Method)

	claims, err := svc.ValidateAccess(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)
	require.Equal(t, []string{"admin"}, claims.Roles)
	require.Equal(t, testEntity, claims.Entity)

	// Exactly one session row, hashed, with client metadata.
	sessions, err := svc.Sessions(context.Background(), "alice", res.RefreshToken)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	sess := sessions[0]
	require.True(t, sess.Current)
	require.Equal(t, auth.CreatedByLogin, sess.Session.CreatedBy)
	require.Equal(t, "10.0.0.1", sess.Session.IP)
	require.Equal(t, "cli", sess.Session.Device)
	require.NotEqual(t, res.RefreshToken, sess.Session.TokenHash)
	require.Equal(t, auth.HashToken(res.RefreshToken), sess.Session.TokenHash)
	require.Equal(t, 1, store.SessionCount())
}

func TestLoginUnknownEntity(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Login(context.Background(), "alice", testPassword, "NOPE", auth.ClientMeta{})
	require.ErrorIs(t, err, auth.ErrEntityNotFound)
}

func TestLoginBadCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Login(context.Background(), "alice", "wrong", "", auth.ClientMeta{})
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestSessionCapEvictsOldest(t *testing.T) {
	svc, store := newTestService(t, auth.WithMaxSessions(2))
	ctx := context.Background()

	first := login(t, svc, testEntity)
	time.Sleep(2 * time.Millisecond)
	login(t, svc, testEntity)
	time.Sleep(2 * time.Millisecond)
	login(t, svc, testEntity)

	sessions, err := svc.Sessions(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	// The session created by the first login is no longer active.
	_, err = svc.Refresh(ctx, first.RefreshToken, auth.ClientMeta{})
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken)

	// Eviction revokes; it never deletes rows, that is the cleaner's job.
	require.Equal(t, 3, store.SessionCount())
}

func TestSessionCapIsPerEntityScope(t *testing.T) {
	svc, _ := newTestService(t, auth.WithMaxSessions(1))
	ctx := context.Background()

	a := login(t, svc, testEntity)
	b := login(t, svc, "APP002")

	// Different scopes do not evict each other.
	_, err := svc.Refresh(ctx, a.RefreshToken, auth.ClientMeta{})
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, b.RefreshToken, auth.ClientMeta{})
	require.NoError(t, err)
}

func TestRefreshRotatesAndRejectsReplay(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res := login(t, svc, testEntity)
	sessions, err := svc.Sessions(ctx, "alice", res.RefreshToken)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	oldID := sessions[0].Session.ID

	rotated, err := svc.Refresh(ctx, res.RefreshToken, auth.ClientMeta{UserAgent: "curl/8.4.0"})
	require.NoError(t, err)
	require.Equal(t, "alice", rotated.Username)
	require.Equal(t, []string{"admin"}, rotated.Roles)
	require.NotEqual(t, res.RefreshToken, rotated.RefreshToken)

	// The presented session is revoked and carries the use that consumed it.
	old := store.Session(oldID)
	require.NotNil(t, old)
	require.True(t, old.Revoked)
	require.NotNil(t, old.LastUsedAt)

	// The presented token is permanently unusable after a successful
	// rotation, including on retry.
	_, err = svc.Refresh(ctx, res.RefreshToken, auth.ClientMeta{})
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken)

	// The replacement works, reports itself as created by refresh and has
	// never been used.
	sessions, err = svc.Sessions(ctx, "alice", rotated.RefreshToken)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, auth.CreatedByRefresh, sessions[0].Session.CreatedBy)
	require.True(t, sessions[0].Current)
	require.Nil(t, sessions[0].Session.LastUsedAt)
}

type failingSessionStore struct {
	*authtest.Store
	failCreate bool
	failRotate bool
}

func (f *failingSessionStore) Create(ctx context.Context, sess *auth.Session) error {
	if f.failCreate {
		return errors.New("insert failed")
	}
	return f.Store.Create(ctx, sess)
}

func (f *failingSessionStore) Rotate(ctx context.Context, oldID string, at time.Time, replacement *auth.Session) error {
	if f.failRotate {
		return errors.New("rotate failed")
	}
	return f.Store.Rotate(ctx, oldID, at, replacement)
}

func newFailingService(t *testing.T) (*auth.Service, *authtest.Store, *failingSessionStore) {
	t.Helper()
	store := authtest.NewStore()
	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	store.AddUser(auth.User{Username: "alice", Status: auth.StatusActive, PasswordHash: hash})

	codec, err := auth.NewCodec("unit-test-secret")
	require.NoError(t, err)
	failing := &failingSessionStore{Store: store}
	svc := auth.NewService(auth.NewAuthenticator(store, nil), store, failing, codec)
	return svc, store, failing
}

func TestLoginStoreFailureLeavesNoSession(t *testing.T) {
	svc, store, failing := newFailingService(t)
	failing.failCreate = true

	// A failed login must never leave a session the caller did not receive.
	_, err := svc.Login(context.Background(), "alice", testPassword, "", auth.ClientMeta{})
	require.Error(t, err)
	require.Equal(t, 0, store.SessionCount())
}

func TestRefreshRotateFailureLeavesNoReplacement(t *testing.T) {
	svc, store, failing := newFailingService(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, "alice", testPassword, "", auth.ClientMeta{})
	require.NoError(t, err)
	require.Equal(t, 1, store.SessionCount())

	failing.failRotate = true
	_, err = svc.Refresh(ctx, res.RefreshToken, auth.ClientMeta{})
	require.Error(t, err)
	require.Equal(t, 1, store.SessionCount())

	// The presented session survives the failed rotation and still works.
	failing.failRotate = false
	_, err = svc.Refresh(ctx, res.RefreshToken, auth.ClientMeta{})
	require.NoError(t, err)
}

func TestRefreshUnknownToken(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Refresh(context.Background(), "never-issued", auth.ClientMeta{})
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken)
}

func TestRefreshExpiredSession(t *testing.T) {
	base := time.Now().UTC()
	current := base
	svc, _ := newTestService(t,
		auth.WithRefreshTTL(time.Hour),
		auth.WithClock(func() time.Time { return current }),
	)
	ctx := context.Background()

	res := login(t, svc, testEntity)

	current = base.Add(2 * time.Hour)
	_, err := svc.Refresh(ctx, res.RefreshToken, auth.ClientMeta{})
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken)
}

func TestRefreshDeactivatedAccount(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res := login(t, svc, testEntity)
	store.SetUserStatus("alice", auth.StatusInactive)

	// Still-unexpired, unrevoked session, but the account is gone: the
	// failure is AccountInactive, not InvalidRefreshToken.
	_, err := svc.Refresh(ctx, res.RefreshToken, auth.ClientMeta{})
	require.ErrorIs(t, err, auth.ErrAccountInactive)
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res := login(t, svc, testEntity)

	require.NoError(t, svc.Logout(ctx, res.RefreshToken))
	_, err := svc.Refresh(ctx, res.RefreshToken, auth.ClientMeta{})
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken)

	// Second logout with the same token still succeeds, as does logging
	// out a token that never existed.
	require.NoError(t, svc.Logout(ctx, res.RefreshToken))
	require.NoError(t, svc.Logout(ctx, "never-issued"))
}

func TestLogoutAll(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := login(t, svc, testEntity)
	b := login(t, svc, testEntity)
	c := login(t, svc, "APP002")

	require.NoError(t, svc.LogoutAll(ctx, "alice", testEntity))

	_, err := svc.Refresh(ctx, a.RefreshToken, auth.ClientMeta{})
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken)
	_, err = svc.Refresh(ctx, b.RefreshToken, auth.ClientMeta{})
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken)
	// The other entity scope is untouched by a scoped logout-all.
	_, err = svc.Refresh(ctx, c.RefreshToken, auth.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, svc.LogoutAll(ctx, "alice", ""))
	sessions, err := svc.Sessions(ctx, "alice", "")
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestRevokeSessionOwnership(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res := login(t, svc, testEntity)
	sessions, err := svc.Sessions(ctx, "alice", res.RefreshToken)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	id := sessions[0].Session.ID

	err = svc.RevokeSession(ctx, auth.Principal{Username: "mallory"}, id)
	require.ErrorIs(t, err, auth.ErrUnauthorizedSessionAccess)

	err = svc.RevokeSession(ctx, auth.Principal{Username: "Alice"}, id)
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, res.RefreshToken, auth.ClientMeta{})
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken)

	err = svc.RevokeSession(ctx, auth.Principal{Username: "alice"}, "01HUNKNOWN00000000000000")
	require.ErrorIs(t, err, auth.ErrSessionNotFound)
}

func TestAdminRevokeSessionSkipsOwnership(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res := login(t, svc, testEntity)
	sessions, err := svc.Sessions(ctx, "alice", "")
	require.NoError(t, err)
	id := sessions[0].Session.ID

	require.NoError(t, svc.AdminRevokeSession(ctx, id))
	_, err = svc.Refresh(ctx, res.RefreshToken, auth.ClientMeta{})
	require.ErrorIs(t, err, auth.ErrInvalidRefreshToken)

	err = svc.AdminRevokeSession(ctx, "01HUNKNOWN00000000000000")
	require.ErrorIs(t, err, auth.ErrSessionNotFound)
}
