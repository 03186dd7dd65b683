package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubUserStore struct {
	users       map[string]*User
	assignments map[string][]RoleAssignment
}

func (s *stubUserStore) FindByUsername(_ context.Context, username string) (*User, error) {
	u, ok := s.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (s *stubUserStore) Assignments(_ context.Context, username string) ([]RoleAssignment, error) {
	return s.assignments[username], nil
}

func (s *stubUserStore) EntityExists(context.Context, string) (bool, error) { return true, nil }

type stubDirectory struct {
	err   error
	calls int
}

func (d *stubDirectory) Authenticate(context.Context, string, string) error {
	d.calls++
	return d.err
}

func newStubUsers(t *testing.T) *stubUserStore {
	t.Helper()
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	return &stubUserStore{
		users: map[string]*User{
			"alice": {Username: "alice", PasswordHash: hash, Status: StatusActive},
			"bob":   {Username: "bob", PasswordHash: hash, Status: StatusInactive},
			"carol": {Username: "carol", Status: StatusActive}, // directory-only
		},
		assignments: map[string][]RoleAssignment{
			"alice": {
				{Role: "admin", Entity: "APP001", Status: StatusActive},
				{Role: "viewer", Entity: "APP002", Status: StatusInactive},
			},
		},
	}
}

func TestAuthenticateLocal(t *testing.T) {
	authn := NewAuthenticator(newStubUsers(t), nil)

	user, assignments, method, err := authn.Authenticate(context.Background(), "Alice", "correct horse")
	require.NoError(t, err)
	require.Equal(t, MethodLocal, method)
	require.Equal(t, "alice", user.Username)
	require.Len(t, assignments, 2)
}

func TestAuthenticateLocalFailures(t *testing.T) {
	authn := NewAuthenticator(newStubUsers(t), nil)
	ctx := context.Background()

	cases := []struct {
		name               string
		username, password string
	}{
		{"wrong password", "alice", "wrong"},
		{"unknown user", "nobody", "correct horse"},
		{"inactive account", "bob", "correct horse"},
		{"directory-only account without directory", "carol", "correct horse"},
		{"empty password", "alice", ""},
		{"empty username", "", "correct horse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, err := authn.Authenticate(ctx, tc.username, tc.password)
			require.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestAuthenticateDirectorySuccessResolvesLocalRoles(t *testing.T) {
	dir := &stubDirectory{}
	authn := NewAuthenticator(newStubUsers(t), dir)

	user, assignments, method, err := authn.Authenticate(context.Background(), "alice", "directory password")
	require.NoError(t, err)
	require.Equal(t, MethodDirectory, method)
	require.Equal(t, 1, dir.calls)
	// Roles come from the credential store even when the directory
	// authenticated the user.
	require.Equal(t, "alice", user.Username)
	require.Len(t, assignments, 2)
}

func TestAuthenticateDirectoryFailureFallsBackToLocal(t *testing.T) {
	dir := &stubDirectory{err: ErrInvalidCredentials}
	authn := NewAuthenticator(newStubUsers(t), dir)

	_, _, method, err := authn.Authenticate(context.Background(), "alice", "correct horse")
	require.NoError(t, err)
	require.Equal(t, MethodLocal, method)
}

func TestAuthenticateDirectoryUnavailableFallsBackToLocal(t *testing.T) {
	dir := &stubDirectory{err: errors.New("dial tcp: connection refused")}
	authn := NewAuthenticator(newStubUsers(t), dir)

	_, _, method, err := authn.Authenticate(context.Background(), "alice", "correct horse")
	require.NoError(t, err)
	require.Equal(t, MethodLocal, method)
}

func TestAuthenticateBothStrategiesFail(t *testing.T) {
	dir := &stubDirectory{err: ErrInvalidCredentials}
	authn := NewAuthenticator(newStubUsers(t), dir)

	_, _, _, err := authn.Authenticate(context.Background(), "alice", "wrong everywhere")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateDirectorySuccessUnknownLocalUser(t *testing.T) {
	dir := &stubDirectory{}
	authn := NewAuthenticator(newStubUsers(t), dir)

	// The directory supplies identity only; a user without a credential
	// record cannot authenticate.
	_, _, _, err := authn.Authenticate(context.Background(), "ghost", "directory password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateDirectorySuccessInactiveLocalUser(t *testing.T) {
	dir := &stubDirectory{}
	authn := NewAuthenticator(newStubUsers(t), dir)

	_, _, _, err := authn.Authenticate(context.Background(), "bob", "directory password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestActiveRoles(t *testing.T) {
	assignments := []RoleAssignment{
		{Role: "admin", Entity: "APP001", Status: StatusActive},
		{Role: "viewer", Entity: "APP002", Status: StatusActive},
		{Role: "admin", Entity: "APP002", Status: StatusActive},
		{Role: "auditor", Entity: "APP001", Status: StatusInactive},
	}

	require.ElementsMatch(t, []string{"admin", "viewer"}, ActiveRoles(assignments, ""))
	require.Equal(t, []string{"admin"}, ActiveRoles(assignments, "APP001"))
	require.ElementsMatch(t, []string{"viewer", "admin"}, ActiveRoles(assignments, "APP002"))
	require.Empty(t, ActiveRoles(assignments, "APP999"))
}

func TestDeviceLabel(t *testing.T) {
	cases := map[string]string{
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)": "ios",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8)":               "android",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64)":              "windows",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)":        "macos",
		"curl/8.4.0": "cli",
		"":           "unknown",
	}
	for ua, want := range cases {
		require.Equal(t, want, ClientMeta{UserAgent: ua}.DeviceLabel(), "ua %q", ua)
	}
}

func TestLDAPAuthenticatorRejectsEmptyPassword(t *testing.T) {
	a, err := NewLDAPAuthenticator("ldap://ldap.example.org", "uid=%s,dc=example,dc=org", time.Second)
	require.NoError(t, err)
	a.dial = func(context.Context) (ldapConn, error) {
		t.Fatal("dial must not be reached for an empty password")
		return nil, nil
	}

	err = a.Authenticate(context.Background(), "alice", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLDAPAuthenticatorRejectsDNInjection(t *testing.T) {
	a, err := NewLDAPAuthenticator("ldap://ldap.example.org", "uid=%s,dc=example,dc=org", time.Second)
	require.NoError(t, err)
	a.dial = func(context.Context) (ldapConn, error) {
		t.Fatal("dial must not be reached for a malformed username")
		return nil, nil
	}

	err = a.Authenticate(context.Background(), "alice,ou=admins", "secret")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestNewLDAPAuthenticatorValidation(t *testing.T) {
	_, err := NewLDAPAuthenticator("", "uid=%s", time.Second)
	require.Error(t, err)
	_, err = NewLDAPAuthenticator("ldap://x", "uid=fixed", time.Second)
	require.Error(t, err)
}
