package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"gatehouse.org/internal/obs"
)

// Authenticator verifies credentials against the directory service when one
// is configured, falling back to the local credential store. The directory
// is a nil-able dependency injected at construction; when absent only the
// local strategy runs.
type Authenticator struct {
	users     UserStore
	directory DirectoryAuthenticator
}

// NewAuthenticator constructs the dual-strategy authenticator. directory may
// be nil.
func NewAuthenticator(users UserStore, directory DirectoryAuthenticator) *Authenticator {
	return &Authenticator{users: users, directory: directory}
}

// Authenticate validates the credentials and returns the credential record
// with its role assignments and the method that succeeded. Every failure
// maps to ErrInvalidCredentials; the two strategies' failure reasons are
// never distinguished to the caller.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*User, []RoleAssignment, string, error) {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return nil, nil, "", ErrInvalidCredentials
	}

	method := MethodLocal
	if a.directory != nil {
		switch err := a.directory.Authenticate(ctx, username, password); {
		case err == nil:
			method = MethodDirectory
		case errors.Is(err, ErrInvalidCredentials):
			// Wrong directory credentials still fall through to local.
		default:
			// Connectivity failures degrade to the local strategy and are
			// never surfaced to the caller.
			obs.Event("auth.directory_unavailable", map[string]any{"error": err.Error()})
		}
	}

	user, assignments, err := a.lookup(ctx, username)
	if err != nil {
		return nil, nil, "", err
	}

	if method == MethodDirectory {
		return user, assignments, method, nil
	}

	if user.PasswordHash == "" {
		// Directory-only account with the directory unavailable or not
		// configured. Burn a comparison so the timing matches the failure
		// path below.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, nil, "", ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, nil, "", ErrInvalidCredentials
	}
	return user, assignments, MethodLocal, nil
}

func (a *Authenticator) lookup(ctx context.Context, username string) (*User, []RoleAssignment, error) {
	user, err := a.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte("missing"))
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("auth: lookup user: %w", err)
	}
	if !user.Active() {
		return nil, nil, ErrInvalidCredentials
	}
	assignments, err := a.users.Assignments(ctx, username)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: resolve assignments: %w", err)
	}
	return user, assignments, nil
}

// dummyHash keeps the unknown-user path on the same bcrypt cost as a real
// comparison.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("gatehouse-dummy"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}()
