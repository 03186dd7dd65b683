package auth

import (
	"context"
	"time"
)

// UserStore is the read-only view of the external credential store consumed
// by this subsystem.
type UserStore interface {
	// FindByUsername returns the credential record for the normalized
	// username, or ErrNotFound.
	FindByUsername(ctx context.Context, username string) (*User, error)
	// Assignments returns every role assignment of the user, active or not.
	Assignments(ctx context.Context, username string) ([]RoleAssignment, error)
	// EntityExists reports whether the entity code is known.
	EntityExists(ctx context.Context, code string) (bool, error)
}

// SessionStore persists refresh sessions. Implementations must support
// concurrent creates, reads and updates with read-committed-or-stronger
// isolation.
type SessionStore interface {
	// Create persists the session row. The caller fills every field
	// including TokenHash; the plain token value never reaches the store.
	Create(ctx context.Context, s *Session) error
	// LookupByHash returns the session with the given token hash regardless
	// of its revoked/expired state, or ErrNotFound. The lifecycle manager
	// classifies the state.
	LookupByHash(ctx context.Context, hash string) (*Session, error)
	// FindByID returns the session with the given id, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Session, error)
	// CountActive counts non-revoked, non-expired sessions for the
	// user+entity scope.
	CountActive(ctx context.Context, username, entity string, now time.Time) (int, error)
	// OldestActive returns the oldest active session by creation time for
	// the user+entity scope, or ErrNotFound when none exist.
	OldestActive(ctx context.Context, username, entity string, now time.Time) (*Session, error)
	// ListActive returns the user's active sessions ordered by creation
	// time descending.
	ListActive(ctx context.Context, username string, now time.Time) ([]*Session, error)
	// ListAll returns every non-deleted session ordered by creation time
	// descending. Administrative use.
	ListAll(ctx context.Context) ([]*Session, error)
	// Revoke marks the session revoked. Idempotent; revoking an unknown or
	// already-revoked session is not an error.
	Revoke(ctx context.Context, id string, at time.Time) error
	// RevokeByHash marks the session with the given token hash revoked.
	// Idempotent like Revoke.
	RevokeByHash(ctx context.Context, hash string, at time.Time) error
	// RevokeAllForUser revokes every active session of the user, optionally
	// limited to one entity scope. Returns the number revoked.
	RevokeAllForUser(ctx context.Context, username, entity string, at time.Time) (int, error)
	// TouchLastUsed records a successful use of the session.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	// Rotate revokes the old session and creates its replacement as one
	// atomic unit of work.
	Rotate(ctx context.Context, oldID string, at time.Time, replacement *Session) error
	// DeleteExpired removes sessions whose expiry has passed. Returns the
	// number deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	// DeleteRevokedBefore removes sessions revoked before the cutoff.
	// Returns the number deleted.
	DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
