// Package authtest provides in-memory store implementations for tests.
package authtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"gatehouse.org/internal/auth"
)

// Store is an in-memory UserStore and SessionStore. Safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	users       map[string]*auth.User
	assignments map[string][]auth.RoleAssignment
	entities    map[string]bool
	sessions    map[string]*auth.Session
}

var (
	_ auth.UserStore    = (*Store)(nil)
	_ auth.SessionStore = (*Store)(nil)
)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:       make(map[string]*auth.User),
		assignments: make(map[string][]auth.RoleAssignment),
		entities:    make(map[string]bool),
		sessions:    make(map[string]*auth.Session),
	}
}

// AddUser registers a credential record with its role assignments.
func (s *Store) AddUser(u auth.User, assignments ...auth.RoleAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Username = auth.NormalizeUsername(u.Username)
	s.users[u.Username] = &u
	s.assignments[u.Username] = assignments
}

// SetUserStatus flips the account status of an existing user.
func (s *Store) SetUserStatus(username, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[auth.NormalizeUsername(username)]; ok {
		u.Status = status
	}
}

// AddEntity registers an entity code.
func (s *Store) AddEntity(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[code] = true
}

// Session returns a copy of the stored session, or nil.
func (s *Store) Session(id string) *auth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		cp := *sess
		return &cp
	}
	return nil
}

// SessionCount returns the total number of stored rows, terminal or not.
func (s *Store) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[auth.NormalizeUsername(username)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) Assignments(_ context.Context, username string) ([]auth.RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auth.RoleAssignment(nil), s.assignments[auth.NormalizeUsername(username)]...), nil
}

func (s *Store) EntityExists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entities[code], nil
}

func (s *Store) Create(_ context.Context, sess *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) LookupByHash(_ context.Context, hash string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.TokenHash == hash {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *Store) FindByID(_ context.Context, id string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) CountActive(_ context.Context, username, entity string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Username == username && sess.Entity == entity && sess.ActiveAt(now) {
			n++
		}
	}
	return n, nil
}

func (s *Store) OldestActive(_ context.Context, username, entity string, now time.Time) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *auth.Session
	for _, sess := range s.sessions {
		if sess.Username != username || sess.Entity != entity || !sess.ActiveAt(now) {
			continue
		}
		if oldest == nil || sess.CreatedAt.Before(oldest.CreatedAt) {
			oldest = sess
		}
	}
	if oldest == nil {
		return nil, auth.ErrNotFound
	}
	cp := *oldest
	return &cp, nil
}

func (s *Store) ListActive(_ context.Context, username string, now time.Time) ([]*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*auth.Session
	for _, sess := range s.sessions {
		if sess.Username == username && sess.ActiveAt(now) {
			cp := *sess
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *Store) ListAll(_ context.Context) ([]*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*auth.Session
	for _, sess := range s.sessions {
		cp := *sess
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *Store) Revoke(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeLocked(id, at)
	return nil
}

func (s *Store) revokeLocked(id string, at time.Time) bool {
	sess, ok := s.sessions[id]
	if !ok || sess.Revoked {
		return false
	}
	sess.Revoked = true
	t := at
	sess.RevokedAt = &t
	return true
}

func (s *Store) RevokeByHash(_ context.Context, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.TokenHash == hash {
			s.revokeLocked(id, at)
			return nil
		}
	}
	return nil
}

func (s *Store) RevokeAllForUser(_ context.Context, username, entity string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.Username != username {
			continue
		}
		if entity != "" && sess.Entity != entity {
			continue
		}
		if s.revokeLocked(id, at) {
			n++
		}
	}
	return n, nil
}

func (s *Store) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		t := at
		sess.LastUsedAt = &t
	}
	return nil
}

func (s *Store) Rotate(_ context.Context, oldID string, at time.Time, replacement *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.revokeLocked(oldID, at) {
		return auth.ErrInvalidRefreshToken
	}
	cp := *replacement
	s.sessions[replacement.ID] = &cp
	return nil
}

func (s *Store) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteRevokedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.Revoked && sess.RevokedAt != nil && sess.RevokedAt.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}
