package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	_ UserStore    = (*PGUserStore)(nil)
	_ SessionStore = (*PGSessionStore)(nil)
)

// PGUserStore reads credential records from PostgreSQL.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

func (s *PGUserStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select username, display_name, email, coalesce(password_hash, ''), status, created_at, updated_at
		   from users where username = $1`, NormalizeUsername(username))
	var u User
	if err := row.Scan(&u.Username, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth: find user: %w", err)
	}
	return &u, nil
}

func (s *PGUserStore) Assignments(ctx context.Context, username string) ([]RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`select r.name, ur.entity_code, ur.status
		   from user_roles ur
		   join roles r on r.id = ur.role_id
		  where ur.username = $1
		  order by r.name asc`, NormalizeUsername(username))
	if err != nil {
		return nil, fmt.Errorf("auth: list assignments: %w", err)
	}
	defer rows.Close()

	var res []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		if err := rows.Scan(&a.Role, &a.Entity, &a.Status); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *PGUserStore) EntityExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from entities where code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("auth: entity lookup: %w", err)
	}
	return exists, nil
}

// PGSessionStore persists refresh sessions in PostgreSQL.
type PGSessionStore struct {
	db *sql.DB
}

func NewPGSessionStore(db *sql.DB) *PGSessionStore {
	return &PGSessionStore{db: db}
}

const sessionColumns = `id, token_hash, username, entity_code, created_at, expires_at,
	last_used_at, revoked, revoked_at, created_by, ip, user_agent, device`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var (
		s          Session
		lastUsedAt sql.NullTime
		revokedAt  sql.NullTime
	)
	err := row.Scan(&s.ID, &s.TokenHash, &s.Username, &s.Entity, &s.CreatedAt, &s.ExpiresAt,
		&lastUsedAt, &s.Revoked, &revokedAt, &s.CreatedBy, &s.IP, &s.UserAgent, &s.Device)
	if err != nil {
		return nil, err
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		s.LastUsedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	return &s, nil
}

func (s *PGSessionStore) Create(ctx context.Context, sess *Session) error {
	return createSession(ctx, s.db, sess)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func createSession(ctx context.Context, db execer, sess *Session) error {
	_, err := db.ExecContext(ctx,
		`insert into sessions (id, token_hash, username, entity_code, created_at, expires_at,
		        revoked, created_by, ip, user_agent, device)
		 values ($1,$2,$3,$4,$5,$6,false,$7,$8,$9,$10)`,
		sess.ID, sess.TokenHash, sess.Username, sess.Entity, sess.CreatedAt, sess.ExpiresAt,
		sess.CreatedBy, sess.IP, sess.UserAgent, sess.Device)
	if err != nil {
		return fmt.Errorf("auth: create session: %w", err)
	}
	return nil
}

func (s *PGSessionStore) LookupByHash(ctx context.Context, hash string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where token_hash = $1`, hash)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth: lookup session: %w", err)
	}
	return sess, nil
}

func (s *PGSessionStore) FindByID(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where id = $1`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth: find session: %w", err)
	}
	return sess, nil
}

func (s *PGSessionStore) CountActive(ctx context.Context, username, entity string, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from sessions
		  where username = $1 and entity_code = $2 and revoked = false and expires_at > $3`,
		username, entity, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("auth: count sessions: %w", err)
	}
	return n, nil
}

func (s *PGSessionStore) OldestActive(ctx context.Context, username, entity string, now time.Time) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions
		  where username = $1 and entity_code = $2 and revoked = false and expires_at > $3
		  order by created_at asc limit 1`,
		username, entity, now)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth: oldest session: %w", err)
	}
	return sess, nil
}

func (s *PGSessionStore) ListActive(ctx context.Context, username string, now time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions
		  where username = $1 and revoked = false and expires_at > $2
		  order by created_at desc`,
		username, now)
	if err != nil {
		return nil, fmt.Errorf("auth: list sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *PGSessionStore) ListAll(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions order by created_at desc`)
	if err != nil {
		return nil, fmt.Errorf("auth: list all sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]*Session, error) {
	var res []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sess)
	}
	return res, rows.Err()
}

func (s *PGSessionStore) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set revoked = true, revoked_at = $2
		  where id = $1 and revoked = false`, id, at)
	if err != nil {
		return fmt.Errorf("auth: revoke session: %w", err)
	}
	return nil
}

func (s *PGSessionStore) RevokeByHash(ctx context.Context, hash string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set revoked = true, revoked_at = $2
		  where token_hash = $1 and revoked = false`, hash, at)
	if err != nil {
		return fmt.Errorf("auth: revoke session by hash: %w", err)
	}
	return nil
}

func (s *PGSessionStore) RevokeAllForUser(ctx context.Context, username, entity string, at time.Time) (int, error) {
	query := `update sessions set revoked = true, revoked_at = $2
		  where username = $1 and revoked = false`
	args := []any{username, at}
	if entity != "" {
		query += ` and entity_code = $3`
		args = append(args, entity)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("auth: revoke all sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PGSessionStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set last_used_at = $2 where id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("auth: touch session: %w", err)
	}
	return nil
}

// Rotate revokes the presented session and inserts its replacement in a
// single transaction, so a crash mid-rotation can never leave both usable.
func (s *PGSessionStore) Rotate(ctx context.Context, oldID string, at time.Time, replacement *Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("auth: rotate session: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`update sessions set revoked = true, revoked_at = $2
		  where id = $1 and revoked = false`, oldID, at)
	if err != nil {
		return fmt.Errorf("auth: rotate session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race to a concurrent refresh with the same token.
		return ErrInvalidRefreshToken
	}
	if err := createSession(ctx, tx, replacement); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("auth: rotate session: %w", err)
	}
	return nil
}

func (s *PGSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from sessions where expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("auth: delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *PGSessionStore) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from sessions where revoked = true and revoked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("auth: delete revoked sessions: %w", err)
	}
	return res.RowsAffected()
}
