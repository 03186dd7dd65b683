// Package migrate executes SQL migration files stored on disk, tracking
// applied files in a bookkeeping table.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const defaultMigrationsTable = "schema_migrations"

// Manager applies SQL migrations in lexical filename order.
type Manager struct {
	db            *sql.DB
	migrationsDir string
	table         string
}

// NewManager constructs a Manager over the given directory of .sql files.
func NewManager(db *sql.DB, migrationsDir string) *Manager {
	return &Manager{
		db:            db,
		migrationsDir: migrationsDir,
		table:         defaultMigrationsTable,
	}
}

func (m *Manager) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(
		`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, m.table))
	return err
}

func (m *Manager) listFiles() ([]string, error) {
	entries, err := os.ReadDir(m.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("migrate: read dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (m *Manager) applied(ctx context.Context) (map[string]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s`, m.table))
	if err != nil {
		return nil, fmt.Errorf("migrate: list applied: %w", err)
	}
	defer rows.Close()

	res := make(map[string]time.Time)
	for rows.Next() {
		var (
			name string
			at   time.Time
		)
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		res[name] = at
	}
	return res, rows.Err()
}

// Up applies every pending migration, each in its own transaction.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return fmt.Errorf("migrate: ensure table: %w", err)
	}
	names, err := m.listFiles()
	if err != nil {
		return err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		if _, ok := done[name]; ok {
			continue
		}
		body, err := os.ReadFile(filepath.Join(m.migrationsDir, name))
		if err != nil {
			return fmt.Errorf("migrate: read %s: %w", name, err)
		}
		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate: begin %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate: apply %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`insert into %s (name) values ($1)`, m.table), name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate: record %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate: commit %s: %w", name, err)
		}
	}
	return nil
}

// Status returns one line per known migration with its applied state.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("migrate: ensure table: %w", err)
	}
	names, err := m.listFiles()
	if err != nil {
		return nil, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, name := range names {
		if at, ok := done[name]; ok {
			lines = append(lines, fmt.Sprintf("applied  %s  %s", name, at.UTC().Format(time.RFC3339)))
		} else {
			lines = append(lines, fmt.Sprintf("pending  %s", name))
		}
	}
	return lines, nil
}
