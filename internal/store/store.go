// Package store is qpackt's embedded persistence layer: one SQLite file
// under the run directory, reached through a read-write connection (writes
// serialize through an in-process mutex, since SQLite allows only one
// writer) and a separate read-only connection for concurrent readers.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/qpackt/qpackt/internal/applog"
	"github.com/qpackt/qpackt/internal/qpackterr"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store is qpackt's handle onto the SQLite file. Safe for concurrent use.
type Store struct {
	rw   *sql.DB
	ro   *sql.DB
	wmu  sync.Mutex
}

// Open opens (creating if necessary) the SQLite file at path and runs any
// pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	rwDSN := fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(5000)", path)
	roDSN := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)

	rw, err := sql.Open("sqlite", rwDSN)
	if err != nil {
		return nil, qpackterr.Wrap(qpackterr.Database, "opening read-write connection", err)
	}
	rw.SetMaxOpenConns(1)

	s := &Store{rw: rw}
	if err := s.migrate(ctx); err != nil {
		_ = rw.Close()
		return nil, err
	}

	ro, err := sql.Open("sqlite", roDSN)
	if err != nil {
		_ = rw.Close()
		return nil, qpackterr.Wrap(qpackterr.Database, "opening read-only connection", err)
	}
	s.ro = ro
	return s, nil
}

// Close releases both underlying connections.
func (s *Store) Close() error {
	roErr := s.ro.Close()
	rwErr := s.rw.Close()
	if rwErr != nil {
		return qpackterr.Wrap(qpackterr.Database, "closing read-write connection", rwErr)
	}
	if roErr != nil {
		return qpackterr.Wrap(qpackterr.Database, "closing read-only connection", roErr)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return qpackterr.Wrap(qpackterr.IO, "reading embedded migrations", err)
	}
	if _, err := s.rw.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY)`); err != nil {
		return qpackterr.Wrap(qpackterr.Database, "creating schema_migrations table", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var applied int
		row := s.rw.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, name)
		if err := row.Scan(&applied); err != nil {
			return qpackterr.Wrap(qpackterr.Database, "checking applied migrations", err)
		}
		if applied > 0 {
			continue
		}
		contents, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return qpackterr.Wrap(qpackterr.IO, "reading migration "+name, err)
		}
		applog.Info("applying migration %s", name)
		tx, err := s.rw.BeginTx(ctx, nil)
		if err != nil {
			return qpackterr.Wrap(qpackterr.Database, "starting migration transaction", err)
		}
		if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
			_ = tx.Rollback()
			return qpackterr.Wrap(qpackterr.Database, "applying migration "+name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES (?)`, name); err != nil {
			_ = tx.Rollback()
			return qpackterr.Wrap(qpackterr.Database, "recording migration "+name, err)
		}
		if err := tx.Commit(); err != nil {
			return qpackterr.Wrap(qpackterr.Database, "committing migration "+name, err)
		}
	}
	return nil
}

// withWrite serializes access to the single read-write connection; SQLite
// rejects concurrent writers outright, so the mutex matters more than
// sql.DB's own pool bookkeeping (capped at one open connection above).
func (s *Store) withWrite(fn func(*sql.DB) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return fn(s.rw)
}
