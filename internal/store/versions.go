package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/qpackt/qpackt/internal/qpackterr"
	"github.com/qpackt/qpackt/internal/strategy"
)

// Version is a deployed site version as persisted in the store.
type Version struct {
	Name     string
	WebRoot  string
	Strategy strategy.Strategy
}

// RegisterVersion inserts a new version row.
func (s *Store) RegisterVersion(ctx context.Context, v Version) error {
	raw, err := json.Marshal(v.Strategy)
	if err != nil {
		return qpackterr.Wrap(qpackterr.Serialization, "encoding strategy", err)
	}
	return s.withWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO versions (name, web_root, strategy) VALUES (?, ?, ?)`,
			v.Name, v.WebRoot, string(raw))
		if err != nil {
			return qpackterr.Wrap(qpackterr.Database, "registering version", err)
		}
		return nil
	})
}

// DeleteVersion removes the version row and returns its web_root so the
// caller can remove the extracted files and stop its file-server task.
func (s *Store) DeleteVersion(ctx context.Context, name string) (string, error) {
	var webRoot string
	err := s.withWrite(func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT web_root FROM versions WHERE name = ?`, name)
		if err := row.Scan(&webRoot); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return qpackterr.New(qpackterr.SiteProcessing, "no such version: "+name)
			}
			return qpackterr.Wrap(qpackterr.Database, "reading version before delete", err)
		}
		if _, err := db.ExecContext(ctx, `DELETE FROM versions WHERE name = ?`, name); err != nil {
			return qpackterr.Wrap(qpackterr.Database, "deleting version", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return webRoot, nil
}

// ListVersions returns every version in alphabetical name order.
func (s *Store) ListVersions(ctx context.Context) ([]Version, error) {
	rows, err := s.ro.QueryContext(ctx, `SELECT name, web_root, strategy FROM versions ORDER BY name`)
	if err != nil {
		return nil, qpackterr.Wrap(qpackterr.Database, "listing versions", err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var v Version
		var rawStrategy string
		if err := rows.Scan(&v.Name, &v.WebRoot, &rawStrategy); err != nil {
			return nil, qpackterr.Wrap(qpackterr.Database, "scanning version row", err)
		}
		if err := json.Unmarshal([]byte(rawStrategy), &v.Strategy); err != nil {
			return nil, qpackterr.Wrap(qpackterr.Serialization, "decoding strategy for version "+v.Name, err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, qpackterr.Wrap(qpackterr.Database, "iterating version rows", err)
	}
	return versions, nil
}

// SaveVersions replaces the whole versions table transactionally, used by
// the bulk strategy-update admin endpoint.
func (s *Store) SaveVersions(ctx context.Context, versions []Version) error {
	return s.withWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return qpackterr.Wrap(qpackterr.Database, "starting save-versions transaction", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM versions`); err != nil {
			_ = tx.Rollback()
			return qpackterr.Wrap(qpackterr.Database, "clearing versions", err)
		}
		for _, v := range versions {
			raw, err := json.Marshal(v.Strategy)
			if err != nil {
				_ = tx.Rollback()
				return qpackterr.Wrap(qpackterr.Serialization, "encoding strategy", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO versions (name, web_root, strategy) VALUES (?, ?, ?)`,
				v.Name, v.WebRoot, string(raw)); err != nil {
				_ = tx.Rollback()
				return qpackterr.Wrap(qpackterr.Database, "inserting version "+v.Name, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return qpackterr.Wrap(qpackterr.Database, "committing save-versions transaction", err)
		}
		return nil
	})
}
