package store

import (
	"context"
	"database/sql"

	"github.com/qpackt/qpackt/internal/qpackterr"
)

// ReverseProxyRule maps a path prefix to a full upstream target URL,
// matched ahead of version-strategy dispatch.
type ReverseProxyRule struct {
	ID     int64
	Prefix string
	Target string
}

// ListReverseProxyRules returns all rules ordered by prefix descending, so
// the longest/most-specific prefixes are scanned first.
func (s *Store) ListReverseProxyRules(ctx context.Context) ([]ReverseProxyRule, error) {
	rows, err := s.ro.QueryContext(ctx, `SELECT id, prefix, target FROM reverse_proxy ORDER BY prefix DESC`)
	if err != nil {
		return nil, qpackterr.Wrap(qpackterr.Database, "listing reverse proxy rules", err)
	}
	defer rows.Close()

	var rules []ReverseProxyRule
	for rows.Next() {
		var r ReverseProxyRule
		if err := rows.Scan(&r.ID, &r.Prefix, &r.Target); err != nil {
			return nil, qpackterr.Wrap(qpackterr.Database, "scanning reverse proxy row", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, qpackterr.Wrap(qpackterr.Database, "iterating reverse proxy rows", err)
	}
	return rules, nil
}

// CreateReverseProxyRule inserts a new prefix -> target rule.
func (s *Store) CreateReverseProxyRule(ctx context.Context, prefix, target string) error {
	return s.withWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `INSERT INTO reverse_proxy (prefix, target) VALUES (?, ?)`, prefix, target)
		if err != nil {
			return qpackterr.Wrap(qpackterr.Database, "creating reverse proxy rule", err)
		}
		return nil
	})
}

// DeleteReverseProxyRule removes the rule with the given id.
func (s *Store) DeleteReverseProxyRule(ctx context.Context, id int64) error {
	return s.withWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM reverse_proxy WHERE id = ?`, id)
		if err != nil {
			return qpackterr.Wrap(qpackterr.Database, "deleting reverse proxy rule", err)
		}
		return nil
	})
}
