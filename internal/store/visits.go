package store

import (
	"context"
	"database/sql"

	"github.com/qpackt/qpackt/internal/qpackterr"
	"github.com/qpackt/qpackt/internal/visitor"
)

// Visit aggregates one visitor's requests: first/last seen time and a
// running count. first_request_time is insert-only; request_count and
// last_request_time accumulate on conflict.
type Visit struct {
	FirstRequestTime int64
	LastRequestTime  int64
	RequestCount     uint32
	Visitor          visitor.Hash
	Version          string
}

// UpdateVisits upserts each visit: a new visitor row is inserted as-is; an
// existing one has its request_count incremented and last_request_time
// advanced. Version and first_request_time never change on conflict.
func (s *Store) UpdateVisits(ctx context.Context, visits []Visit) error {
	if len(visits) == 0 {
		return nil
	}
	return s.withWrite(func(db *sql.DB) error {
		for _, v := range visits {
			_, err := db.ExecContext(ctx,
				`INSERT INTO visits (visitor, first_request_time, last_request_time, request_count, version)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(visitor) DO UPDATE SET
				   request_count = request_count + excluded.request_count,
				   last_request_time = excluded.last_request_time`,
				v.Visitor.Int64(), v.FirstRequestTime, v.LastRequestTime, v.RequestCount, v.Version)
			if err != nil {
				return qpackterr.Wrap(qpackterr.Database, "updating visit", err)
			}
		}
		return nil
	})
}

// GetVisits returns every visit whose first request fell within
// [fromTS, toTS], inclusive.
func (s *Store) GetVisits(ctx context.Context, fromTS, toTS int64) ([]Visit, error) {
	rows, err := s.ro.QueryContext(ctx,
		`SELECT first_request_time, last_request_time, request_count, visitor, version
		 FROM visits WHERE first_request_time >= ? AND first_request_time <= ?`,
		fromTS, toTS)
	if err != nil {
		return nil, qpackterr.Wrap(qpackterr.Database, "querying visits", err)
	}
	defer rows.Close()

	var visits []Visit
	for rows.Next() {
		var v Visit
		var visitorRaw int64
		if err := rows.Scan(&v.FirstRequestTime, &v.LastRequestTime, &v.RequestCount, &visitorRaw, &v.Version); err != nil {
			return nil, qpackterr.Wrap(qpackterr.Database, "scanning visit row", err)
		}
		v.Visitor = visitor.FromInt64(visitorRaw)
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, qpackterr.Wrap(qpackterr.Database, "iterating visit rows", err)
	}
	return visits, nil
}
