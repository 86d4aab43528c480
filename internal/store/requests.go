package store

import (
	"context"
	"database/sql"

	"github.com/qpackt/qpackt/internal/qpackterr"
	"github.com/qpackt/qpackt/internal/visitor"
)

// RequestLog is one served HTTP request, batched by internal/writer before
// it reaches the store.
type RequestLog struct {
	Time    int64 // unix seconds
	Visitor visitor.Hash
	Version string
	URI     string
}

// SaveRequests inserts each log row with a raw, non-transactional INSERT —
// phase A of the batch flush; phase B (visit aggregation) runs separately
// in internal/writer against the same rows.
func (s *Store) SaveRequests(ctx context.Context, requests []RequestLog) error {
	if len(requests) == 0 {
		return nil
	}
	return s.withWrite(func(db *sql.DB) error {
		for _, r := range requests {
			_, err := db.ExecContext(ctx,
				`INSERT INTO requests (time, visitor, version, uri) VALUES (?, ?, ?, ?)`,
				r.Time, r.Visitor.Int64(), r.Version, r.URI)
			if err != nil {
				return qpackterr.Wrap(qpackterr.Database, "saving request log", err)
			}
		}
		return nil
	})
}
