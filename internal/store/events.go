package store

import (
	"context"
	"database/sql"
	"sort"

	"github.com/qpackt/qpackt/internal/qpackterr"
	"github.com/qpackt/qpackt/internal/visitor"
)

// Event is a custom client-reported analytics event.
type Event struct {
	Time    int64
	Visitor visitor.Hash
	Version string
	Name    string
	Params  string
	Path    string
	Payload string // raw JSON text, stored as received (see DESIGN.md)
}

// SavedEvent is an Event as read back from storage, with its row id.
type SavedEvent struct {
	ID int64
	Event
}

// SaveEvents inserts each event with a raw, non-transactional INSERT.
func (s *Store) SaveEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.withWrite(func(db *sql.DB) error {
		for _, e := range events {
			_, err := db.ExecContext(ctx,
				`INSERT INTO events (time, visitor, version, name, params, path, payload) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				e.Time, e.Visitor.Int64(), e.Version, e.Name, e.Params, e.Path, e.Payload)
			if err != nil {
				return qpackterr.Wrap(qpackterr.Database, "saving event", err)
			}
		}
		return nil
	})
}

// EventStats summarizes events and visits in a time window for the admin
// analytics dashboard.
type EventStats struct {
	// TotalVisitsByVersion is the distinct-visitor count per version.
	TotalVisitsByVersion []VersionCount
	// CountByEventThenVersion maps event name -> version -> occurrence count.
	CountByEventThenVersion map[string]map[string]uint64
}

// VersionCount pairs a version name with a count, preserving the
// version-ascending order the original query returns.
type VersionCount struct {
	Version string
	Count   uint64
}

// GetEventStats aggregates distinct visit counts per version and per-event
// occurrence counts per version, both restricted to [timeFrom, timeTo).
func (s *Store) GetEventStats(ctx context.Context, timeFrom, timeTo int64) (*EventStats, error) {
	visitRows, err := s.ro.QueryContext(ctx,
		`SELECT COUNT(DISTINCT visitor) AS total_visits, version
		 FROM visits WHERE first_request_time >= ? AND first_request_time < ?
		 GROUP BY version ORDER BY version`,
		timeFrom, timeTo)
	if err != nil {
		return nil, qpackterr.Wrap(qpackterr.Database, "querying visit counts", err)
	}
	var totals []VersionCount
	for visitRows.Next() {
		var vc VersionCount
		if err := visitRows.Scan(&vc.Count, &vc.Version); err != nil {
			visitRows.Close()
			return nil, qpackterr.Wrap(qpackterr.Database, "scanning visit count row", err)
		}
		totals = append(totals, vc)
	}
	if err := visitRows.Err(); err != nil {
		visitRows.Close()
		return nil, qpackterr.Wrap(qpackterr.Database, "iterating visit count rows", err)
	}
	visitRows.Close()

	events, err := s.queryEvents(ctx, timeFrom, timeTo)
	if err != nil {
		return nil, err
	}
	byEvent := make(map[string]map[string]uint64)
	for _, e := range events {
		byVersion, ok := byEvent[e.Name]
		if !ok {
			byVersion = make(map[string]uint64)
			byEvent[e.Name] = byVersion
		}
		byVersion[e.Version]++
	}
	return &EventStats{TotalVisitsByVersion: totals, CountByEventThenVersion: byEvent}, nil
}

// GetEvents returns every event in [timeFrom, timeTo), ordered by id, for
// CSV export streaming.
func (s *Store) GetEvents(ctx context.Context, timeFrom, timeTo int64) ([]SavedEvent, error) {
	return s.queryEvents(ctx, timeFrom, timeTo)
}

func (s *Store) queryEvents(ctx context.Context, timeFrom, timeTo int64) ([]SavedEvent, error) {
	rows, err := s.ro.QueryContext(ctx,
		`SELECT id, time, visitor, version, name, params, path, payload
		 FROM events WHERE time >= ? AND time < ? ORDER BY id`,
		timeFrom, timeTo)
	if err != nil {
		return nil, qpackterr.Wrap(qpackterr.Database, "querying events", err)
	}
	defer rows.Close()

	var events []SavedEvent
	for rows.Next() {
		var se SavedEvent
		var visitorRaw int64
		if err := rows.Scan(&se.ID, &se.Time, &visitorRaw, &se.Version, &se.Name, &se.Params, &se.Path, &se.Payload); err != nil {
			return nil, qpackterr.Wrap(qpackterr.Database, "scanning event row", err)
		}
		se.Visitor = visitor.FromInt64(visitorRaw)
		events = append(events, se)
	}
	if err := rows.Err(); err != nil {
		return nil, qpackterr.Wrap(qpackterr.Database, "iterating event rows", err)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}
