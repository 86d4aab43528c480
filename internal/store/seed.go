package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/qpackt/qpackt/internal/qpackterr"
	"github.com/qpackt/qpackt/internal/visitor"
)

const stateKeyDailySeed = "daily_seed"

type wireSeed struct {
	Init       uint64 `json:"init"`
	Expiration int64  `json:"expiration"` // unix seconds
}

// GetDailySeed returns the persisted seed, or nil if none exists yet.
func (s *Store) GetDailySeed(ctx context.Context) (*visitor.Seed, error) {
	var value string
	err := s.ro.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, stateKeyDailySeed).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, qpackterr.Wrap(qpackterr.Database, "reading daily seed", err)
	}
	var w wireSeed
	if err := json.Unmarshal([]byte(value), &w); err != nil {
		return nil, qpackterr.Wrap(qpackterr.Serialization, "decoding daily seed", err)
	}
	return &visitor.Seed{Init: w.Init, Expiration: time.Unix(w.Expiration, 0)}, nil
}

// SaveDailySeed upserts the seed into the state table.
func (s *Store) SaveDailySeed(ctx context.Context, seed visitor.Seed) error {
	w := wireSeed{Init: seed.Init, Expiration: seed.Expiration.Unix()}
	value, err := json.Marshal(w)
	if err != nil {
		return qpackterr.Wrap(qpackterr.Serialization, "encoding daily seed", err)
	}
	return s.withWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO state (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			stateKeyDailySeed, string(value))
		if err != nil {
			return qpackterr.Wrap(qpackterr.Database, "saving daily seed", err)
		}
		return nil
	})
}
