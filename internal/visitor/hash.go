// Package visitor computes a rolling hash identifying a returning visitor
// from their IP address and User-Agent, keyed by a daily-rotating seed.
package visitor

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync/atomic"
	"time"

	"github.com/qpackt/qpackt/internal/applog"
)

// Hash identifies a visitor for the lifetime of the current daily seed.
// Two requests from the same IP/User-Agent pair within the same seed
// window produce the same Hash.
type Hash uint64

// Int64 returns the hash as a signed 64-bit integer for storage, matching
// SQLite's native integer column type (no unsigned type exists).
func (h Hash) Int64() int64 {
	return int64(h)
}

// FromInt64 reconstructs a Hash from a stored signed 64-bit integer.
func FromInt64(v int64) Hash {
	return Hash(v)
}

const seedRefreshInterval = 24 * time.Hour

var currentInit atomic.Uint64

// Seed is the daily value Create mixes into new hashes,
// persisted so a restart doesn't invalidate same-day visit continuity.
type Seed struct {
	Init       uint64
	Expiration time.Time
}

// SeedStore is the subset of the store the seed refresh loop needs.
type SeedStore interface {
	GetDailySeed(ctx context.Context) (*Seed, error)
	SaveDailySeed(ctx context.Context, seed Seed) error
}

// Init loads the current daily seed from the store (creating one if none
// exists) and starts the background rotation goroutine. Call once at
// startup before any Create call.
func Init(ctx context.Context, store SeedStore) error {
	seed, err := store.GetDailySeed(ctx)
	if err != nil {
		return err
	}
	if seed == nil {
		s, err := createDailySeed(ctx, store)
		if err != nil {
			return err
		}
		seed = s
	}
	currentInit.Store(seed.Init)
	go refreshLoop(ctx, store, *seed)
	return nil
}

func createDailySeed(ctx context.Context, store SeedStore) (*Seed, error) {
	init, err := randomUint64()
	if err != nil {
		return nil, err
	}
	seed := Seed{Init: init, Expiration: time.Now().Add(seedRefreshInterval)}
	if err := store.SaveDailySeed(ctx, seed); err != nil {
		return nil, err
	}
	return &seed, nil
}

func refreshLoop(ctx context.Context, store SeedStore, seed Seed) {
	applog.Debug("started hash seed refresh loop")
	now := time.Now()
	next := seed.Expiration
	if next.Before(now) {
		next = now
	}
	delay := next.Sub(now)
	applog.Debug("next hash seed refresh in %s", delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			init, err := randomUint64()
			if err != nil {
				applog.Error("generating new hash seed: %v", err)
				timer.Reset(seedRefreshInterval)
				continue
			}
			newSeed := Seed{Init: init, Expiration: time.Now().Add(seedRefreshInterval)}
			currentInit.Store(init)
			applog.Debug("updated hash seed value")
			if err := store.SaveDailySeed(ctx, newSeed); err != nil {
				applog.Error("saving daily seed: %v", err)
			}
			timer.Reset(seedRefreshInterval)
		}
	}
}

// randomUint64 returns a value in [1, math.MaxUint64], retrying the rare
// all-zero draw so a seed's Init is never 0.
func randomUint64() (uint64, error) {
	for {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			return 0, err
		}
		if v := binary.BigEndian.Uint64(b[:]); v != 0 {
			return v, nil
		}
	}
}

// Create derives a Hash from the current daily seed, the visitor's IP
// address, and an identifier (typically the User-Agent header bytes).
func Create(ip net.IP, ident []byte) Hash {
	init := currentInit.Load()
	return createFromInit(ip, ident, init)
}

func createFromInit(ip net.IP, ident []byte, init uint64) Hash {
	hash := init
	if v4 := ip.To4(); v4 != nil {
		multiply(&hash, v4)
	} else {
		multiply(&hash, ip.To16())
	}
	multiply(&hash, ident)
	applog.Debug("hash %d %s %d", init, ip, hash)
	return Hash(hash)
}

// multiply rolls each byte's low 6 bits into hash via a fixed multiplier,
// committing the new value only when it's non-zero so a single zero byte
// can't collapse the running hash to a degenerate 0.
func multiply(hash *uint64, bytes []byte) {
	const multiplier = 67280421310721
	for _, b := range bytes {
		newHash := (*hash)*multiplier + uint64(b&0b00111111)
		if newHash != 0 {
			*hash = newHash
		}
	}
}
