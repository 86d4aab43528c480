package writer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/qpackt/qpackt/internal/store"
	"github.com/qpackt/qpackt/internal/visitor"
	"github.com/qpackt/qpackt/internal/writer"
)

type fakeRequestLogStore struct {
	mu       sync.Mutex
	requests []store.RequestLog
	visits   []store.Visit
}

func (f *fakeRequestLogStore) SaveRequests(_ context.Context, requests []store.RequestLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, requests...)
	return nil
}

func (f *fakeRequestLogStore) UpdateVisits(_ context.Context, visits []store.Visit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visits = append(f.visits, visits...)
	return nil
}

func (f *fakeRequestLogStore) snapshot() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests), len(f.visits)
}

type fakeEventStore struct {
	mu     sync.Mutex
	events []store.Event
}

func (f *fakeEventStore) SaveEvents(_ context.Context, events []store.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeEventStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestRequestLogWriterFlushesAndAggregatesVisits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := &fakeRequestLogStore{}
	w := writer.NewRequestLogWriter(ctx, db)

	v := visitor.Hash(42)
	w.Save(store.RequestLog{Time: 1, Visitor: v, Version: "v1", URI: "/a"})
	w.Save(store.RequestLog{Time: 2, Visitor: v, Version: "v1", URI: "/b"})

	waitFor(t, 3*time.Second, func() bool {
		reqs, visits := db.snapshot()
		return reqs == 2 && visits == 1
	})

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.visits[0].RequestCount != 2 {
		t.Fatalf("RequestCount = %d, want 2", db.visits[0].RequestCount)
	}
	if db.visits[0].FirstRequestTime != 1 || db.visits[0].LastRequestTime != 2 {
		t.Fatalf("unexpected visit window: %+v", db.visits[0])
	}
}

func TestRequestLogWriterAggregatesDistinctVisitorsSeparately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := &fakeRequestLogStore{}
	w := writer.NewRequestLogWriter(ctx, db)

	w.Save(store.RequestLog{Time: 1, Visitor: visitor.Hash(1), Version: "v1", URI: "/a"})
	w.Save(store.RequestLog{Time: 1, Visitor: visitor.Hash(2), Version: "v1", URI: "/a"})

	waitFor(t, 3*time.Second, func() bool {
		_, visits := db.snapshot()
		return visits == 2
	})
}

func TestEventWriterFlushes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := &fakeEventStore{}
	w := writer.NewEventWriter(ctx, db)

	w.Save(store.Event{Time: 1, Visitor: visitor.Hash(7), Version: "v1", Name: "click"})

	waitFor(t, 3*time.Second, func() bool { return db.count() == 1 })
}

func TestRequestLogWriterStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	db := &fakeRequestLogStore{}
	w := writer.NewRequestLogWriter(ctx, db)
	cancel()

	// Save after cancellation must not panic or hang; the actor may have
	// already exited, in which case the row is silently dropped once the
	// channel buffer is exhausted.
	w.Save(store.RequestLog{Time: 1, Visitor: visitor.Hash(1), Version: "v1", URI: "/a"})
}
