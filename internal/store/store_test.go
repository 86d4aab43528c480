package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/qpackt/qpackt/internal/store"
	"github.com/qpackt/qpackt/internal/strategy"
	"github.com/qpackt/qpackt/internal/visitor"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "qpackt.sqlite")
	s, err := store.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDailySeedRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	none, err := s.GetDailySeed(ctx)
	if err != nil {
		t.Fatalf("GetDailySeed: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no seed initially, got %+v", none)
	}

	seed := visitor.Seed{Init: 42, Expiration: time.Unix(1700000000, 0)}
	if err := s.SaveDailySeed(ctx, seed); err != nil {
		t.Fatalf("SaveDailySeed: %v", err)
	}
	got, err := s.GetDailySeed(ctx)
	if err != nil {
		t.Fatalf("GetDailySeed: %v", err)
	}
	if got == nil || got.Init != seed.Init || !got.Expiration.Equal(seed.Expiration) {
		t.Fatalf("GetDailySeed() = %+v, want %+v", got, seed)
	}

	seed2 := visitor.Seed{Init: 99, Expiration: time.Unix(1800000000, 0)}
	if err := s.SaveDailySeed(ctx, seed2); err != nil {
		t.Fatalf("SaveDailySeed (update): %v", err)
	}
	got2, err := s.GetDailySeed(ctx)
	if err != nil {
		t.Fatalf("GetDailySeed: %v", err)
	}
	if got2.Init != seed2.Init {
		t.Fatalf("expected seed to be replaced, got %+v", got2)
	}
}

func TestVisitUpsertAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	v := visitor.Hash(123)

	err := s.UpdateVisits(ctx, []store.Visit{
		{FirstRequestTime: 100, LastRequestTime: 100, RequestCount: 1, Visitor: v, Version: "v1"},
	})
	if err != nil {
		t.Fatalf("UpdateVisits: %v", err)
	}
	err = s.UpdateVisits(ctx, []store.Visit{
		{FirstRequestTime: 200, LastRequestTime: 200, RequestCount: 1, Visitor: v, Version: "v1"},
	})
	if err != nil {
		t.Fatalf("UpdateVisits (again): %v", err)
	}

	visits, err := s.GetVisits(ctx, 0, 1000)
	if err != nil {
		t.Fatalf("GetVisits: %v", err)
	}
	if len(visits) != 1 {
		t.Fatalf("expected 1 aggregated visit, got %d", len(visits))
	}
	got := visits[0]
	if got.RequestCount != 2 {
		t.Fatalf("RequestCount = %d, want 2", got.RequestCount)
	}
	if got.FirstRequestTime != 100 {
		t.Fatalf("FirstRequestTime = %d, want 100 (insert-only)", got.FirstRequestTime)
	}
	if got.LastRequestTime != 200 {
		t.Fatalf("LastRequestTime = %d, want 200", got.LastRequestTime)
	}
}

func TestVersionsCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := store.Version{Name: "v1", WebRoot: "versions/v1", Strategy: strategy.NewWeight(10)}
	if err := s.RegisterVersion(ctx, v); err != nil {
		t.Fatalf("RegisterVersion: %v", err)
	}

	versions, err := s.ListVersions(ctx)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 || versions[0].Name != "v1" {
		t.Fatalf("ListVersions() = %+v", versions)
	}
	w, ok := versions[0].Strategy.IsWeight()
	if !ok || w != 10 {
		t.Fatalf("expected decoded Weight(10), got %+v", versions[0].Strategy)
	}

	webRoot, err := s.DeleteVersion(ctx, "v1")
	if err != nil {
		t.Fatalf("DeleteVersion: %v", err)
	}
	if webRoot != "versions/v1" {
		t.Fatalf("DeleteVersion() web_root = %q, want %q", webRoot, "versions/v1")
	}

	versions, err = s.ListVersions(ctx)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 0 {
		t.Fatalf("expected no versions after delete, got %+v", versions)
	}
}

func TestReverseProxyRulesOrderedByPrefixDescending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateReverseProxyRule(ctx, "/api", "http://localhost:9100"); err != nil {
		t.Fatalf("CreateReverseProxyRule: %v", err)
	}
	if err := s.CreateReverseProxyRule(ctx, "/api/v2", "http://localhost:9200"); err != nil {
		t.Fatalf("CreateReverseProxyRule: %v", err)
	}

	rules, err := s.ListReverseProxyRules(ctx)
	if err != nil {
		t.Fatalf("ListReverseProxyRules: %v", err)
	}
	if len(rules) != 2 || rules[0].Prefix != "/api/v2" {
		t.Fatalf("expected /api/v2 before /api, got %+v", rules)
	}

	if err := s.DeleteReverseProxyRule(ctx, rules[0].ID); err != nil {
		t.Fatalf("DeleteReverseProxyRule: %v", err)
	}
	rules, err = s.ListReverseProxyRules(ctx)
	if err != nil {
		t.Fatalf("ListReverseProxyRules: %v", err)
	}
	if len(rules) != 1 || rules[0].Prefix != "/api" {
		t.Fatalf("expected only /api remaining, got %+v", rules)
	}
}

func TestEventsStatsAndExport(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	v := visitor.Hash(7)

	if err := s.UpdateVisits(ctx, []store.Visit{
		{FirstRequestTime: 50, LastRequestTime: 50, RequestCount: 1, Visitor: v, Version: "v1"},
	}); err != nil {
		t.Fatalf("UpdateVisits: %v", err)
	}
	if err := s.SaveEvents(ctx, []store.Event{
		{Time: 50, Visitor: v, Version: "v1", Name: "signup", Params: "", Path: "/signup", Payload: `{"plan":"pro"}`},
	}); err != nil {
		t.Fatalf("SaveEvents: %v", err)
	}

	stats, err := s.GetEventStats(ctx, 0, 1000)
	if err != nil {
		t.Fatalf("GetEventStats: %v", err)
	}
	if len(stats.TotalVisitsByVersion) != 1 || stats.TotalVisitsByVersion[0].Version != "v1" || stats.TotalVisitsByVersion[0].Count != 1 {
		t.Fatalf("unexpected totals: %+v", stats.TotalVisitsByVersion)
	}
	if stats.CountByEventThenVersion["signup"]["v1"] != 1 {
		t.Fatalf("unexpected event counts: %+v", stats.CountByEventThenVersion)
	}

	events, err := s.GetEvents(ctx, 0, 1000)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 || events[0].Payload != `{"plan":"pro"}` {
		t.Fatalf("unexpected events: %+v", events)
	}
}
