package event_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/qpackt/qpackt/internal/event"
	"github.com/qpackt/qpackt/internal/store"
)

type fakeSaver struct {
	mu    sync.Mutex
	saved []store.Event
}

func (f *fakeSaver) Save(e store.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, e)
}

func (f *fakeSaver) first() (store.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		return store.Event{}, false
	}
	return f.saved[0], true
}

func TestCollectEventSavesPostedBody(t *testing.T) {
	saver := &fakeSaver{}
	h := event.New(saver)

	body := `{"name":"signup","version":"v1","params":"?a=b","path":"/home","user_agent":"curl/8.0","visitor":42,"payload":{"k":"v"}}`
	req := httptest.NewRequest(http.MethodPost, event.URI, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.CollectEvent(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	saved, ok := saver.first()
	if !ok {
		t.Fatal("expected an event to be saved")
	}
	if saved.Name != "signup" || saved.Version != "v1" || saved.Path != "/home" {
		t.Fatalf("saved event = %+v", saved)
	}
	if saved.Visitor.Int64() != 42 {
		t.Fatalf("visitor = %d, want 42", saved.Visitor.Int64())
	}
}

func TestCollectEventRecomputesVisitorHashWhenZero(t *testing.T) {
	saver := &fakeSaver{}
	h := event.New(saver)

	body := `{"name":"click","version":"v1","params":"","path":"/","user_agent":"curl/8.0","visitor":0,"payload":{}}`
	req := httptest.NewRequest(http.MethodPost, event.URI, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.9:5555"
	rec := httptest.NewRecorder()
	h.CollectEvent(rec, req)

	saved, ok := saver.first()
	if !ok {
		t.Fatal("expected an event to be saved")
	}
	if saved.Visitor.Int64() == 0 {
		t.Fatal("expected a non-zero recomputed visitor hash")
	}
}

func TestCollectEventRejectsMalformedBody(t *testing.T) {
	saver := &fakeSaver{}
	h := event.New(saver)

	req := httptest.NewRequest(http.MethodPost, event.URI, strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	h.CollectEvent(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestServeScriptWritesEmbeddedContent(t *testing.T) {
	h := event.New(&fakeSaver{})
	req := httptest.NewRequest(http.MethodGet, event.ScriptURI, nil)
	rec := httptest.NewRecorder()
	h.ServeScript(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "qpacktEvent") {
		t.Fatal("expected embedded script body to be written")
	}
}
