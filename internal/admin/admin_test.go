package admin_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/qpackt/qpackt/internal/admin"
	"github.com/qpackt/qpackt/internal/config"
	"github.com/qpackt/qpackt/internal/password"
	"github.com/qpackt/qpackt/internal/registry"
	"github.com/qpackt/qpackt/internal/store"
)

func newTestServer(t *testing.T, rawPassword string) *admin.Server {
	t.Helper()
	s, _ := newTestServerWithStore(t, rawPassword)
	return s
}

func newTestServerWithStore(t *testing.T, rawPassword string) (*admin.Server, *store.Store) {
	t.Helper()
	hashed, err := password.Hash(rawPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	runDir := t.TempDir()
	st, err := store.Open(context.Background(), filepath.Join(runDir, "qpackt.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{Password: hashed, RunDir: runDir}
	reg := registry.Start(nil, runDir)
	return admin.New(cfg, st, reg), st
}

func createToken(t *testing.T, s *admin.Server, rawPassword string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"password": rawPassword})
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("creating token: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding token response: %v", err)
	}
	return resp.Token
}

func TestCreateTokenRejectsWrongPassword(t *testing.T) {
	s := newTestServer(t, "correct horse battery staple")

	body, _ := json.Marshal(map[string]string{"password": "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestCreateTokenThenAuthorizedRequestSucceeds(t *testing.T) {
	s := newTestServer(t, "correct horse battery staple")
	token := createToken(t, s, "correct horse battery staple")

	req := httptest.NewRequest(http.MethodGet, "/versions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
}

func TestUnauthorizedRequestIsForbidden(t *testing.T) {
	s := newTestServer(t, "correct horse battery staple")

	req := httptest.NewRequest(http.MethodPut, "/versions", strings.NewReader("[]"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestDeleteTokenInvalidatesSession(t *testing.T) {
	s := newTestServer(t, "correct horse battery staple")
	token := createToken(t, s, "correct horse battery staple")

	del := httptest.NewRequest(http.MethodDelete, "/token", nil)
	del.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, del)
	if rec.Code != http.StatusOK {
		t.Fatalf("deleting token: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/versions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 after token deletion", rec.Code)
	}
}

func TestReverseProxyRuleLifecycle(t *testing.T) {
	s := newTestServer(t, "correct horse battery staple")
	token := createToken(t, s, "correct horse battery staple")

	body, _ := json.Marshal(map[string]string{"prefix": "/api", "target": "http://127.0.0.1:9999"})
	create := httptest.NewRequest(http.MethodPost, "/proxy", strings.NewReader(string(body)))
	create.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, create)
	if rec.Code != http.StatusOK {
		t.Fatalf("creating rule: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	list := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	list.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, list)
	if rec.Code != http.StatusOK {
		t.Fatalf("listing rules: status = %d", rec.Code)
	}
	var rules []struct {
		ID     int64  `json:"ID"`
		Prefix string `json:"Prefix"`
		Target string `json:"Target"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &rules); err != nil {
		t.Fatalf("decoding rules: %v", err)
	}
	if len(rules) != 1 || rules[0].Prefix != "/api" {
		t.Fatalf("rules = %+v", rules)
	}

	del := httptest.NewRequest(http.MethodDelete, "/proxy/"+strconv.FormatInt(rules[0].ID, 10), nil)
	del.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, del)
	if rec.Code != http.StatusOK {
		t.Fatalf("deleting rule: status = %d", rec.Code)
	}
}
