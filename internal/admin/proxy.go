package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/qpackt/qpackt/internal/applog"
	"github.com/qpackt/qpackt/internal/reverseproxy"
)

// handleListProxyRules returns every configured reverse-proxy rule.
func (s *Server) handleListProxyRules(w http.ResponseWriter, r *http.Request) {
	if !RequirePermission(w, r) {
		return
	}
	rules, err := s.store.ListReverseProxyRules(r.Context())
	if err != nil {
		applog.Error("unable to list reverse proxy rules: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

type proxyRuleRequest struct {
	Prefix string `json:"prefix"`
	Target string `json:"target"`
}

// handleCreateProxyRule adds a new prefix -> target rule and republishes
// the live rule table used by the dispatcher.
func (s *Server) handleCreateProxyRule(w http.ResponseWriter, r *http.Request) {
	if !RequirePermission(w, r) {
		return
	}
	var req proxyRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Prefix == "" {
		http.Error(w, "prefix must not be empty", http.StatusBadRequest)
		return
	}
	if u, err := url.Parse(req.Target); err != nil || !u.IsAbs() || u.Host == "" {
		http.Error(w, "target is not a valid absolute URL", http.StatusBadRequest)
		return
	}

	if err := s.store.CreateReverseProxyRule(r.Context(), req.Prefix, req.Target); err != nil {
		applog.Error("unable to create reverse proxy rule: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := s.republishRules(r); err != nil {
		applog.Error("unable to republish reverse proxy rules: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	applog.Info("created reverse proxy rule %s -> %s", req.Prefix, req.Target)
	io.WriteString(w, "OK")
}

// handleDeleteProxyRule removes a rule by id and republishes the table.
func (s *Server) handleDeleteProxyRule(w http.ResponseWriter, r *http.Request) {
	if !RequirePermission(w, r) {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid rule id", http.StatusBadRequest)
		return
	}
	if err := s.store.DeleteReverseProxyRule(r.Context(), id); err != nil {
		applog.Error("unable to delete reverse proxy rule %d: %v", id, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := s.republishRules(r); err != nil {
		applog.Error("unable to republish reverse proxy rules: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	applog.Info("deleted reverse proxy rule %d", id)
	w.WriteHeader(http.StatusOK)
}

// republishRules reloads the rule table from the store and swaps it into
// the dispatcher-visible reverseproxy.Table, keeping the prefix-descending
// order the query already guarantees.
func (s *Server) republishRules(r *http.Request) error {
	rules, err := s.store.ListReverseProxyRules(r.Context())
	if err != nil {
		return err
	}
	live := make([]reverseproxy.Rule, len(rules))
	for i, rule := range rules {
		live[i] = reverseproxy.Rule{ID: rule.ID, Prefix: rule.Prefix, Target: rule.Target}
	}
	reverseproxy.Publish(live)
	return nil
}
