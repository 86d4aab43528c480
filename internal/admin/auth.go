package admin

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/qpackt/qpackt/internal/applog"
	"github.com/qpackt/qpackt/internal/password"
)

// adminToken is the single process-wide admin session token. A value of
// zero means no session is active; RequirePermission rejects it outright
// so a freshly started server never accidentally grants access.
var adminToken atomic.Uint64

type tokenRequest struct {
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// handleCreateToken exchanges the admin password for a session token.
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	ok, err := password.Matches(req.Password, s.config.Password)
	if err != nil || !ok {
		applog.Warn("invalid admin password from %s", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	token := createToken()
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// handleDeleteToken clears the active session, requiring a valid token.
func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	if !RequirePermission(w, r) {
		return
	}
	adminToken.Store(0)
	applog.Info("cleared admin token")
	w.WriteHeader(http.StatusOK)
}

// RequirePermission checks the request's "Authorization: Bearer <token>"
// header against the active admin token, writing a 403 and returning
// false if it doesn't match.
func RequirePermission(w http.ResponseWriter, r *http.Request) bool {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	if !isTokenValid(token) {
		applog.Warn("invalid token (%s) from %s", token, r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func isTokenValid(token string) bool {
	v, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return false
	}
	current := adminToken.Load()
	return current != 0 && current == v
}

func createToken() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		applog.Error("generating admin token: %v", err)
	}
	v := binary.BigEndian.Uint64(buf[:])
	adminToken.Store(v)
	applog.Info("created admin token")
	return strconv.FormatUint(v, 10)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.Error("encoding JSON response: %v", err)
	}
}
