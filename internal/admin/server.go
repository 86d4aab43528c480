// Package admin implements the bearer-token-authenticated API behind
// qpackt's admin panel: version management, reverse-proxy rule
// configuration, and analytics reporting.
package admin

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qpackt/qpackt/internal/config"
	"github.com/qpackt/qpackt/internal/registry"
	"github.com/qpackt/qpackt/internal/store"
)

// defaultHTMLDir is where the admin single-page app is served from when
// QPACKT_HTML_DIR isn't set.
const defaultHTMLDir = "/usr/share/qpackt/html"

// Server wires the admin HTTP API to its backing store and registry.
type Server struct {
	config   *config.Config
	store    *store.Store
	registry *registry.Registry
	mux      *http.ServeMux
}

// New builds an admin server and registers its routes.
func New(cfg *config.Config, st *store.Store, reg *registry.Registry) *Server {
	s := &Server{config: cfg, store: st, registry: reg, mux: http.NewServeMux()}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /token", s.handleCreateToken)
	s.mux.HandleFunc("DELETE /token", s.handleDeleteToken)

	s.mux.HandleFunc("GET /versions", s.handleListVersions)
	s.mux.HandleFunc("PUT /versions", s.handleUpdateVersions)
	s.mux.HandleFunc("POST /version", s.handleUploadVersion)
	s.mux.HandleFunc("DELETE /version/{name}", s.handleDeleteVersion)

	s.mux.HandleFunc("GET /proxy", s.handleListProxyRules)
	s.mux.HandleFunc("POST /proxy", s.handleCreateProxyRule)
	s.mux.HandleFunc("DELETE /proxy/{id}", s.handleDeleteProxyRule)

	s.mux.HandleFunc("POST /analytics", s.handleAnalytics)
	s.mux.HandleFunc("GET /events/stats", s.handleEventStats)
	s.mux.HandleFunc("GET /events/csv", s.handleEventsCSV)

	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Falls through last so API routes are never shadowed by the SPA.
	htmlDir := os.Getenv("QPACKT_HTML_DIR")
	if htmlDir == "" {
		htmlDir = defaultHTMLDir
	}
	fileServer := http.FileServer(http.Dir(htmlDir))
	s.mux.Handle("/", fileServer)
}
