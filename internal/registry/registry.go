// Package registry tracks the set of deployed site versions: each gets a
// loopback file server and participates in strategy-based traffic split.
package registry

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/qpackt/qpackt/internal/applog"
	"github.com/qpackt/qpackt/internal/qpackterr"
	"github.com/qpackt/qpackt/internal/strategy"
)

// StartPort is the first loopback port handed to a version's file server;
// subsequent versions take the next unused port above the current max.
const StartPort = 9000

// Version is a deployed site version as held in memory by the registry.
type Version struct {
	Name     string
	WebRoot  string
	Strategy strategy.Strategy
}

type entry struct {
	version  Version
	port     int
	upstream string
	server   *http.Server
}

// Registry is the in-memory, file-server-backed set of deployed versions.
// All mutation goes through the write lock; PickUpstream and
// UpstreamForCookie take only the read lock.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	runDir  string
}

// Start builds a Registry from the persisted version list and starts a
// loopback file server for each one.
func Start(versions []Version, runDir string) *Registry {
	r := &Registry{runDir: runDir}
	port := StartPort
	for _, v := range versions {
		e := entry{version: v, port: port, upstream: upstreamURL(port)}
		r.serve(&e)
		r.entries = append(r.entries, e)
		port++
	}
	return r
}

func upstreamURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

func (r *Registry) serve(e *entry) {
	root := filepath.Join(r.runDir, "versions", e.version.WebRoot)
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(root)))
	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", e.port),
		Handler: mux,
	}
	e.server = srv
	applog.Info("starting version %s on port %d", e.version.Name, e.port)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			applog.Error("version %s file server stopped: %v", e.version.Name, err)
		}
	}()
}

// PickUpstream implements the strategy policy: a UrlParam match (by list
// order) wins outright; otherwise a weighted draw over Weight strategies.
// When every weight is zero there is no draw: the first version (in list
// order) carrying a Weight strategy wins deterministically.
func (r *Registry) PickUpstream(rawQuery string) (upstream, name string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if needle, ok := e.version.Strategy.IsURLParam(); ok {
			if needle != "" && containsSubstring(rawQuery, needle) {
				applog.Debug("picking version %s by UrlParam", e.version.Name)
				return e.upstream, e.version.Name, nil
			}
		}
	}

	weights := make([]int, len(r.entries))
	sum := 0
	anyWeighted := false
	for i, e := range r.entries {
		if w, ok := e.version.Strategy.IsWeight(); ok {
			weights[i] = int(w)
			sum += int(w)
			anyWeighted = true
		}
	}
	if !anyWeighted {
		return "", "", qpackterr.New(qpackterr.Proxy, "no version carries a Weight or matching UrlParam strategy")
	}
	if sum == 0 {
		for _, e := range r.entries {
			if _, ok := e.version.Strategy.IsWeight(); ok {
				return e.upstream, e.version.Name, nil
			}
		}
	}

	cut := rand.Intn(sum + 1)
	for i, e := range r.entries {
		if weights[i] == 0 {
			continue
		}
		cut -= weights[i]
		if cut <= 0 {
			applog.Debug("picking version %s by Weight", e.version.Name)
			return e.upstream, e.version.Name, nil
		}
	}
	return "", "", qpackterr.New(qpackterr.Proxy, "weighted draw failed to select a version")
}

func containsSubstring(haystack, needle string) bool {
	return len(needle) > 0 && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// UpstreamForCookie returns the upstream URL for a version named by a
// previously-set cookie value, or false if no such version is live.
func (r *Registry) UpstreamForCookie(name string) (upstream string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.version.Name == name {
			return e.upstream, true
		}
	}
	return "", false
}

// List returns a snapshot of the live versions.
func (r *Registry) List() []Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Version, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.version
	}
	return out
}

// UpdateStrategies replaces the strategy of each named version in place.
// It never adds or removes a version.
func (r *Registry) UpdateStrategies(updates []Version) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		for _, u := range updates {
			if u.Name == r.entries[i].version.Name {
				r.entries[i].version.Strategy = u.Strategy
				break
			}
		}
	}
}

// AddVersion registers a new version and starts its file server on the
// next unused loopback port above the current maximum.
func (r *Registry) AddVersion(v Version) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nextPort := StartPort
	for _, e := range r.entries {
		if e.port >= nextPort {
			nextPort = e.port + 1
		}
	}
	e := entry{version: v, port: nextPort, upstream: upstreamURL(nextPort)}
	r.serve(&e)
	r.entries = append(r.entries, e)
}

// DeleteVersion removes a version and aborts its file-server task,
// returning its web root for filesystem cleanup by the caller.
func (r *Registry) DeleteVersion(name string) (webRoot string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.version.Name == name {
			webRoot = e.version.WebRoot
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = e.server.Shutdown(ctx)
			cancel()
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return webRoot, true
		}
	}
	applog.Warn("no running task for version `%s` that's being removed", name)
	return "", false
}
