// Package event serves the public endpoint the admin site's embedded
// script posts custom analytics events to, plus the script itself.
package event

import (
	_ "embed"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/qpackt/qpackt/internal/applog"
	"github.com/qpackt/qpackt/internal/store"
	"github.com/qpackt/qpackt/internal/visitor"
)

// URI is the path the embedded send_event.js script posts to.
const URI = "/qpackt/event"

// ScriptURI serves send_event.js itself.
const ScriptURI = "/qpackt/event/send_event.js"

//go:embed send_event.js
var script []byte

// EventSaver is the subset of writer.EventWriter a handler needs.
type EventSaver interface {
	Save(store.Event)
}

type createEventRequest struct {
	Name      string          `json:"name"`
	Version   string          `json:"version"`
	Params    string          `json:"params"`
	Path      string          `json:"path"`
	UserAgent string          `json:"user_agent"`
	Visitor   int64           `json:"visitor"`
	Payload   json.RawMessage `json:"payload"`
}

// Handler serves both the collection endpoint and the client script.
type Handler struct {
	writer EventSaver
}

// New builds an event handler saving through writer.
func New(writer EventSaver) *Handler {
	return &Handler{writer: writer}
}

// CollectEvent saves an event posted by the browser-side script. A zero
// Visitor hash (send_event.js always sends zero) is replaced by one
// recomputed from the request's peer address and the posted User-Agent —
// the same visitor identity dispatch would have assigned.
func (h *Handler) CollectEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	applog.Debug("received event %+v", req)

	hash := visitor.Hash(req.Visitor)
	if hash == 0 {
		ip := net.ParseIP(clientIP(r))
		if ip == nil {
			ip = net.IPv4(127, 0, 0, 1)
		}
		hash = visitor.Create(ip, []byte(req.UserAgent))
	}

	h.writer.Save(store.Event{
		Time:    time.Now().Unix(),
		Visitor: hash,
		Name:    req.Name,
		Version: req.Version,
		Params:  req.Params,
		Path:    req.Path,
		Payload: string(req.Payload),
	})
	applog.Info("saving event %s", req.Name)
	w.WriteHeader(http.StatusOK)
}

// ServeScript writes the embedded send_event.js verbatim.
func (h *Handler) ServeScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	_, _ = w.Write(script)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
