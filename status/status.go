// Package status exposes a small read-only HTTP surface reporting the
// running server's health and live session count. It carries no
// authentication and no mutating routes: every handler is a GET.
package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"doipsim/catalog"
	"doipsim/events"
	"doipsim/server"
)

// Reporter is the subset of *server.Server the status surface reads from.
type Reporter interface {
	SessionCount() int
	Snapshot() []server.Snapshot
	Running() bool
}

// Handlers holds the dependencies the status routes read from.
type Handlers struct {
	startedAt time.Time
	srv       Reporter
	catalog   *catalog.Catalog
	listen    string
	sinks     []events.Sink
}

// NewRouter builds the status router. listen is reported verbatim in
// /status as the DoIP server's own bind address, for operators who reach
// the status port from a different host. sinks is the set of egress
// adapters attached to the core's Event Sink, for per-sink connected state.
func NewRouter(srv Reporter, cat *catalog.Catalog, listen string, sinks []events.Sink) chi.Router {
	h := &Handlers{
		startedAt: time.Now(),
		srv:       srv,
		catalog:   cat,
		listen:    listen,
		sinks:     sinks,
	}

	r := chi.NewRouter()
	r.Get("/healthz", h.handleHealthz)
	r.Get("/status", h.handleStatus)
	return r
}

func (h *Handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !h.srv.Running() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("stopped\n"))
		return
	}
	w.Write([]byte("ok\n"))
}

// statusResponse is the JSON shape of GET /status.
type statusResponse struct {
	Listen        string          `json:"listen"`
	Running       bool            `json:"running"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Sessions      int             `json:"sessions"`
	CatalogSize   int             `json:"catalog_size"`
	SessionList   []sessionStatus `json:"session_list"`
	Sinks         []sinkStatus    `json:"sinks"`
}

type sessionStatus struct {
	Peer         string `json:"peer"`
	State        string `json:"state"`
	LastActivity string `json:"last_activity"`
}

type sinkStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	snaps := h.srv.Snapshot()
	sessions := make([]sessionStatus, 0, len(snaps))
	for _, s := range snaps {
		sessions = append(sessions, sessionStatus{
			Peer:         s.Peer,
			State:        s.State.String(),
			LastActivity: s.LastActivity.Format(time.RFC3339),
		})
	}

	sinks := make([]sinkStatus, 0, len(h.sinks))
	for _, sink := range h.sinks {
		sinks = append(sinks, sinkStatus{Name: sink.Name(), Connected: sink.Connected()})
	}

	catalogSize := 0
	if h.catalog != nil {
		catalogSize = h.catalog.Size()
	}

	resp := statusResponse{
		Listen:        h.listen,
		Running:       h.srv.Running(),
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Sessions:      h.srv.SessionCount(),
		CatalogSize:   catalogSize,
		SessionList:   sessions,
		Sinks:         sinks,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
