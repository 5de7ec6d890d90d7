// Package airspace exposes the active airspace slots and conflicts over HTTP.
package airspace

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kilianp07/skyswarm/core/model"
)

// Source provides the airspace view. swarm.Coordinator satisfies it.
type Source interface {
	Slots() []model.AirspaceSlot
	Conflicts() []model.Conflict
}

// NewSlotsHandler returns an HTTP handler for GET /api/airspace/slots.
// Slots can be filtered by agent_id and route_id.
func NewSlotsHandler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		agent := r.URL.Query().Get("agent_id")
		route := r.URL.Query().Get("route_id")
		out := make([]model.AirspaceSlot, 0)
		for _, s := range src.Slots() {
			if agent != "" && s.AgentID != agent {
				continue
			}
			if route != "" && s.RouteID != route {
				continue
			}
			out = append(out, s)
		}
		writeJSON(w, out)
	})
}

// NewConflictsHandler returns an HTTP handler for GET /api/airspace/conflicts.
// resolved=true|false narrows the list.
func NewConflictsHandler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var want *bool
		if v := r.URL.Query().Get("resolved"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				http.Error(w, "invalid resolved filter", http.StatusBadRequest)
				return
			}
			want = &b
		}
		out := make([]model.Conflict, 0)
		for _, c := range src.Conflicts() {
			if want != nil && c.Resolved() != *want {
				continue
			}
			out = append(out, c)
		}
		writeJSON(w, out)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
