// Package navigation exposes the live navigation state of the fleet.
package navigation

import (
	"encoding/json"
	"net/http"

	"github.com/kilianp07/skyswarm/core/model"
)

// Source provides fleet state. swarm.Coordinator satisfies it.
type Source interface {
	NavigationStates() []model.NavigationState
}

// NewStateHandler returns an HTTP handler for GET /api/navigation.
// Filters: agent_id, mode (auto|manual|emergency|landing).
func NewStateHandler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		agent := r.URL.Query().Get("agent_id")
		mode := r.URL.Query().Get("mode")
		out := make([]model.NavigationState, 0)
		for _, st := range src.NavigationStates() {
			if agent != "" && st.AgentID != agent {
				continue
			}
			if mode != "" && st.Mode.String() != mode {
				continue
			}
			out = append(out, st)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
