// Package emergency exposes open assistance requests and closed responses
// over HTTP.
package emergency

import (
	"encoding/json"
	"net/http"

	"github.com/kilianp07/skyswarm/core/model"
)

// Source provides the emergency view. swarm.Coordinator satisfies it.
type Source interface {
	PendingEmergencies() []model.EmergencyRequest
	EmergencyHistory() []model.EmergencyResponse
}

// Overview is the body of GET /api/emergencies.
type Overview struct {
	Pending []model.EmergencyRequest  `json:"pending"`
	History []model.EmergencyResponse `json:"history"`
}

// NewHandler returns an HTTP handler for GET /api/emergencies. agent_id keeps
// the requests raised by that agent and the responses it took part in.
func NewHandler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		agent := r.URL.Query().Get("agent_id")
		out := Overview{Pending: []model.EmergencyRequest{}, History: []model.EmergencyResponse{}}
		for _, req := range src.PendingEmergencies() {
			if agent == "" || req.AgentID == agent {
				out.Pending = append(out.Pending, req)
			}
		}
		for _, resp := range src.EmergencyHistory() {
			if agent == "" || contains(resp.Responders, agent) {
				out.History = append(out.History, resp)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
