// Package audit exposes the coordination audit trail over HTTP.
package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/skyswarm/core/auditlog"
)

// NewHandler returns an HTTP handler for GET /api/audit.
// Requests must include an Authorization header with "Bearer <token>" when
// token is non-empty.
func NewHandler(store auditlog.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		q := auditlog.Query{
			AgentID:   r.URL.Query().Get("agent_id"),
			Operation: r.URL.Query().Get("operation"),
		}
		if s := r.URL.Query().Get("start"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.Start = t
			}
		}
		if s := r.URL.Query().Get("end"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.End = t
			}
		}
		if s := r.URL.Query().Get("failed"); s != "" {
			q.FailedOnly, _ = strconv.ParseBool(s)
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []auditlog.Record{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
