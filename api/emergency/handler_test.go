package emergency

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/skyswarm/core/model"
)

type staticSource struct {
	pending []model.EmergencyRequest
	history []model.EmergencyResponse
}

func (s staticSource) PendingEmergencies() []model.EmergencyRequest { return s.pending }
func (s staticSource) EmergencyHistory() []model.EmergencyResponse  { return s.history }

func TestEmergencyHandler(t *testing.T) {
	src := staticSource{
		pending: []model.EmergencyRequest{{ID: "r1", AgentID: "d1"}, {ID: "r2", AgentID: "d2"}},
		history: []model.EmergencyResponse{{ID: "x1", Responders: []string{"d3", "d1"}}, {ID: "x2", Responders: []string{"d4"}}},
	}
	rr := httptest.NewRecorder()
	NewHandler(src).ServeHTTP(rr, httptest.NewRequest("GET", "/api/emergencies?agent_id=d1", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var out Overview
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out.Pending, 1)
	assert.Equal(t, "r1", out.Pending[0].ID)
	require.Len(t, out.History, 1)
	assert.Equal(t, "x1", out.History[0].ID)
}

func TestEmergencyHandlerEmpty(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHandler(staticSource{}).ServeHTTP(rr, httptest.NewRequest("GET", "/api/emergencies", nil))
	assert.JSONEq(t, `{"pending":[],"history":[]}`, rr.Body.String())

	rr = httptest.NewRecorder()
	NewHandler(staticSource{}).ServeHTTP(rr, httptest.NewRequest("DELETE", "/api/emergencies", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
