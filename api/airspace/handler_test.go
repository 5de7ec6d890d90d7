package airspace

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kilianp07/skyswarm/core/model"
)

type staticSource struct {
	slots     []model.AirspaceSlot
	conflicts []model.Conflict
}

func (s staticSource) Slots() []model.AirspaceSlot { return s.slots }
func (s staticSource) Conflicts() []model.Conflict  { return s.conflicts }

func TestSlotsHandlerFilter(t *testing.T) {
	src := staticSource{slots: []model.AirspaceSlot{
		{ID: "s1", AgentID: "a", RouteID: "r1"},
		{ID: "s2", AgentID: "b", RouteID: "r1"},
		{ID: "s3", AgentID: "a", RouteID: "r2"},
	}}
	h := NewSlotsHandler(src)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/airspace/slots?agent_id=a&route_id=r2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var out []model.AirspaceSlot
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ID != "s3" {
		t.Fatalf("unexpected slots %#v", out)
	}
}

func TestSlotsHandlerEmptyIsArray(t *testing.T) {
	rr := httptest.NewRecorder()
	NewSlotsHandler(staticSource{}).ServeHTTP(rr, httptest.NewRequest("GET", "/api/airspace/slots", nil))
	if got := rr.Body.String(); got != "[]\n" {
		t.Fatalf("expected empty array, got %q", got)
	}
}

func TestConflictsHandler(t *testing.T) {
	src := staticSource{conflicts: []model.Conflict{
		{ID: "c1", SlotIDs: []string{"s1", "s2"}, ResolvedAt: time.Unix(10, 0)},
		{ID: "c2", SlotIDs: []string{"s3", "s4"}},
	}}
	h := NewConflictsHandler(src)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/airspace/conflicts?resolved=false", nil))
	var out []model.Conflict
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ID != "c2" {
		t.Fatalf("unexpected conflicts %#v", out)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/airspace/conflicts?resolved=maybe", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/api/airspace/conflicts", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
