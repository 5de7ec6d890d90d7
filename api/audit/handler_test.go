package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilianp07/skyswarm/core/auditlog"
)

func TestAuditHandler(t *testing.T) {
	store, err := auditlog.NewJSONLStore(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	now := time.Now().UTC()
	recs := []auditlog.Record{
		{Timestamp: now, Operation: "reserve_airspace", AgentID: "d1"},
		{Timestamp: now, Operation: "dispatch_emergency", AgentID: "d2", Error: "no responders available"},
	}
	for _, r := range recs {
		if err := store.Append(context.Background(), r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	h := NewHandler(store, "secret")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/audit", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/audit?failed=true", nil)
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var out []auditlog.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Operation != "dispatch_emergency" {
		t.Fatalf("unexpected records %#v", out)
	}
}

func TestAuditHandlerEmpty(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHandler(auditlog.NopStore{}, "").ServeHTTP(rr, httptest.NewRequest("GET", "/api/audit?operation=decide", nil))
	if rr.Body.String() != "[]\n" {
		t.Fatalf("expected empty array got %q", rr.Body.String())
	}
}

func TestAuditHandlerMethodNotAllowed(t *testing.T) {
	h := NewHandler(auditlog.NopStore{}, "")
	for _, m := range []string{"POST", "PUT", "DELETE"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(m, "/api/audit", nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", m, rr.Code)
		}
	}
}
