package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/skyswarm/config"
	"github.com/kilianp07/skyswarm/core/model"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Audit.Backend = "nop"
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.SetDefaults()
	return cfg
}

func TestServiceLifecycle(t *testing.T) {
	svc, err := New(context.Background(), testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	agent := model.Agent{ID: "d1", Available: true, BatteryPct: 80, CruiseSpeedKmh: 50, Position: model.Coordinates{Lat: 48.85, Lon: 2.35}, Capabilities: []model.Capability{model.CapabilityDelivery}}
	require.NoError(t, svc.Coordinator.RegisterAgent(context.Background(), agent))

	rr := httptest.NewRecorder()
	svc.Routes()["/api/emergencies"].ServeHTTP(rr, httptest.NewRequest("GET", "/api/emergencies", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	svc.Routes()["/api/airspace/slots"].ServeHTTP(rr, httptest.NewRequest("GET", "/api/airspace/slots", nil))
	var slots []model.AirspaceSlot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &slots))
	assert.Empty(t, slots)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("service did not stop")
	}
	require.NoError(t, svc.Close())
}

func TestServiceRedisUnavailable(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger.Backend = "redis"
	cfg.Ledger.Redis.Addr = "127.0.0.1:1"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := New(ctx, cfg); err == nil {
		t.Fatalf("expected redis connection error")
	}
}
