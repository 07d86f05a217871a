package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"

	"github.com/signalzero/core/internal/broker"
	"github.com/signalzero/core/internal/config"
	"github.com/signalzero/core/internal/domain"
	"github.com/signalzero/core/internal/identity"
	"github.com/signalzero/core/internal/metrics"
	"github.com/signalzero/core/internal/orchestrator"
	"github.com/signalzero/core/internal/pushbus"
	"github.com/signalzero/core/internal/shamelist"
	"github.com/signalzero/core/internal/store"
	"github.com/signalzero/core/internal/usage"
)

type testHarness struct {
	*Server
	identityMgr *identity.Manager
}

func (h testHarness) freeTierToken(t *testing.T) string {
	t.Helper()
	token, err := h.identityMgr.Issue(uuid.New().String(), domain.TierFree)
	require.NoError(t, err)
	return token
}

func testServer(t *testing.T) testHarness {
	t.Helper()
	cfg := config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 0, ReadTimeout: time.Second, WriteTimeout: time.Second},
		Auth:     config.AuthConfig{RequireAuth: false, JWTSecret: "test-secret"},
		Usage:    config.UsageConfig{Limits: map[string]int{"PUBLIC": 0, "FREE": 3, "PRO": 100, "BUSINESS": 1000, "ENTERPRISE": -1}},
		Orchestrator: config.OrchestratorConfig{AgentTimeoutMs: 100, DemoMode: true, DemoLatencyMinMs: 5, DemoLatencyMaxMs: 10},
		Broker:   config.BrokerConfig{HealthGraceMs: 10000},
		Shutdown: config.ShutdownConfig{DrainBudgetMs: 100},
		Metrics:  config.MetricsConfig{Enabled: false},
	}

	st := store.New(nil)
	reg := metrics.New(prometheus.NewRegistry())
	meter := usage.New(st, cfg, reg)
	brk := broker.NewMemory()
	push := pushbus.New(16, reg)
	orch := orchestrator.New(st, meter, brk, push, reg, zerolog.Nop(), cfg)
	mgr := identity.NewManager(cfg.Auth.JWTSecret, time.Hour)

	deps := Deps{
		Orchestrator: orch,
		Store:        st,
		ShameList:    shamelist.New(st),
		Push:         push,
		Identity:     mgr,
		Metrics:      reg,
	}
	return testHarness{Server: New(cfg, deps, nil, zerolog.Nop()), identityMgr: mgr}
}

func TestHealthz(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitAndGetAnalysis(t *testing.T) {
	s := testServer(t)

	body, _ := json.Marshal(map[string]string{"query": "Stanley Cup tumbler", "queryType": "product", "platform": "web"})
	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+s.freeTierToken(t))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.AnalysisID)

	deadline := time.Now().Add(2 * time.Second)
	var got analysisResponse
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/v1/analyses/"+submitted.AnalysisID, nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		if got.Status == "COMPLETE" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, "COMPLETE", got.Status)
	assert.Equal(t, float64(34), got.Authenticity)
}

func TestSubmitRejectsEmptyQuery(t *testing.T) {
	s := testServer(t)

	body, _ := json.Marshal(map[string]string{"query": "   "})
	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+s.freeTierToken(t))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListShameEmptyInitially(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/shame", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}
