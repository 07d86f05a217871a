package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalzero/core/internal/broker"
	"github.com/signalzero/core/internal/config"
	"github.com/signalzero/core/internal/domain"
	"github.com/signalzero/core/internal/pushbus"
	"github.com/signalzero/core/internal/store"
	"github.com/signalzero/core/internal/topics"
	"github.com/signalzero/core/internal/usage"
)

// alwaysFailBroker wraps a Broker and fails every Publish, simulating a
// broker outage during submit (scenario S6) without needing a real NATS
// connection.
type alwaysFailBroker struct {
	broker.Broker
}

func (alwaysFailBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return errors.New("simulated publish failure")
}

func testConfig() config.Config {
	return config.Config{
		Orchestrator: config.OrchestratorConfig{
			AgentTimeoutMs:   300,
			DemoMode:         true,
			DemoLatencyMinMs: 5,
			DemoLatencyMaxMs: 10,
		},
		Broker: config.BrokerConfig{
			HealthGraceMs: 10000,
		},
		Shutdown: config.ShutdownConfig{DrainBudgetMs: 200},
		Usage: config.UsageConfig{
			Limits: map[string]int{"PUBLIC": 0, "FREE": 3, "PRO": 100, "BUSINESS": 1000, "ENTERPRISE": -1},
		},
	}
}

func discardLogger() zerolog.Logger {
	return zerolog.Nop()
}

func waitForStatus(t *testing.T, st store.Store, id uuid.UUID, want domain.AnalysisStatus, timeout time.Duration) domain.Analysis {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		a, err := st.GetAnalysis(context.Background(), id)
		require.NoError(t, err)
		if a.Status == want {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s", want)
	return domain.Analysis{}
}

func TestSubmitDemoOverrideReachesComplete(t *testing.T) {
	st := store.New(nil)
	cfg := testConfig()
	o := New(st, usage.New(st, cfg, nil), broker.NewMemory(), pushbus.New(16, nil), nil, discardLogger(), cfg)

	userID := uuid.New()
	id, err := o.Submit(context.Background(), &userID, domain.TierFree, "Stanley Cup tumbler", "product", "web")
	require.NoError(t, err)

	a := waitForStatus(t, st, id, domain.StatusComplete, 2*time.Second)
	assert.Equal(t, float64(62), a.Bot)
	assert.Equal(t, float64(34), a.Authenticity)
	assert.Equal(t, domain.BandYellow, a.Band)

	shame, err := st.ListShame(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, shame, 1)
	assert.Equal(t, a.ID, shame[0].AnalysisID)
}

func TestSubmitHappyFanoutAggregates(t *testing.T) {
	st := store.New(nil)
	cfg := testConfig()
	cfg.Orchestrator.DemoMode = false
	brk := broker.NewMemory()

	// Fake agent: replies on every agent/*/request topic it sees.
	scores := map[domain.AgentType]float64{
		domain.AgentBot:       15,
		domain.AgentTrend:     82,
		domain.AgentReview:    85,
		domain.AgentPromotion: 88,
	}
	for _, agentType := range domain.AnalyzerTypes {
		agentType := agentType
		_, _ = brk.Subscribe(topics.Subjects.AgentRequest(agentType), func(topic string, payload []byte) {
			var req struct {
				AnalysisID string `json:"analysisId"`
			}
			_ = json.Unmarshal(payload, &req)
			resp, _ := json.Marshal(map[string]any{
				"analysisId": req.AnalysisID,
				"agentType":  string(agentType),
				"score":      scores[agentType],
				"confidence": 90,
				"status":     "COMPLETE",
			})
			respTopic := "signalzero/agent/" + string(agentType) + "/response"
			_ = brk.Publish(context.Background(), respTopic, resp)
		})
	}

	o := New(st, usage.New(st, cfg, nil), brk, pushbus.New(16, nil), nil, discardLogger(), cfg)

	sub, _ := brk.Subscribe(topics.Subjects.AgentResponseWildcard(), func(topic string, payload []byte) {
		var r struct {
			AnalysisID string `json:"analysisId"`
			AgentType  string `json:"agentType"`
			Score      float64 `json:"score"`
		}
		_ = json.Unmarshal(payload, &r)
		id, _ := uuid.Parse(r.AnalysisID)
		_, _ = st.UpsertAgentResult(context.Background(), domain.AgentResult{
			AnalysisID: id,
			AgentType:  domain.AgentType(r.AgentType),
			Score:      r.Score,
			Status:     domain.ResultComplete,
		})
		o.OnAgentResponse(id)
	})
	defer sub.Unsubscribe()

	userID := uuid.New()
	id, err := o.Submit(context.Background(), &userID, domain.TierFree, "Local Artisan Coffee", "product", "web")
	require.NoError(t, err)

	a := waitForStatus(t, st, id, domain.StatusComplete, 2*time.Second)
	assert.Equal(t, float64(84), a.Authenticity)
	assert.Equal(t, domain.BandGreen, a.Band)
}

func TestSubmitPartialResponsesImputeAtDeadline(t *testing.T) {
	st := store.New(nil)
	cfg := testConfig()
	cfg.Orchestrator.DemoMode = false
	cfg.Orchestrator.AgentTimeoutMs = 150
	brk := broker.NewMemory()

	// Only bot and trend ever reply; review and promotion are left to
	// time out and be imputed to neutral (spec.md scenario S3).
	scores := map[domain.AgentType]float64{
		domain.AgentBot:   70,
		domain.AgentTrend: 30,
	}
	for agentType, score := range scores {
		agentType, score := agentType, score
		_, _ = brk.Subscribe(topics.Subjects.AgentRequest(agentType), func(topic string, payload []byte) {
			var req struct {
				AnalysisID string `json:"analysisId"`
			}
			_ = json.Unmarshal(payload, &req)
			resp, _ := json.Marshal(map[string]any{
				"analysisId": req.AnalysisID,
				"agentType":  string(agentType),
				"score":      score,
				"confidence": 90,
				"status":     "COMPLETE",
			})
			respTopic := "signalzero/agent/" + string(agentType) + "/response"
			_ = brk.Publish(context.Background(), respTopic, resp)
		})
	}

	o := New(st, usage.New(st, cfg, nil), brk, pushbus.New(16, nil), nil, discardLogger(), cfg)

	sub, _ := brk.Subscribe(topics.Subjects.AgentResponseWildcard(), func(topic string, payload []byte) {
		var r struct {
			AnalysisID string  `json:"analysisId"`
			AgentType  string  `json:"agentType"`
			Score      float64 `json:"score"`
		}
		_ = json.Unmarshal(payload, &r)
		id, _ := uuid.Parse(r.AnalysisID)
		_, _ = st.UpsertAgentResult(context.Background(), domain.AgentResult{
			AnalysisID: id,
			AgentType:  domain.AgentType(r.AgentType),
			Score:      r.Score,
			Status:     domain.ResultComplete,
		})
		o.OnAgentResponse(id)
	})
	defer sub.Unsubscribe()

	userID := uuid.New()
	id, err := o.Submit(context.Background(), &userID, domain.TierFree, "Local Artisan Coffee", "product", "web")
	require.NoError(t, err)

	a := waitForStatus(t, st, id, domain.StatusComplete, 2*time.Second)
	// 0.4*(100-70) + 0.3*30 + 0.2*50 + 0.1*50 = 12 + 9 + 10 + 5 = 36
	assert.Equal(t, float64(36), a.Authenticity)
	assert.Equal(t, domain.BandYellow, a.Band)
}

func TestSubmitAllPublishesFailedFailsFast(t *testing.T) {
	st := store.New(nil)
	cfg := testConfig()
	cfg.Orchestrator.DemoMode = false
	brk := alwaysFailBroker{Broker: broker.NewMemory()}

	o := New(st, usage.New(st, cfg, nil), brk, pushbus.New(16, nil), nil, discardLogger(), cfg)

	userID := uuid.New()
	id, err := o.Submit(context.Background(), &userID, domain.TierFree, "anything", "product", "web")
	require.NoError(t, err)

	a := waitForStatus(t, st, id, domain.StatusFailed, 2*time.Second)
	assert.Equal(t, "broker-unavailable", a.FailureReason)
}

func TestSubmitRejectsPublicTier(t *testing.T) {
	st := store.New(nil)
	cfg := testConfig()
	o := New(st, usage.New(st, cfg, nil), broker.NewMemory(), pushbus.New(16, nil), nil, discardLogger(), cfg)

	userID := uuid.New()
	_, err := o.Submit(context.Background(), &userID, domain.TierPublic, "anything", "product", "web")
	require.Error(t, err)
}

func TestCancelFailsAnalysisWithCancelledReason(t *testing.T) {
	st := store.New(nil)
	cfg := testConfig()
	cfg.Orchestrator.DemoMode = false
	cfg.Orchestrator.AgentTimeoutMs = 100
	o := New(st, usage.New(st, cfg, nil), broker.NewMemory(), pushbus.New(16, nil), nil, discardLogger(), cfg)

	userID := uuid.New()
	id, err := o.Submit(context.Background(), &userID, domain.TierFree, "never responds", "product", "web")
	require.NoError(t, err)

	require.NoError(t, o.Cancel(context.Background(), id))
	a, err := st.GetAnalysis(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, a.Status)
	assert.Equal(t, "cancelled", a.FailureReason)
}
