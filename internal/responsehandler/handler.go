// Package responsehandler implements the Response Handler of spec.md §4.G:
// it validates incoming agent responses, writes agent results, and notifies
// the Orchestrator. It never mutates Analysis status.
package responsehandler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/signalzero/core/internal/broker"
	"github.com/signalzero/core/internal/domain"
	"github.com/signalzero/core/internal/metrics"
	"github.com/signalzero/core/internal/store"
	"github.com/signalzero/core/internal/topics"
)

// notifier is the subset of Orchestrator the handler depends on, kept
// narrow so tests can supply a stub instead of a full Orchestrator.
type notifier interface {
	OnAgentResponse(analysisID uuid.UUID)
}

// Handler subscribes to every agent response topic and reconciles incoming
// payloads against the store.
type Handler struct {
	store   store.Store
	broker  broker.Broker
	orch    notifier
	metrics *metrics.Registry
	logger  zerolog.Logger
}

// New builds a Handler. orch may be nil in tests that only exercise store
// writes.
func New(st store.Store, brk broker.Broker, orch notifier, reg *metrics.Registry, logger zerolog.Logger) *Handler {
	return &Handler{store: st, broker: brk, orch: orch, metrics: reg, logger: logger}
}

// Start subscribes to the agent response wildcard topic.
func (h *Handler) Start() (broker.Subscription, error) {
	return h.broker.Subscribe(topics.Subjects.AgentResponseWildcard(), h.handle)
}

type agentResponsePayload struct {
	AnalysisID   string         `json:"analysisId"`
	AgentType    string         `json:"agentType"`
	Score        float64        `json:"score"`
	Confidence   float64        `json:"confidence"`
	Status       string         `json:"status"`
	Evidence     map[string]any `json:"evidence"`
	ProcessingMs int64          `json:"processingMs"`
	ProducedAt   string         `json:"producedAt"`
}

// handle is the per-message entry point wired to the broker subscription.
func (h *Handler) handle(topic string, payload []byte) {
	var msg agentResponsePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.countMalformed()
		return
	}

	analysisID, err := uuid.Parse(msg.AnalysisID)
	if err != nil {
		h.countMalformed()
		return
	}

	result := domain.AgentResult{
		AnalysisID:   analysisID,
		AgentType:    domain.AgentType(msg.AgentType),
		Score:        msg.Score,
		Confidence:   msg.Confidence,
		Status:       domain.AgentResultStatus(msg.Status),
		Evidence:     msg.Evidence,
		ProcessingMs: msg.ProcessingMs,
		CreatedAt:    time.Now(),
		CompletedAt:  time.Now(),
	}
	if err := result.Validate(); err != nil {
		h.countMalformed()
		return
	}

	ctx := context.Background()
	analysis, err := h.store.GetAnalysis(ctx, analysisID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.countLate()
			return
		}
		h.logger.Error().Err(err).Msg("load analysis for agent response")
		return
	}
	if analysis.Status != domain.StatusProcessing {
		h.countLate()
		return
	}

	inserted, err := h.store.UpsertAgentResult(ctx, result)
	if err != nil {
		h.logger.Error().Err(err).Str("analysisId", msg.AnalysisID).Msg("upsert agent result")
		return
	}
	if !inserted && h.metrics != nil {
		h.metrics.ResponsesDuplicate.Inc()
	}
	if h.metrics != nil {
		h.metrics.AgentResultsArrived.WithLabelValues(msg.AgentType).Inc()
	}

	// Notify even on replay: the Orchestrator's completion check is
	// idempotent (re-counting completed agents), so a duplicate notify is
	// harmless (spec.md §4.G step 3).
	if h.orch != nil {
		h.orch.OnAgentResponse(analysisID)
	}
}

func (h *Handler) countMalformed() {
	if h.metrics != nil {
		h.metrics.ResponsesMalformed.Inc()
	}
}

func (h *Handler) countLate() {
	if h.metrics != nil {
		h.metrics.ResponsesLate.Inc()
	}
}
