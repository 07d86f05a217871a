// Package orchestrator owns the end-to-end analysis lifecycle of spec.md
// §4.F: admit, publish fan-out, collect, aggregate, persist, broadcast.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/signalzero/core/internal/aggregator"
	"github.com/signalzero/core/internal/broker"
	"github.com/signalzero/core/internal/config"
	"github.com/signalzero/core/internal/domain"
	"github.com/signalzero/core/internal/metrics"
	"github.com/signalzero/core/internal/pushbus"
	"github.com/signalzero/core/internal/store"
	"github.com/signalzero/core/internal/topics"
	"github.com/signalzero/core/internal/usage"
)

const demoOverrideSource = "demo-override"

// healthAware is implemented by brokers that can report how long they have
// been continuously disconnected (the NATS implementation does; the
// in-memory fake does not, and is always treated as healthy).
type healthAware interface {
	UnhealthyFor(d time.Duration) bool
}

// pendingRequest tracks one in-flight analysis awaiting fan-in.
type pendingRequest struct {
	analysisID uuid.UUID
	deadline   time.Time
	wake       chan struct{}
	demo       bool
	cancelled  atomic.Bool
	done       atomic.Bool
}

func (p *pendingRequest) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Orchestrator implements submit/cancel and the internal completion loop.
type Orchestrator struct {
	store   store.Store
	usage   *usage.Meter
	broker  broker.Broker
	push    *pushbus.Bus
	metrics *metrics.Registry
	logger  zerolog.Logger
	cfg     config.Config

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingRequest

	closing atomic.Bool
	wg      sync.WaitGroup
}

// New wires an Orchestrator over its collaborators.
func New(st store.Store, meter *usage.Meter, brk broker.Broker, push *pushbus.Bus, reg *metrics.Registry, logger zerolog.Logger, cfg config.Config) *Orchestrator {
	return &Orchestrator{
		store:   st,
		usage:   meter,
		broker:  brk,
		push:    push,
		metrics: reg,
		logger:  logger,
		cfg:     cfg,
		pending: make(map[uuid.UUID]*pendingRequest),
	}
}

type agentRequestPayload struct {
	AnalysisID   string  `json:"analysisId"`
	CorrelationID string `json:"correlationId"`
	UserID       *string `json:"userId"`
	Query        string  `json:"query"`
	QueryType    string  `json:"queryType"`
	Platform     string  `json:"platform"`
	SubmittedAt  string  `json:"submittedAt"`
}

// Submit admits a new analysis per spec.md §4.F's submit algorithm and
// returns its id immediately; the remainder proceeds asynchronously.
func (o *Orchestrator) Submit(ctx context.Context, userID *uuid.UUID, tier domain.Tier, query, queryType, platform string) (uuid.UUID, error) {
	if o.closing.Load() {
		return uuid.Nil, domain.ErrInvalidInput("orchestrator is shutting down")
	}

	a := domain.Analysis{Query: query, QueryType: queryType, Platform: platform}
	if err := a.Validate(); err != nil {
		return uuid.Nil, err
	}

	if err := o.usage.Reserve(ctx, userID, tier); err != nil {
		return uuid.Nil, err
	}

	a.ID = uuid.New()
	a.UserID = userID
	a.Status = domain.StatusPending
	a.CorrelationID = topics.Subjects.CorrelationID(a.ID)
	a.CreatedAt = time.Now()

	if err := o.store.CreateAnalysis(ctx, a); err != nil {
		// spec.md §7: DuplicateCorrelation is retried once with a fresh id.
		a.ID = uuid.New()
		a.CorrelationID = topics.Subjects.CorrelationID(a.ID)
		if err := o.store.CreateAnalysis(ctx, a); err != nil {
			_ = o.usage.Release(ctx, userID)
			return uuid.Nil, fmt.Errorf("create analysis: %w", err)
		}
	}

	startedAt := time.Now()
	updated, err := o.store.UpdateAnalysisStatus(ctx, a.ID, []domain.AnalysisStatus{domain.StatusPending}, domain.StatusProcessing, func(an *domain.Analysis) {
		an.StartedAt = startedAt
	})
	if err != nil {
		_ = o.usage.Release(ctx, userID)
		return uuid.Nil, fmt.Errorf("start analysis: %w", err)
	}
	a = updated

	timeout := o.cfg.Orchestrator.AgentTimeout()
	pr := &pendingRequest{
		analysisID: a.ID,
		deadline:   startedAt.Add(timeout),
		wake:       make(chan struct{}, 1),
	}

	var override demoOverride
	var isDemo bool
	if o.cfg.Orchestrator.DemoMode {
		override, isDemo = matchDemoOverride(a.Query)
	}
	pr.demo = isDemo

	o.mu.Lock()
	o.pending[a.ID] = pr
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.PendingAnalyses.Inc()
		o.metrics.AnalysesSubmitted.Inc()
	}

	if isDemo {
		o.wg.Add(1)
		go o.runDemo(a, pr, override)
	} else {
		allFailed := o.fanOut(ctx, a)
		o.wg.Add(1)
		if allFailed {
			go o.failNoAgents(pr)
		} else {
			go o.runFanIn(pr)
		}
	}

	o.broadcastStatus(a.ID, domain.StatusProcessing, "")
	return a.ID, nil
}

// fanOut publishes one request per analyzer type, recording an immediate
// FAILED agent result for any publish that errors (spec.md §4.F step 5).
// It reports whether every publish failed.
func (o *Orchestrator) fanOut(ctx context.Context, a domain.Analysis) bool {
	var userID *string
	if a.UserID != nil {
		s := a.UserID.String()
		userID = &s
	}

	payload, err := json.Marshal(agentRequestPayload{
		AnalysisID:    a.ID.String(),
		CorrelationID: a.CorrelationID,
		UserID:        userID,
		Query:         a.Query,
		QueryType:     a.QueryType,
		Platform:      a.Platform,
		SubmittedAt:   time.Now().Format(time.RFC3339),
	})
	if err != nil {
		o.logger.Error().Err(err).Msg("marshal agent request payload")
		return true
	}

	allFailed := true
	for _, agentType := range domain.AnalyzerTypes {
		_, _ = o.store.UpsertAgentResult(ctx, domain.AgentResult{
			AnalysisID: a.ID,
			AgentType:  agentType,
			Status:     domain.ResultPending,
			CreatedAt:  time.Now(),
		})

		topic := topics.Subjects.AgentRequest(agentType)
		if err := o.broker.Publish(ctx, topic, payload); err != nil {
			o.logger.Warn().Err(err).Str("agent", string(agentType)).Msg("agent request publish failed")
			_, _ = o.store.UpsertAgentResult(ctx, domain.AgentResult{
				AnalysisID:  a.ID,
				AgentType:   agentType,
				Status:      domain.ResultFailed,
				CreatedAt:   time.Now(),
				CompletedAt: time.Now(),
			})
			continue
		}
		allFailed = false
	}

	if allFailed {
		o.logger.Warn().Str("analysisId", a.ID.String()).Msg("all agent publishes failed")
	}
	return allFailed
}

// failNoAgents transitions an analysis straight to FAILED(reason=
// broker-unavailable) when every per-agent publish in fanOut failed — no
// agent will ever respond, so there is no point waiting out the deadline
// only to finalize on an all-imputed score (spec.md §7, scenario S6).
func (o *Orchestrator) failNoAgents(pr *pendingRequest) {
	defer o.wg.Done()
	if !pr.done.CompareAndSwap(false, true) {
		return
	}
	defer o.cleanup(pr.analysisID)
	o.finalizeFailed(context.Background(), pr, "broker-unavailable")
}

// runDemo simulates the bounded-latency demo-override path: no broker
// fan-out, a small randomized delay, then finalize.
func (o *Orchestrator) runDemo(a domain.Analysis, pr *pendingRequest, override demoOverride) {
	defer o.wg.Done()

	delay := demoLatency(o.cfg.Orchestrator.DemoLatencyMinMs, o.cfg.Orchestrator.DemoLatencyMaxMs)
	time.Sleep(delay)

	ctx := context.Background()
	now := time.Now()
	for _, agentType := range domain.AnalyzerTypes {
		score := 50.0
		if agentType == domain.AgentBot {
			score = override.Bot
		}
		_, _ = o.store.UpsertAgentResult(ctx, domain.AgentResult{
			AnalysisID:  a.ID,
			AgentType:   agentType,
			Score:       score,
			Status:      domain.ResultComplete,
			Evidence:    map[string]any{"source": demoOverrideSource},
			CreatedAt:   now,
			CompletedAt: now,
		})
	}

	o.finalize(pr, override, true)
}

// runFanIn is the internal completion loop of spec.md §4.F: wake on each
// agent response or on deadline, finalize exactly once.
func (o *Orchestrator) runFanIn(pr *pendingRequest) {
	defer o.wg.Done()

	timer := time.NewTimer(time.Until(pr.deadline))
	defer timer.Stop()

	ctx := context.Background()
	for {
		select {
		case <-pr.wake:
			n, err := o.store.CountCompletedAgents(ctx, pr.analysisID)
			if err == nil && n >= len(domain.AnalyzerTypes) {
				o.finalize(pr, demoOverride{}, false)
				return
			}
		case <-timer.C:
			o.finalize(pr, demoOverride{}, false)
			return
		}
	}
}

// OnAgentResponse wakes the pending request for analysisID, if any — called
// by the Response Handler after it records a new agent result.
func (o *Orchestrator) OnAgentResponse(analysisID uuid.UUID) {
	o.mu.Lock()
	pr, ok := o.pending[analysisID]
	o.mu.Unlock()
	if ok {
		pr.notify()
	}
}

// finalize computes the terminal state for an analysis exactly once: the
// pr.done flag turns a second call for the same request into a no-op, and
// the conditional PROCESSING->COMPLETE transition in the store aborts
// finalize silently when the analysis is already terminal (e.g. cancelled),
// per spec.md §7.
func (o *Orchestrator) finalize(pr *pendingRequest, override demoOverride, isDemo bool) {
	if !pr.done.CompareAndSwap(false, true) {
		return
	}
	defer o.cleanup(pr.analysisID)

	ctx := context.Background()
	results, err := o.store.AgentResults(ctx, pr.analysisID)
	if err != nil {
		o.logger.Error().Err(err).Str("analysisId", pr.analysisID.String()).Msg("load agent results for finalize")
		return
	}

	responded := false
	for _, r := range results {
		if r.AgentType != domain.AgentAggregator && r.Status == domain.ResultComplete {
			responded = true
			break
		}
	}
	if !isDemo && !responded {
		unhealthy := !o.broker.IsConnected()
		if ha, ok := o.broker.(healthAware); ok {
			unhealthy = ha.UnhealthyFor(o.cfg.Broker.HealthGrace())
		}
		if unhealthy {
			o.finalizeFailed(ctx, pr, "no-agents")
			return
		}
	}

	var result aggregator.Result
	if isDemo {
		result = aggregator.Result{
			Bot:          override.Bot,
			Trend:        50,
			Review:       50,
			Promotion:    50,
			Authenticity: override.Authenticity,
			Band:         domain.ClassifyBand(override.Authenticity),
		}
	} else {
		result = aggregator.AggregateResults(results)
	}

	now := time.Now()
	_, _ = o.store.UpsertAgentResult(ctx, domain.AgentResult{
		AnalysisID:  pr.analysisID,
		AgentType:   domain.AgentAggregator,
		Score:       result.Authenticity,
		Status:      domain.ResultComplete,
		Evidence:    map[string]any{"imputed": imputedNames(result.Imputed)},
		CreatedAt:   now,
		CompletedAt: now,
	})

	analysis, err := o.store.UpdateAnalysisStatus(ctx, pr.analysisID, []domain.AnalysisStatus{domain.StatusProcessing}, domain.StatusComplete, func(an *domain.Analysis) {
		an.Bot = result.Bot
		an.Trend = result.Trend
		an.Review = result.Review
		an.Promotion = result.Promotion
		an.Authenticity = result.Authenticity
		an.Band = result.Band
		an.CompletedAt = now
		if !an.StartedAt.IsZero() {
			an.ProcessingMs = now.Sub(an.StartedAt).Milliseconds()
		}
	})
	if err != nil {
		// Already terminal via another path (e.g. cancel raced finalize).
		return
	}

	if domain.IsShameworthy(result.Bot, result.Authenticity) {
		_ = o.store.AddShameEntry(ctx, domain.ShameEntry{
			ID:           uuid.New(),
			AnalysisID:   analysis.ID,
			ProductName:  analysis.Query,
			Band:         analysis.Band,
			Bot:          analysis.Bot,
			Authenticity: analysis.Authenticity,
			Active:       true,
			CreatedAt:    now,
		})
	}

	if o.metrics != nil {
		o.metrics.AnalysesCompleted.WithLabelValues(string(analysis.Status), string(analysis.Band)).Inc()
		if !analysis.StartedAt.IsZero() {
			o.metrics.AnalysisDuration.Observe(now.Sub(analysis.StartedAt).Seconds())
		}
		for range result.Imputed {
			o.metrics.AgentResultsImputed.Inc()
		}
	}

	if !pr.cancelled.Load() {
		o.broadcastStatus(analysis.ID, analysis.Status, "")
		o.broadcastScore(analysis)
	}
}

func (o *Orchestrator) finalizeFailed(ctx context.Context, pr *pendingRequest, reason string) {
	analysis, err := o.store.UpdateAnalysisStatus(ctx, pr.analysisID, []domain.AnalysisStatus{domain.StatusProcessing}, domain.StatusFailed, func(an *domain.Analysis) {
		an.FailureReason = reason
		an.CompletedAt = time.Now()
	})
	if err != nil {
		return
	}
	if o.metrics != nil {
		o.metrics.AnalysesCompleted.WithLabelValues(string(analysis.Status), "").Inc()
	}
	if !pr.cancelled.Load() {
		o.broadcastStatus(analysis.ID, analysis.Status, reason)
	}
}

// Cancel attempts PROCESSING->FAILED(reason=cancelled). Agent responses
// that arrive afterwards are dropped by the Response Handler (the analysis
// is no longer PROCESSING), and the cancelled request triggers no further
// broadcasts.
func (o *Orchestrator) Cancel(ctx context.Context, analysisID uuid.UUID) error {
	o.mu.Lock()
	pr, ok := o.pending[analysisID]
	o.mu.Unlock()
	if ok {
		pr.cancelled.Store(true)
	}

	_, err := o.store.UpdateAnalysisStatus(ctx, analysisID, []domain.AnalysisStatus{domain.StatusProcessing}, domain.StatusFailed, func(an *domain.Analysis) {
		an.FailureReason = "cancelled"
		an.CompletedAt = time.Now()
	})
	if err != nil {
		return err
	}
	if ok {
		pr.notify()
	}
	return nil
}

func (o *Orchestrator) cleanup(analysisID uuid.UUID) {
	o.mu.Lock()
	delete(o.pending, analysisID)
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.PendingAnalyses.Dec()
	}
}

func (o *Orchestrator) broadcastStatus(analysisID uuid.UUID, status domain.AnalysisStatus, reason string) {
	o.push.Broadcast(pushbus.Event{
		Kind:       pushbus.EventStatus,
		AnalysisID: analysisID,
		Payload:    map[string]any{"analysisId": analysisID.String(), "status": string(status), "reason": reason},
	})

	payload, _ := json.Marshal(map[string]any{"analysisId": analysisID.String(), "status": string(status), "reason": reason})
	_ = o.broker.Publish(context.Background(), topics.Subjects.StatusUpdate(analysisID), payload)
}

func (o *Orchestrator) broadcastScore(a domain.Analysis) {
	o.push.Broadcast(pushbus.Event{
		Kind:       pushbus.EventScore,
		AnalysisID: a.ID,
		Payload: map[string]any{
			"analysisId":   a.ID.String(),
			"authenticity": a.Authenticity,
			"bot":          a.Bot,
			"band":         string(a.Band),
			"completedAt":  a.CompletedAt.Format(time.RFC3339),
		},
	})

	payload, _ := json.Marshal(map[string]any{
		"analysisId":   a.ID.String(),
		"authenticity": a.Authenticity,
		"bot":          a.Bot,
		"band":         string(a.Band),
		"completedAt":  a.CompletedAt.Format(time.RFC3339),
	})
	_ = o.broker.Publish(context.Background(), topics.Subjects.ScoreUpdate(a.ID), payload)
}

func imputedNames(types []domain.AgentType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// Shutdown stops accepting new submits, waits up to drainBudget for
// in-flight analyses to terminate, then forces FAILED(reason=shutdown) on
// the remainder (spec.md §5).
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.closing.Store(true)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(o.cfg.Shutdown.DrainBudget()):
	}

	o.mu.Lock()
	remaining := make([]*pendingRequest, 0, len(o.pending))
	for _, pr := range o.pending {
		remaining = append(remaining, pr)
	}
	o.mu.Unlock()

	for _, pr := range remaining {
		if !pr.done.CompareAndSwap(false, true) {
			continue
		}
		o.finalizeFailed(ctx, pr, "shutdown")
		o.cleanup(pr.analysisID)
	}
}
