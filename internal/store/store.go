// Package store is the Data Store of spec.md §4.C: an in-memory,
// mutex-guarded repository for users, analyses, agent results and shame
// entries. No complete teacher-eligible repo in the retrieval pack imports
// a SQL or KV driver — DESIGN.md records this as a deliberate choice, not a
// gap. The Store interface isolates every caller from that choice so a real
// backend can be swapped in without touching the Orchestrator, Usage Meter
// or HTTP API.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalzero/core/internal/domain"
	"github.com/signalzero/core/internal/metrics"
)

// Store is the full repository surface every component depends on.
type Store interface {
	CreateAnalysis(ctx context.Context, a domain.Analysis) error
	GetAnalysis(ctx context.Context, id uuid.UUID) (domain.Analysis, error)
	FindByCorrelation(ctx context.Context, correlationID string) (domain.Analysis, error)
	UpdateAnalysisStatus(ctx context.Context, id uuid.UUID, from []domain.AnalysisStatus, to domain.AnalysisStatus, mutate func(*domain.Analysis)) (domain.Analysis, error)
	ListPublicAnalyses(ctx context.Context, limit int) ([]domain.Analysis, error)
	ListPending(ctx context.Context) ([]domain.Analysis, error)

	UpsertAgentResult(ctx context.Context, r domain.AgentResult) (inserted bool, err error)
	AgentResults(ctx context.Context, analysisID uuid.UUID) ([]domain.AgentResult, error)
	CountCompletedAgents(ctx context.Context, analysisID uuid.UUID) (int, error)

	AddShameEntry(ctx context.Context, e domain.ShameEntry) error
	ListShame(ctx context.Context, limit int) ([]domain.ShameEntry, error)

	GetUser(ctx context.Context, id uuid.UUID) (domain.User, error)
	PutUser(ctx context.Context, u domain.User) error
	IncrementUsage(ctx context.Context, userID uuid.UUID, now time.Time) (count int, err error)
	ReleaseUsage(ctx context.Context, userID uuid.UUID) error
}

type analysisRow struct {
	analysis domain.Analysis
	results  map[domain.AgentType]domain.AgentResult
}

// memoryStore implements Store with mutex-guarded maps, mirroring the
// teacher's session.Hub pattern of a single RWMutex protecting a map of
// owned state, generalized from connections to analyses/users/shame rows.
type memoryStore struct {
	metrics *metrics.Registry

	mu            sync.RWMutex
	analyses      map[uuid.UUID]*analysisRow
	correlations  map[string]uuid.UUID
	users         map[uuid.UUID]domain.User
	shame         []domain.ShameEntry
}

// New returns an empty, ready-to-use in-memory Store.
func New(reg *metrics.Registry) Store {
	return &memoryStore{
		metrics:      reg,
		analyses:     make(map[uuid.UUID]*analysisRow),
		correlations: make(map[string]uuid.UUID),
		users:        make(map[uuid.UUID]domain.User),
	}
}

func (s *memoryStore) observe(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (s *memoryStore) fail(op, kind string) {
	if s.metrics != nil {
		s.metrics.StoreOpErrors.WithLabelValues(op, kind).Inc()
	}
}

func (s *memoryStore) CreateAnalysis(ctx context.Context, a domain.Analysis) error {
	defer s.observe("create_analysis", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.correlations[a.CorrelationID]; exists {
		s.fail("create_analysis", "duplicate_correlation")
		return domain.ErrDuplicateCorrelation
	}
	s.analyses[a.ID] = &analysisRow{analysis: a, results: make(map[domain.AgentType]domain.AgentResult)}
	s.correlations[a.CorrelationID] = a.ID
	return nil
}

func (s *memoryStore) GetAnalysis(ctx context.Context, id uuid.UUID) (domain.Analysis, error) {
	defer s.observe("get_analysis", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.analyses[id]
	if !ok {
		s.fail("get_analysis", "not_found")
		return domain.Analysis{}, domain.ErrNotFound
	}
	return row.analysis, nil
}

func (s *memoryStore) FindByCorrelation(ctx context.Context, correlationID string) (domain.Analysis, error) {
	defer s.observe("find_by_correlation", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.correlations[correlationID]
	if !ok {
		s.fail("find_by_correlation", "not_found")
		return domain.Analysis{}, domain.ErrNotFound
	}
	return s.analyses[id].analysis, nil
}

// UpdateAnalysisStatus enforces the monotone lifecycle transition: the
// current status must be a member of from, or the update is rejected with
// ErrIllegalTransition — the mechanism that gives finalize its
// exactly-once guarantee (spec.md §4.D/§4.F).
func (s *memoryStore) UpdateAnalysisStatus(ctx context.Context, id uuid.UUID, from []domain.AnalysisStatus, to domain.AnalysisStatus, mutate func(*domain.Analysis)) (domain.Analysis, error) {
	defer s.observe("update_analysis_status", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.analyses[id]
	if !ok {
		s.fail("update_analysis_status", "not_found")
		return domain.Analysis{}, domain.ErrNotFound
	}

	allowed := false
	for _, f := range from {
		if row.analysis.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		s.fail("update_analysis_status", "illegal_transition")
		return domain.Analysis{}, domain.ErrIllegalTransition
	}

	row.analysis.Status = to
	if mutate != nil {
		mutate(&row.analysis)
	}
	return row.analysis, nil
}

func (s *memoryStore) ListPublicAnalyses(ctx context.Context, limit int) ([]domain.Analysis, error) {
	defer s.observe("list_public_analyses", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Analysis, 0, len(s.analyses))
	for _, row := range s.analyses {
		if row.analysis.Status == domain.StatusComplete || row.analysis.Status == domain.StatusFailed {
			out = append(out, row.analysis)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) ListPending(ctx context.Context) ([]domain.Analysis, error) {
	defer s.observe("list_pending", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Analysis, 0)
	for _, row := range s.analyses {
		if row.analysis.Status == domain.StatusPending || row.analysis.Status == domain.StatusProcessing {
			out = append(out, row.analysis)
		}
	}
	return out, nil
}

// UpsertAgentResult is idempotent on (analysisId, agentType): a replayed
// response overwrites the existing row rather than producing a duplicate,
// and reports inserted=false so the Response Handler can count it as a
// duplicate for metrics (spec.md §4.E).
func (s *memoryStore) UpsertAgentResult(ctx context.Context, r domain.AgentResult) (bool, error) {
	defer s.observe("upsert_agent_result", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.analyses[r.AnalysisID]
	if !ok {
		s.fail("upsert_agent_result", "not_found")
		return false, domain.ErrNotFound
	}
	_, existed := row.results[r.AgentType]
	row.results[r.AgentType] = r
	return !existed, nil
}

func (s *memoryStore) AgentResults(ctx context.Context, analysisID uuid.UUID) ([]domain.AgentResult, error) {
	defer s.observe("agent_results", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.analyses[analysisID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]domain.AgentResult, 0, len(row.results))
	for _, r := range row.results {
		out = append(out, r)
	}
	return out, nil
}

func (s *memoryStore) CountCompletedAgents(ctx context.Context, analysisID uuid.UUID) (int, error) {
	defer s.observe("count_completed_agents", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.analyses[analysisID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	n := 0
	for _, r := range row.results {
		if r.Status == domain.ResultComplete {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) AddShameEntry(ctx context.Context, e domain.ShameEntry) error {
	defer s.observe("add_shame_entry", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.shame = append(s.shame, e)
	if s.metrics != nil {
		s.metrics.ShameEntriesTotal.Inc()
	}
	return nil
}

// ListShame returns the top limit entries ordered displayOrder ASC, bot
// DESC, createdAt DESC, per spec.md §3's ShameEntry ordering rule.
func (s *memoryStore) ListShame(ctx context.Context, limit int) ([]domain.ShameEntry, error) {
	defer s.observe("list_shame", time.Now())

	s.mu.RLock()
	out := make([]domain.ShameEntry, len(s.shame))
	copy(out, s.shame)
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		if out[i].Bot != out[j].Bot {
			return out[i].Bot > out[j].Bot
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *memoryStore) PutUser(ctx context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[u.ID] = u
	return nil
}

// IncrementUsage applies the month-boundary reset rule (spec.md §4.G):
// a user's counter resets to zero the first time it is touched in a new
// calendar month, then increments and is returned.
func (s *memoryStore) IncrementUsage(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		u = domain.User{ID: userID, Tier: domain.TierPublic, Active: true, CreatedAt: now}
	}
	if u.LastReset.Year() != now.Year() || u.LastReset.Month() != now.Month() {
		u.UsedThisMonth = 0
		u.LastReset = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	u.UsedThisMonth++
	s.users[userID] = u
	return u.UsedThisMonth, nil
}

func (s *memoryStore) ReleaseUsage(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok || u.UsedThisMonth <= 0 {
		return nil
	}
	u.UsedThisMonth--
	s.users[userID] = u
	return nil
}
