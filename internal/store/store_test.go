package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalzero/core/internal/domain"
)

func newAnalysis(corr string) domain.Analysis {
	return domain.Analysis{
		ID:            uuid.New(),
		Query:         "stanley cup",
		Status:        domain.StatusPending,
		CorrelationID: corr,
		CreatedAt:     time.Now(),
	}
}

func TestCreateAnalysisRejectsDuplicateCorrelation(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	a := newAnalysis("dup-1")
	require.NoError(t, s.CreateAnalysis(ctx, a))

	b := newAnalysis("dup-1")
	err := s.CreateAnalysis(ctx, b)
	assert.ErrorIs(t, err, domain.ErrDuplicateCorrelation)
}

func TestUpdateAnalysisStatusEnforcesTransitions(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	a := newAnalysis("corr-2")
	require.NoError(t, s.CreateAnalysis(ctx, a))

	_, err := s.UpdateAnalysisStatus(ctx, a.ID, []domain.AnalysisStatus{domain.StatusPending}, domain.StatusProcessing, nil)
	require.NoError(t, err)

	_, err = s.UpdateAnalysisStatus(ctx, a.ID, []domain.AnalysisStatus{domain.StatusPending}, domain.StatusComplete, nil)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	got, err := s.UpdateAnalysisStatus(ctx, a.ID, []domain.AnalysisStatus{domain.StatusProcessing}, domain.StatusComplete, func(an *domain.Analysis) {
		an.Authenticity = 70
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, got.Status)
	assert.Equal(t, float64(70), got.Authenticity)
}

func TestUpsertAgentResultIsIdempotent(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	a := newAnalysis("corr-3")
	require.NoError(t, s.CreateAnalysis(ctx, a))

	r := domain.AgentResult{AnalysisID: a.ID, AgentType: domain.AgentBot, Score: 40, Status: domain.ResultComplete}
	inserted, err := s.UpsertAgentResult(ctx, r)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.UpsertAgentResult(ctx, r)
	require.NoError(t, err)
	assert.False(t, inserted)

	n, err := s.CountCompletedAgents(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCountCompletedAgentsIgnoresPendingRows(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	a := newAnalysis("corr-pending")
	require.NoError(t, s.CreateAnalysis(ctx, a))

	for _, agentType := range domain.AnalyzerTypes {
		_, err := s.UpsertAgentResult(ctx, domain.AgentResult{
			AnalysisID: a.ID,
			AgentType:  agentType,
			Status:     domain.ResultPending,
		})
		require.NoError(t, err)
	}

	n, err := s.CountCompletedAgents(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = s.UpsertAgentResult(ctx, domain.AgentResult{
		AnalysisID: a.ID,
		AgentType:  domain.AgentBot,
		Status:     domain.ResultComplete,
		Score:      10,
	})
	require.NoError(t, err)

	n, err = s.CountCompletedAgents(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIncrementUsageResetsOnMonthBoundary(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	userID := uuid.New()

	jan := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)

	n, err := s.IncrementUsage(ctx, userID, jan)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.IncrementUsage(ctx, userID, jan.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.IncrementUsage(ctx, userID, feb)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListShameOrdering(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.AddShameEntry(ctx, domain.ShameEntry{ID: uuid.New(), DisplayOrder: 2, Bot: 90, CreatedAt: now}))
	require.NoError(t, s.AddShameEntry(ctx, domain.ShameEntry{ID: uuid.New(), DisplayOrder: 1, Bot: 60, CreatedAt: now}))
	require.NoError(t, s.AddShameEntry(ctx, domain.ShameEntry{ID: uuid.New(), DisplayOrder: 1, Bot: 95, CreatedAt: now}))

	entries, err := s.ListShame(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 1, entries[0].DisplayOrder)
	assert.Equal(t, float64(95), entries[0].Bot)
	assert.Equal(t, 1, entries[1].DisplayOrder)
	assert.Equal(t, float64(60), entries[1].Bot)
	assert.Equal(t, 2, entries[2].DisplayOrder)
}
