// Package sweeper runs the background maintenance loop that catches
// analyses the ordinary fan-in path cannot: rows left in PENDING or
// PROCESSING with no live orchestrator goroutine watching them (for
// example after a crash between createAnalysis and finalize). This is not named as its own component in spec.md, but its
// existence is implied by the Orchestrator's store-centric recovery model
// (DESIGN.md records the decision to add it explicitly).
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalzero/core/internal/domain"
	"github.com/signalzero/core/internal/store"
)

// Sweeper periodically scans for stuck analyses and moves them to TIMEOUT
// with FailureReason "stuck-pending". It does not release usage.
type Sweeper struct {
	store    store.Store
	logger   zerolog.Logger
	interval time.Duration
	maxAge   time.Duration

	stop chan struct{}
	done chan struct{}
}

// New builds a Sweeper that scans every interval for PENDING/PROCESSING
// analyses older than maxAge.
func New(st store.Store, logger zerolog.Logger, interval, maxAge time.Duration) *Sweeper {
	return &Sweeper{
		store:    st,
		logger:   logger,
		interval: interval,
		maxAge:   maxAge,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks, sweeping on a ticker until Stop is called.
func (s *Sweeper) Run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stop:
			return
		}
	}
}

// Stop signals Run to exit and waits for it to return.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) sweepOnce() {
	ctx := context.Background()
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweeper: list pending")
		return
	}

	now := time.Now()
	for _, a := range pending {
		age := now.Sub(a.CreatedAt)
		if age < s.maxAge {
			continue
		}

		from := []domain.AnalysisStatus{domain.StatusPending, domain.StatusProcessing}
		_, err := s.store.UpdateAnalysisStatus(ctx, a.ID, from, domain.StatusTimeout, func(an *domain.Analysis) {
			an.FailureReason = "stuck-pending"
			an.CompletedAt = now
		})
		if err != nil {
			continue
		}
		s.logger.Warn().Str("analysisId", a.ID.String()).Dur("age", age).Msg("sweeper: failed stuck analysis")
	}
}
