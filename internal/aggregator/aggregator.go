// Package aggregator computes the weighted authenticity score of spec.md
// §4.E from the four analyzer contributions, imputing a neutral value for
// any agent that never reported.
package aggregator

import (
	"math"

	"github.com/signalzero/core/internal/domain"
)

const (
	weightBot       = 0.4
	weightTrend     = 0.3
	weightReview    = 0.2
	weightPromotion = 0.1

	neutralScore = 50.0
)

// Inputs holds one contribution per analyzer, already resolved to either an
// observed score or the neutral fallback.
type Inputs struct {
	Bot       float64
	Trend     float64
	Review    float64
	Promotion float64
	// Imputed lists the agent types that did not report in time and were
	// substituted with the neutral fallback.
	Imputed []domain.AgentType
}

// Result is the aggregator's output: the final score, its band, and which
// inputs were imputed, surfaced verbatim in the evidence payload spec.md
// §4.E requires.
type Result struct {
	Bot          float64
	Trend        float64
	Review       float64
	Promotion    float64
	Authenticity float64
	Band         domain.Band
	Imputed      []domain.AgentType
}

// Resolve builds an Inputs from whatever AgentResults arrived, substituting
// neutralScore for any AnalyzerTypes entry with no COMPLETE result.
func Resolve(results []domain.AgentResult) Inputs {
	scores := make(map[domain.AgentType]float64, len(results))
	for _, r := range results {
		if r.Status == domain.ResultComplete {
			scores[r.AgentType] = r.Score
		}
	}

	in := Inputs{}
	get := func(t domain.AgentType) float64 {
		if v, ok := scores[t]; ok {
			return v
		}
		in.Imputed = append(in.Imputed, t)
		return neutralScore
	}

	in.Bot = get(domain.AgentBot)
	in.Trend = get(domain.AgentTrend)
	in.Review = get(domain.AgentReview)
	in.Promotion = get(domain.AgentPromotion)
	return in
}

// Aggregate applies the fixed weighting formula from spec.md §4.E:
// authenticity = round(0.4*(100-bot) + 0.3*trend + 0.2*review + 0.1*promotion),
// clamped to [0, 100].
func Aggregate(in Inputs) Result {
	raw := weightBot*(100-in.Bot) + weightTrend*in.Trend + weightReview*in.Review + weightPromotion*in.Promotion
	authenticity := math.Round(raw)
	if authenticity < 0 {
		authenticity = 0
	}
	if authenticity > 100 {
		authenticity = 100
	}

	return Result{
		Bot:          in.Bot,
		Trend:        in.Trend,
		Review:       in.Review,
		Promotion:    in.Promotion,
		Authenticity: authenticity,
		Band:         domain.ClassifyBand(authenticity),
		Imputed:      in.Imputed,
	}
}

// AggregateResults is the convenience entry point the Orchestrator calls at
// finalize time: resolve missing agents to neutral, then aggregate.
func AggregateResults(results []domain.AgentResult) Result {
	return Aggregate(Resolve(results))
}
