// Package domain holds the entities the core owns: users, analyses, agent
// results and shame-list entries, plus the invariants spec.md §3 requires of
// them.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tier is a subscription tier controlling the monthly analysis quota.
type Tier string

const (
	TierPublic     Tier = "PUBLIC"
	TierFree       Tier = "FREE"
	TierPro        Tier = "PRO"
	TierBusiness   Tier = "BUSINESS"
	TierEnterprise Tier = "ENTERPRISE"
)

func (t Tier) Valid() bool {
	switch t {
	case TierPublic, TierFree, TierPro, TierBusiness, TierEnterprise:
		return true
	}
	return false
}

// AnalysisStatus is the lifecycle state of an Analysis.
type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "PENDING"
	StatusProcessing AnalysisStatus = "PROCESSING"
	StatusComplete   AnalysisStatus = "COMPLETE"
	StatusFailed     AnalysisStatus = "FAILED"
	StatusTimeout    AnalysisStatus = "TIMEOUT"
)

// Band is the categorical projection of an authenticity score.
type Band string

const (
	BandGreen  Band = "GREEN"
	BandYellow Band = "YELLOW"
	BandRed    Band = "RED"
)

// AgentType identifies one of the five independent analyzers.
type AgentType string

const (
	AgentBot        AgentType = "bot"
	AgentTrend      AgentType = "trend"
	AgentReview     AgentType = "review"
	AgentPromotion  AgentType = "promotion"
	AgentAggregator AgentType = "aggregator"
)

// AnalyzerTypes is the fixed, ordered set of external analyzers fanned out
// to on submit. AgentAggregator is never fanned out to — it is written only
// by the Aggregator itself.
var AnalyzerTypes = []AgentType{AgentBot, AgentTrend, AgentReview, AgentPromotion}

func (a AgentType) Valid() bool {
	switch a {
	case AgentBot, AgentTrend, AgentReview, AgentPromotion, AgentAggregator:
		return true
	}
	return false
}

// AgentResultStatus is the lifecycle state of a single AgentResult row.
type AgentResultStatus string

const (
	ResultPending  AgentResultStatus = "PENDING"
	ResultComplete AgentResultStatus = "COMPLETE"
	ResultFailed   AgentResultStatus = "FAILED"
	ResultTimeout  AgentResultStatus = "TIMEOUT"
)

const maxQueryBytes = 2 * 1024
const maxEvidenceBytes = 64 * 1024

// User is an opaque-identity principal with a monthly analysis quota.
type User struct {
	ID             uuid.UUID
	Tier           Tier
	UsedThisMonth  int
	LastReset      time.Time
	Active         bool
	CreatedAt      time.Time
}

// Analysis is one request/response lifecycle carrying a query to a scored
// verdict. Score fields are populated exactly once, at the COMPLETE
// transition.
type Analysis struct {
	ID            uuid.UUID
	UserID        *uuid.UUID
	Query         string
	QueryType     string
	Platform      string
	Status        AnalysisStatus
	Bot           float64
	Trend         float64
	Review        float64
	Promotion     float64
	Authenticity  float64
	Band          Band
	CorrelationID string
	FailureReason string
	CreatedAt     time.Time
	StartedAt     time.Time
	CompletedAt   time.Time
	ProcessingMs  int64
}

// Validate checks the invariants that must hold before an Analysis is
// admitted to the store: a trimmed, non-empty, size-bounded query.
func (a *Analysis) Validate() error {
	q := strings.TrimSpace(a.Query)
	if q == "" {
		return ErrInvalidInput("query must not be empty")
	}
	if len(q) > maxQueryBytes {
		q = q[:maxQueryBytes]
	}
	a.Query = q
	return nil
}

// AgentResult is one analyzer's contribution to an Analysis, keyed uniquely
// by (AnalysisID, AgentType).
type AgentResult struct {
	AnalysisID   uuid.UUID
	AgentType    AgentType
	Score        float64
	Confidence   float64
	Status       AgentResultStatus
	Evidence     map[string]any
	ProcessingMs int64
	CreatedAt    time.Time
	CompletedAt  time.Time
}

// EvidenceSize is an approximation of the serialized evidence size used to
// enforce the 64KB bound spec.md §3 places on AgentResult.Evidence.
func EvidenceSize(evidence map[string]any) int {
	n := 0
	for k, v := range evidence {
		n += len(k)
		if s, ok := v.(string); ok {
			n += len(s)
		} else {
			n += 16
		}
	}
	return n
}

func (r *AgentResult) Validate() error {
	if !r.AgentType.Valid() {
		return ErrInvalidInput("unknown agent type")
	}
	if r.Score < 0 || r.Score > 100 {
		return ErrInvalidInput("score out of range")
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return ErrInvalidInput("confidence out of range")
	}
	if EvidenceSize(r.Evidence) > maxEvidenceBytes {
		return ErrInvalidInput("evidence too large")
	}
	return nil
}

// ShameEntry mirrors an Analysis that crossed the manipulation thresholds in
// spec.md §4.F, surfaced for public display.
type ShameEntry struct {
	ID           uuid.UUID
	AnalysisID   uuid.UUID
	ProductName  string
	Band         Band
	Bot          float64
	Authenticity float64
	Active       bool
	DisplayOrder int
	CreatedAt    time.Time
}

// ClassifyBand maps an authenticity score to its band per spec.md §4.E:
// >=67 GREEN, 34-66 YELLOW, <=33 RED.
func ClassifyBand(authenticity float64) Band {
	switch {
	case authenticity >= 67:
		return BandGreen
	case authenticity <= 33:
		return BandRed
	default:
		return BandYellow
	}
}

// IsShameworthy reports whether a completed analysis meets the shame-list
// threshold in spec.md §4.F: bot >= 60 or authenticity <= 33.
func IsShameworthy(bot, authenticity float64) bool {
	return bot >= 60 || authenticity <= 33
}
