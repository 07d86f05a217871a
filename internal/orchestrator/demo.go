package orchestrator

import (
	"math/rand"
	"strings"
	"time"
)

// demoOverride is a deterministic {bot, authenticity} pair substituted for
// a live fan-out when orchestrator.demoMode is enabled, per spec.md §4.F.
type demoOverride struct {
	Bot          float64
	Authenticity float64
}

// demoOverrides is keyed by the normalized (trimmed, lowercased) query.
var demoOverrides = map[string]demoOverride{
	"stanley cup":  {Bot: 62, Authenticity: 34},
	"$buzz":        {Bot: 87, Authenticity: 12},
	"prime energy": {Bot: 71, Authenticity: 29},
}

// matchDemoOverride reports whether query matches a known override table
// entry after normalization, following the teacher's substring-match
// convention for free-form query classification.
func matchDemoOverride(query string) (demoOverride, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	for key, ov := range demoOverrides {
		if strings.Contains(q, key) {
			return ov, true
		}
	}
	return demoOverride{}, false
}

// demoLatency returns a random delay within [minMs, maxMs] to simulate
// agent processing time in demo mode.
func demoLatency(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	span := maxMs - minMs
	return time.Duration(minMs+rand.Intn(span)) * time.Millisecond
}
