// Package topics implements the deterministic topic grammar of spec.md
// §4.A: formatting and strict parsing of the broker subjects the core
// publishes and subscribes to, following the teacher's pkg/nats.Subjects
// builder and ParseMessage dispatcher.
package topics

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/signalzero/core/internal/domain"
)

const (
	rootRequest  = "signalzero/analysis/request"
	rootAgent    = "signalzero/agent"
	rootUpdates  = "signalzero/updates"
	rootShameAdd = "signalzero/dashboard/shame/add"
)

// Builder formats topics for the grammar in spec.md §4.A. The zero value is
// ready to use.
type Builder struct{}

// RequestFanout is the topic an orchestrator announces a new analysis on.
func (Builder) RequestFanout(userID *uuid.UUID, analysisID uuid.UUID) string {
	u := "anonymous"
	if userID != nil {
		u = userID.String()
	}
	return fmt.Sprintf("%s/%s/%s", rootRequest, u, analysisID.String())
}

// AgentRequest is the per-agent request topic an agent subscribes to.
func (Builder) AgentRequest(agent domain.AgentType) string {
	return fmt.Sprintf("%s/%s/request", rootAgent, agent)
}

// AgentResponse is the per-agent response topic the Response Handler
// subscribes to (with a `+` wildcard across all agent types).
func (Builder) AgentResponse(agent domain.AgentType) string {
	return fmt.Sprintf("%s/%s/response", rootAgent, agent)
}

// AgentResponseWildcard is the subscription pattern covering every agent's
// response topic.
func (Builder) AgentResponseWildcard() string {
	return fmt.Sprintf("%s/+/response", rootAgent)
}

// ScoreUpdate is the topic UI subscribers receive SCORE events on.
func (Builder) ScoreUpdate(analysisID uuid.UUID) string {
	return fmt.Sprintf("%s/score/%s", rootUpdates, analysisID.String())
}

// StatusUpdate is the topic UI subscribers receive STATUS events on.
func (Builder) StatusUpdate(analysisID uuid.UUID) string {
	return fmt.Sprintf("%s/status/%s", rootUpdates, analysisID.String())
}

// ShameAdd is the topic a new ShameEntry is announced on.
func (Builder) ShameAdd() string { return rootShameAdd }

// CorrelationID derives the correlation id for an analysis: the analysis
// id itself, stringified, per spec.md's GLOSSARY.
func (Builder) CorrelationID(analysisID uuid.UUID) string { return analysisID.String() }

// Subjects is the package-level Builder instance, mirroring the teacher's
// exported SubjectBuilder.
var Subjects = Builder{}

// Route is a strictly-parsed, typed decomposition of a raw topic string.
type Route struct {
	Kind       RouteKind
	AgentType  domain.AgentType
	UserID     string
	AnalysisID uuid.UUID
}

type RouteKind int

const (
	RouteUnknown RouteKind = iota
	RouteRequestFanout
	RouteAgentRequest
	RouteAgentResponse
	RouteScoreUpdate
	RouteStatusUpdate
	RouteShameAdd
)

// Parse decomposes a raw topic string against the known grammar. Topics
// that do not match any known pattern return ErrUnknownTopic — the caller
// is expected to log and discard, per spec.md §4.A.
func Parse(topic string) (Route, error) {
	parts := strings.Split(topic, "/")

	switch {
	case topic == rootShameAdd:
		return Route{Kind: RouteShameAdd}, nil

	case len(parts) == 5 && parts[0] == "signalzero" && parts[1] == "analysis" && parts[2] == "request":
		id, err := uuid.Parse(parts[4])
		if err != nil {
			return Route{}, domain.ErrUnknownTopic
		}
		return Route{Kind: RouteRequestFanout, UserID: parts[3], AnalysisID: id}, nil

	case len(parts) == 4 && parts[0] == "signalzero" && parts[1] == "agent" && parts[3] == "request":
		agent := domain.AgentType(parts[2])
		if !agent.Valid() {
			return Route{}, domain.ErrUnknownTopic
		}
		return Route{Kind: RouteAgentRequest, AgentType: agent}, nil

	case len(parts) == 4 && parts[0] == "signalzero" && parts[1] == "agent" && parts[3] == "response":
		agent := domain.AgentType(parts[2])
		if !agent.Valid() {
			return Route{}, domain.ErrUnknownTopic
		}
		return Route{Kind: RouteAgentResponse, AgentType: agent}, nil

	case len(parts) == 4 && parts[0] == "signalzero" && parts[1] == "updates" && parts[2] == "score":
		id, err := uuid.Parse(parts[3])
		if err != nil {
			return Route{}, domain.ErrUnknownTopic
		}
		return Route{Kind: RouteScoreUpdate, AnalysisID: id}, nil

	case len(parts) == 4 && parts[0] == "signalzero" && parts[1] == "updates" && parts[2] == "status":
		id, err := uuid.Parse(parts[3])
		if err != nil {
			return Route{}, domain.ErrUnknownTopic
		}
		return Route{Kind: RouteStatusUpdate, AnalysisID: id}, nil
	}

	return Route{}, domain.ErrUnknownTopic
}
