package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"

	"github.com/signalzero/core/internal/config"
	"github.com/signalzero/core/internal/domain"
	"github.com/signalzero/core/internal/identity"
)

type handlers struct {
	deps Deps
	cfg  config.Config
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type submitRequest struct {
	Query     string `json:"query"`
	QueryType string `json:"queryType"`
	Platform  string `json:"platform"`
}

type submitResponse struct {
	AnalysisID string `json:"analysisId"`
}

// submitAnalysis is the Intake API's analyze operation (spec.md §4.J):
// admit a query, return an identifier the caller can poll or stream.
func (h *handlers) submitAnalysis(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed request body")
		return
	}

	id, _ := identity.FromContext(r.Context())
	analysisID, err := h.deps.Orchestrator.Submit(r.Context(), id.UserID, id.Tier, req.Query, req.QueryType, req.Platform)
	if err != nil {
		h.writeOrchestratorError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(submitResponse{AnalysisID: analysisID.String()})
}

func (h *handlers) getAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed analysis id")
		return
	}

	a, err := h.deps.Store.GetAnalysis(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "analysis not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "failed to load analysis")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(analysisView(a))
}

func (h *handlers) cancelAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed analysis id")
		return
	}

	if err := h.deps.Orchestrator.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) || errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusConflict, "illegal_transition", "analysis cannot be cancelled in its current state")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "failed to cancel analysis")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listShame(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := parsePositiveInt(raw); err == nil {
			limit = n
		}
	}

	entries, err := h.deps.ShameList.Top(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to load shame list")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

func (h *handlers) writeOrchestratorError(w http.ResponseWriter, r *http.Request, err error) {
	var quota *domain.QuotaExceededDetail
	var invalid *domain.InvalidInputError
	switch {
	case errors.As(err, &quota):
		hlog.FromRequest(r).Info().Err(err).Msg("quota exceeded")
		writeError(w, http.StatusTooManyRequests, "quota_exceeded", quota.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("submit analysis failed")
		writeError(w, http.StatusInternalServerError, "internal", "failed to submit analysis")
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: code, Message: message})
}

type analysisResponse struct {
	AnalysisID    string  `json:"analysisId"`
	Status        string  `json:"status"`
	Query         string  `json:"query"`
	Bot           float64 `json:"bot"`
	Trend         float64 `json:"trend"`
	Review        float64 `json:"review"`
	Promotion     float64 `json:"promotion"`
	Authenticity  float64 `json:"authenticity"`
	Band          string  `json:"band"`
	FailureReason string  `json:"failureReason,omitempty"`
}

func analysisView(a domain.Analysis) analysisResponse {
	return analysisResponse{
		AnalysisID:    a.ID.String(),
		Status:        string(a.Status),
		Query:         a.Query,
		Bot:           a.Bot,
		Trend:         a.Trend,
		Review:        a.Review,
		Promotion:     a.Promotion,
		Authenticity:  a.Authenticity,
		Band:          string(a.Band),
		FailureReason: a.FailureReason,
	}
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.New("not a number")
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return 0, errors.New("not positive")
	}
	return n, nil
}
