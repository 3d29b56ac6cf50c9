package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/askdb-io/askdb-engine/pkg/agent"
	"github.com/askdb-io/askdb-engine/pkg/apperrors"
	"github.com/askdb-io/askdb-engine/pkg/endpoint"
	"github.com/askdb-io/askdb-engine/pkg/memory"
)

// userIDHeader carries the authenticated identity attached by the outer
// layer (gateway or reverse proxy).
const userIDHeader = "X-User-Id"

// Runner drives one agent turn. Satisfied by agent.Pipeline.
type Runner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// FeedbackSetter records user feedback on a past query.
// Satisfied by memory.Service.
type FeedbackSetter interface {
	SetFeedback(ctx context.Context, recordID, feedback string) error
}

// QueryRequest is the POST query body.
type QueryRequest struct {
	Query         string `json:"query"`
	DBUrl         string `json:"dbUrl"`
	DBType        string `json:"dbType,omitempty"`
	DryRun        bool   `json:"dryRun,omitempty"`
	RefreshSchema bool   `json:"refreshSchema,omitempty"`
	Insight       bool   `json:"insight,omitempty"`
}

// FeedbackRequest is the POST feedback body.
type FeedbackRequest struct {
	QueryID  string `json:"queryId"`
	Feedback string `json:"feedback"`
}

// FeedbackResponse acknowledges recorded feedback.
type FeedbackResponse struct {
	Success bool `json:"success"`
}

// StatusResponse lists the engine's capabilities.
type StatusResponse struct {
	Status       string   `json:"status"`
	DBTypes      []string `json:"dbTypes"`
	Capabilities []string `json:"capabilities"`
	LLMEnabled   bool     `json:"llmEnabled"`
}

// QueryHandler serves the natural-language query surface.
type QueryHandler struct {
	runner     Runner
	feedback   FeedbackSetter
	llmEnabled bool
	logger     *zap.Logger
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(runner Runner, feedback FeedbackSetter, llmEnabled bool, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		runner:     runner,
		feedback:   feedback,
		llmEnabled: llmEnabled,
		logger:     logger.Named("http"),
	}
}

// RegisterRoutes registers the query handler's routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.Query)
	mux.HandleFunc("POST /api/feedback", h.Feedback)
	mux.HandleFunc("GET /api/status", h.Status)
}

// Query handles POST /api/query.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid request body", apperrors.ErrBadInput))
		return
	}

	kind, ok := endpoint.KindFromString(req.DBType)
	if !ok {
		h.writeError(w, fmt.Errorf("%w: unknown dbType %q", apperrors.ErrBadInput, req.DBType))
		return
	}

	var ep endpoint.Endpoint
	if req.DBUrl != "" {
		var err error
		ep, err = endpoint.Parse(req.DBUrl, kind)
		if err != nil {
			h.writeError(w, err)
			return
		}
	}

	resp, err := h.runner.Run(r.Context(), agent.Request{
		UserID:        userID,
		Text:          req.Query,
		Endpoint:      ep,
		DryRun:        req.DryRun,
		RefreshSchema: req.RefreshSchema,
		Verbose:       req.Insight,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to encode query response", zap.Error(err))
	}
}

// Feedback handles POST /api/feedback.
func (h *QueryHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("%w: invalid request body", apperrors.ErrBadInput))
		return
	}
	if req.Feedback != memory.FeedbackPositive && req.Feedback != memory.FeedbackNegative {
		h.writeError(w, fmt.Errorf("%w: feedback must be %q or %q",
			apperrors.ErrBadInput, memory.FeedbackPositive, memory.FeedbackNegative))
		return
	}

	if err := h.feedback.SetFeedback(r.Context(), req.QueryID, req.Feedback); err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", apperrors.ErrBadInput, err))
		return
	}
	if err := WriteJSON(w, http.StatusOK, FeedbackResponse{Success: true}); err != nil {
		h.logger.Error("failed to encode feedback response", zap.Error(err))
	}
}

// Status handles GET /api/status.
func (h *QueryHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status: "ok",
		DBTypes: []string{
			string(endpoint.KindDocument),
			string(endpoint.KindPostgres),
			string(endpoint.KindMySQL),
		},
		Capabilities: []string{"query", "dryRun", "refreshSchema", "insight", "feedback", "sessions"},
		LLMEnabled:   h.llmEnabled,
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("failed to encode status response", zap.Error(err))
	}
}

func (h *QueryHandler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		h.writeError(w, fmt.Errorf("%w: missing user identity", apperrors.ErrUnauthorized))
		return "", false
	}
	return userID, true
}

func (h *QueryHandler) writeError(w http.ResponseWriter, err error) {
	if writeErr := HandleError(w, err); writeErr != nil {
		h.logger.Error("failed to write error response", zap.Error(writeErr))
	}
}
