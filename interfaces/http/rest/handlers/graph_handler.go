package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"docgraph/application/services"
	apperrors "docgraph/pkg/errors"
)

// GraphRunner is the graph service surface the handler drives
type GraphRunner interface {
	Build(ctx context.Context, opts services.RunOptions) (*services.RunResult, error)
	Refresh(ctx context.Context, opts services.RunOptions) (*services.RunResult, error)
	Current(ctx context.Context) (*services.GraphView, error)
	Invalidate(ctx context.Context) error
	Abort() (string, bool)
}

// RunRequest is the body of build and refresh requests. Every field is
// optional; an empty body uses the configured defaults.
type RunRequest struct {
	IncludeTags    *bool  `json:"includeTags"`
	IncludeFolders *bool  `json:"includeFolders"`
	ConnectionID   string `json:"connectionId" validate:"omitempty,max=128,printascii"`
}

// AbortResponse reports whether a run was cancelled
type AbortResponse struct {
	Aborted bool   `json:"aborted"`
	RunID   string `json:"runId,omitempty"`
}

// GraphHandler handles graph HTTP requests
type GraphHandler struct {
	service      GraphRunner
	validate     *validator.Validate
	logger       *zap.Logger
	errorHandler *apperrors.ErrorHandler
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(service GraphRunner, logger *zap.Logger, errorHandler *apperrors.ErrorHandler) *GraphHandler {
	return &GraphHandler{
		service:      service,
		validate:     validator.New(),
		logger:       logger,
		errorHandler: errorHandler,
	}
}

// GetGraph handles GET /graph
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Current(r.Context())
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, view)
}

// Build handles POST /graph/build
func (h *GraphHandler) Build(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.decodeRun(w, r)
	if !ok {
		return
	}
	result, err := h.service.Build(r.Context(), opts)
	if err != nil {
		h.logger.Error("Failed to build graph", zap.Error(err))
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// Refresh handles POST /graph/refresh
func (h *GraphHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.decodeRun(w, r)
	if !ok {
		return
	}
	result, err := h.service.Refresh(r.Context(), opts)
	if err != nil {
		h.logger.Error("Failed to refresh graph", zap.Error(err))
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// Abort handles POST /graph/abort
func (h *GraphHandler) Abort(w http.ResponseWriter, r *http.Request) {
	runID, aborted := h.service.Abort()
	if aborted {
		h.logger.Info("Graph run aborted", zap.String("run_id", runID))
	}
	h.respondJSON(w, http.StatusOK, AbortResponse{Aborted: aborted, RunID: runID})
}

// DeleteSnapshot handles DELETE /graph/snapshot
func (h *GraphHandler) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Invalidate(r.Context()); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GraphHandler) decodeRun(w http.ResponseWriter, r *http.Request) (services.RunOptions, bool) {
	var req RunRequest
	if r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			h.errorHandler.Handle(w, r, apperrors.NewValidationError("Invalid request body").WithCause(err))
			return services.RunOptions{}, false
		}
	}
	if err := h.validate.Struct(req); err != nil {
		appErr := apperrors.NewValidationError("Invalid request")
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				appErr = appErr.WithDetail(fe.Field(), fe.Tag())
			}
		}
		h.errorHandler.Handle(w, r, appErr)
		return services.RunOptions{}, false
	}
	return services.RunOptions{
		IncludeTags:    req.IncludeTags,
		IncludeFolders: req.IncludeFolders,
		ConnectionID:   req.ConnectionID,
	}, true
}

func (h *GraphHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
