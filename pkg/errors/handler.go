package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrorResponse is the JSON body of every failed API call
type ErrorResponse struct {
	Error   bool                   `json:"error"`
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	// Retryable tells clients the same request may succeed later
	Retryable bool   `json:"retryable"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// ErrorHandler writes errors as ErrorResponse bodies and logs them at a
// level derived from the response status
type ErrorHandler struct {
	logger *zap.Logger
	debug  bool
}

// NewErrorHandler creates an error handler. In debug mode responses carry
// the cause and stack trace.
func NewErrorHandler(logger *zap.Logger, debug bool) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{logger: logger, debug: debug}
}

// Handle writes err to w. Errors that are not AppErrors are reported as
// INTERNAL without exposing their text outside debug mode.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	appErr := GetAppError(err)
	if appErr == nil {
		appErr = NewInternalError("An internal error occurred").WithCause(err)
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}

	response := ErrorResponse{
		Error:     true,
		Type:      string(appErr.Type),
		Message:   appErr.Message,
		Code:      appErr.Code,
		Details:   appErr.Details,
		Retryable: IsRetryable(appErr),
		RequestID: middleware.GetReqID(r.Context()),
	}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		response.TraceID = sc.TraceID().String()
	}
	if h.debug {
		response.Details = h.debugDetails(appErr)
	}

	h.log(r, appErr, status, response)
	h.write(w, status, response)
}

// IsRetryable reports whether the failure is transient: timeouts, an
// unavailable or failing upstream, and network errors
func IsRetryable(err error) bool {
	appErr := GetAppError(err)
	if appErr == nil {
		return false
	}
	switch appErr.Type {
	case ErrorTypeTimeout, ErrorTypeUnavailable, ErrorTypeNetwork, ErrorTypeExternal:
		return true
	}
	return false
}

func (h *ErrorHandler) debugDetails(appErr *AppError) map[string]interface{} {
	details := make(map[string]interface{}, len(appErr.Details)+2)
	for k, v := range appErr.Details {
		details[k] = v
	}
	if appErr.Cause != nil {
		details["cause"] = appErr.Cause.Error()
	}
	if appErr.StackTrace != "" {
		details["stack_trace"] = appErr.StackTrace
	}
	return details
}

func (h *ErrorHandler) log(r *http.Request, appErr *AppError, status int, response ErrorResponse) {
	level := zapcore.InfoLevel
	switch {
	case status >= 500:
		level = zapcore.ErrorLevel
	case status >= 400:
		level = zapcore.WarnLevel
	}

	ce := h.logger.Check(level, appErr.Message)
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("error_type", response.Type),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("request_id", response.RequestID),
	}
	if response.TraceID != "" {
		fields = append(fields, zap.String("trace_id", response.TraceID))
	}
	if appErr.Code != "" {
		fields = append(fields, zap.String("error_code", appErr.Code))
	}
	if appErr.Cause != nil {
		fields = append(fields, zap.Error(appErr.Cause))
	}
	ce.Write(fields...)
}

func (h *ErrorHandler) write(w http.ResponseWriter, status int, response ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
}
