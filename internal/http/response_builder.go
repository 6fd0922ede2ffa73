package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"finai/internal/core"
	applog "finai/internal/log"
)

// Error codes returned in the JSON error body.
const (
	CodeNotProvisioned       = "not_provisioned"
	CodeNotFound             = "not_found"
	CodeReadOnly             = "read_only"
	CodeRequestInFlight      = "request_in_flight"
	CodeAssistantUnavailable = "assistant_unavailable"
	CodeAssistantFailed      = "assistant_failed"
	CodeInvalidInput         = "invalid_input"
	CodeRateLimited          = "rate_limited"
	CodeTimeout              = "timeout"
	CodeInternal             = "internal"
)

// ErrorBody is the payload of every non-2xx reply.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// JSONResponse builds a JSON reply with a fluent API.
type JSONResponse struct {
	statusCode int
	headers    map[string]string
	body       any
}

func NewJSONResponse() *JSONResponse {
	return &JSONResponse{statusCode: http.StatusOK, headers: map[string]string{}}
}

func (b *JSONResponse) Status(code int) *JSONResponse {
	b.statusCode = code
	return b
}

func (b *JSONResponse) Header(name, value string) *JSONResponse {
	b.headers[name] = value
	return b
}

func (b *JSONResponse) Body(v any) *JSONResponse {
	b.body = v
	return b
}

func (b *JSONResponse) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if b.body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(b.body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	NewJSONResponse().Status(status).Body(v).Write(w)
}

// classify maps an error to its HTTP status and code. Unmatched errors are
// 502 for upstream calls and 500 otherwise.
func classify(err error, upstream bool) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotProvisioned):
		return http.StatusServiceUnavailable, CodeNotProvisioned
	case errors.Is(err, core.ErrNotFound),
		errors.Is(err, core.ErrColumnNotFound),
		errors.Is(err, core.ErrRowNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, core.ErrReadOnly):
		return http.StatusConflict, CodeReadOnly
	case errors.Is(err, core.ErrRequestInFlight):
		return http.StatusTooManyRequests, CodeRequestInFlight
	case errors.Is(err, core.ErrAssistantUnavailable):
		return http.StatusServiceUnavailable, CodeAssistantUnavailable
	case errors.Is(err, core.ErrMalformedDraft):
		return http.StatusBadGateway, CodeAssistantFailed
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, core.ErrEmptyPrompt),
		errors.Is(err, core.ErrEmptyName),
		errors.Is(err, core.ErrInvalidColumnType),
		errors.Is(err, core.ErrInvalidAggregation),
		errors.Is(err, core.ErrDuplicateColumnKey),
		errors.Is(err, core.ErrDuplicateRowID),
		errors.Is(err, core.ErrRowShape),
		errors.Is(err, core.ErrInvalidMultiplier),
		errors.Is(err, core.ErrInvalidThemeColor):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	}
	if upstream {
		return http.StatusBadGateway, CodeAssistantFailed
	}
	return http.StatusInternalServerError, CodeInternal
}

// writeError replies with the status err maps to. Server-side failures are
// logged with the request logger; their detail is not sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, err, false)
}

// writeUpstreamError is writeError for failures of the assistant backend.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, err, true)
}

func respondError(w http.ResponseWriter, r *http.Request, err error, upstream bool) {
	status, code := classify(err, upstream)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			applog.NewFields().
				WithError(err).
				WithErrorType(errorType(code)).
				WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.UserAgent()).
				ToSlice()...)
		if code == CodeInternal {
			msg = "internal error"
		}
	}
	writeJSON(w, status, ErrorBody{Error: msg, Code: code})
}

func errorType(code string) string {
	switch code {
	case CodeNotProvisioned:
		return applog.ErrorTypeNotProvisioned
	case CodeTimeout:
		return applog.ErrorTypeTimeout
	case CodeAssistantFailed, CodeAssistantUnavailable:
		return applog.ErrorTypeUpstream
	}
	return applog.ErrorTypeInternal
}
