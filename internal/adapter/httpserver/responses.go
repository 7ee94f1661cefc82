// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the OpenAI-compatible chat completion surface, the tool-confirm
// and async-job endpoints, and an admin CRUD API over the gateway's
// tenant/model/routing configuration.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lowart/gateway/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"

	var quotaErr *domain.QuotaError
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		code, codeStr = http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, domain.ErrAuthFailure):
		code, codeStr = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrPermissionDenied):
		code, codeStr = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, domain.ErrModelNotFound):
		code, codeStr = http.StatusNotFound, "MODEL_NOT_FOUND"
	case errors.Is(err, domain.ErrJobNotFound):
		code, codeStr = http.StatusNotFound, "JOB_NOT_FOUND"
	case errors.Is(err, domain.ErrSessionMissing):
		code, codeStr = http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, domain.ErrSessionExpired):
		code, codeStr = http.StatusGone, "SESSION_EXPIRED"
	case errors.Is(err, domain.ErrNotFound):
		code, codeStr = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code, codeStr = http.StatusConflict, "CONFLICT"
	case errors.As(err, &quotaErr):
		if quotaErr.Kind == domain.QuotaKindToken {
			code, codeStr = http.StatusPaymentRequired, "TOKEN_QUOTA_EXCEEDED"
		} else {
			code, codeStr = http.StatusTooManyRequests, "RATE_LIMITED"
		}
	case errors.Is(err, domain.ErrQuotaExceeded):
		code, codeStr = http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, domain.ErrAllBackendsExhausted):
		code, codeStr = http.StatusServiceUnavailable, "ALL_BACKENDS_EXHAUSTED"
	case errors.Is(err, domain.ErrUpstreamRetryable), errors.Is(err, domain.ErrUpstreamNonRetryable):
		code, codeStr = http.StatusInternalServerError, "UPSTREAM_ERROR"
	case errors.Is(err, domain.ErrMaxIterations):
		code, codeStr = http.StatusInternalServerError, "MAX_ITERATIONS_EXCEEDED"
	case errors.Is(err, domain.ErrTransformFailed):
		code, codeStr = http.StatusInternalServerError, "TRANSFORM_FAILED"
	case errors.Is(err, domain.ErrNotSupported):
		code, codeStr = http.StatusNotImplemented, "NOT_SUPPORTED"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
