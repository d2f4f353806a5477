package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"hrpay/internal/domain/apperr"
)

type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     *Error `json:"error,omitempty"`
	Meta      any    `json:"meta,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ListMeta describes one page of a list response.
type ListMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func WriteJSON(w http.ResponseWriter, status int, payload Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("write json failed", zap.Error(err))
	}
}

func Success(w http.ResponseWriter, data any, requestID string) {
	WriteJSON(w, http.StatusOK, Envelope{Success: true, Data: data, RequestID: requestID})
}

func SuccessList(w http.ResponseWriter, data any, meta ListMeta, requestID string) {
	WriteJSON(w, http.StatusOK, Envelope{Success: true, Data: data, Meta: meta, RequestID: requestID})
}

func Created(w http.ResponseWriter, data any, requestID string) {
	WriteJSON(w, http.StatusCreated, Envelope{Success: true, Data: data, RequestID: requestID})
}

func Fail(w http.ResponseWriter, status int, code, message, requestID string) {
	WriteJSON(w, status, Envelope{Success: false, Error: &Error{Code: code, Message: message}, RequestID: requestID})
}

func FailWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any, requestID string) {
	WriteJSON(w, status, Envelope{Success: false, Error: &Error{Code: code, Message: message, Details: details}, RequestID: requestID})
}

// FailError writes err with the status of its kind. Errors outside the
// taxonomy are logged and reported as a generic internal error.
func FailError(w http.ResponseWriter, err error, requestID string) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind == apperr.KindInternal {
		zap.L().Error("request failed", zap.String("requestId", requestID), zap.Error(err))
		Fail(w, http.StatusInternalServerError, "internal_error", "unexpected error", requestID)
		return
	}
	code := appErr.Code
	if code == "" {
		code = string(appErr.Kind)
	}
	if appErr.Kind == apperr.KindUpstreamUnavailable {
		zap.L().Warn("upstream unavailable", zap.String("requestId", requestID), zap.Error(err))
	}
	FailWithDetails(w, StatusFor(appErr.Kind), code, appErr.Message, appErr.Details, requestID)
}

func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case apperr.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
