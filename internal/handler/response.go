package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"policy-core/internal/apperrors"
	"policy-core/internal/policy"
	"policy-core/internal/service"
	"policy-core/internal/util"

	"go.uber.org/zap"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse creates an error response. Server-side failures carry a
// generic error so internal details stay in the logs.
func errorResponse(statusCode int, err error, message string) Response {
	resp := Response{Success: false, Message: message}
	if statusCode >= http.StatusInternalServerError {
		resp.Error = http.StatusText(statusCode)
		return resp
	}
	if rej, ok := apperrors.AsRejection(err); ok {
		resp.Error = rej.Message
		resp.Reason = string(rej.Reason)
		return resp
	}
	resp.Error = err.Error()
	return resp
}

// responder is embedded by every handler.
type responder struct {
	logger *zap.Logger
}

func (h responder) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h responder) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	log := h.logger.Warn
	if statusCode >= http.StatusInternalServerError {
		log = h.logger.Error
	}
	log("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(statusCode, err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	if rej, ok := apperrors.AsRejection(err); ok {
		switch rej.Reason {
		case apperrors.ReasonMaintenance:
			return http.StatusServiceUnavailable
		case apperrors.ReasonUnauthenticated, apperrors.ReasonSessionExpired, apperrors.ReasonPasswordExpired:
			return http.StatusUnauthorized
		case apperrors.ReasonStepUpRequired, apperrors.ReasonForbiddenRole:
			return http.StatusForbidden
		}
	}
	switch {
	case apperrors.IsConfigError(err):
		return http.StatusInternalServerError
	case errors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, policy.ErrInvalidPolicy):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()
	return dec.Decode(dst)
}
