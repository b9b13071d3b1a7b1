package handler

import (
	"fmt"
	"net/http"
	"strings"

	"policy-core/internal/lockout"
	"policy-core/internal/service"

	"go.uber.org/zap"
)

// LockoutHandler serves the login flow's lockout bookkeeping.
type LockoutHandler struct {
	responder
	lockout *lockout.Manager
}

func NewLockoutHandler(m *lockout.Manager, logger *zap.Logger) *LockoutHandler {
	return &LockoutHandler{responder: responder{logger: logger}, lockout: m}
}

type lockoutRequest struct {
	Email string `json:"email"`
}

func (h *LockoutHandler) decode(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req lockoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid request body")
		return "", false
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		h.respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: email is required", service.ErrInvalidInput), "Email is required")
		return "", false
	}
	return email, true
}

func (h *LockoutHandler) Check(w http.ResponseWriter, r *http.Request) {
	email, ok := h.decode(w, r)
	if !ok {
		return
	}
	status, err := h.lockout.CheckLockout(r.Context(), email)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to check lockout")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(status, ""))
}

func (h *LockoutHandler) RecordFailure(w http.ResponseWriter, r *http.Request) {
	email, ok := h.decode(w, r)
	if !ok {
		return
	}
	status, err := h.lockout.RecordFailure(r.Context(), email)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to record failed attempt")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(status, ""))
}

func (h *LockoutHandler) RecordSuccess(w http.ResponseWriter, r *http.Request) {
	email, ok := h.decode(w, r)
	if !ok {
		return
	}
	if err := h.lockout.RecordSuccess(r.Context(), email); err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to record successful login")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Failed attempts cleared"))
}
