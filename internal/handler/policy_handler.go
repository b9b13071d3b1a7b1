package handler

import (
	"fmt"
	"net/http"

	"policy-core/internal/policy"
	"policy-core/internal/service"
	"policy-core/internal/util"

	"go.uber.org/zap"
)

type PolicyHandler struct {
	responder
	policies *policy.Service
}

func NewPolicyHandler(policies *policy.Service, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{responder: responder{logger: logger}, policies: policies}
}

func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.policies.Get(r.Context())
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to load policy")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(cfg, "Policy retrieved successfully"))
}

// UpdatePolicy applies a partial update. The caller's email is recorded as
// the actor in the audit trail.
func (h *PolicyHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	rc, err := requestContext(r)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to update policy")
		return
	}

	var req policy.Update
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid request body")
		return
	}

	actor := util.FirstNonEmpty(rc.Identity.Email, rc.Identity.ID)
	cfg, err := h.policies.Update(r.Context(), req, actor)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to update policy")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(cfg, "Policy updated successfully"))
}
