package handler

import (
	"net/http"

	"policy-core/internal/archive"

	"go.uber.org/zap"
)

type ArchivalHandler struct {
	responder
	job *archive.Job
}

func NewArchivalHandler(job *archive.Job, logger *zap.Logger) *ArchivalHandler {
	return &ArchivalHandler{responder: responder{logger: logger}, job: job}
}

// Run performs one archival pass synchronously. An overlapping run gets 409.
func (h *ArchivalHandler) Run(w http.ResponseWriter, r *http.Request) {
	res, err := h.job.Run(r.Context())
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Archival run failed")
		return
	}
	msg := "Archival run completed"
	if res.Skipped {
		msg = "Archival skipped: no retention window configured"
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, msg))
}
