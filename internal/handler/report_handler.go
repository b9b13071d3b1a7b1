package handler

import (
	"fmt"
	"net/http"

	"policy-core/internal/models"
	"policy-core/internal/service"

	"go.uber.org/zap"
)

type ReportHandler struct {
	responder
	reports *service.ReportService
}

func NewReportHandler(reports *service.ReportService, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{responder: responder{logger: logger}, reports: reports}
}

// Submit takes a new report from the public intake forms.
func (h *ReportHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req models.Report
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid request body")
		return
	}
	sub, err := h.reports.Submit(r.Context(), req)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to submit report")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, successResponse(sub, "Report submitted successfully"))
}

type reviewRequest struct {
	ReporterType models.ReporterType `json:"reporterType"`
	ReportID     string              `json:"reportId"`
	models.ReportUpdate
}

// Review applies an administrative edit to an existing report.
func (h *ReportHandler) Review(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", service.ErrInvalidInput, err), "Invalid request body")
		return
	}
	review, err := h.reports.Update(r.Context(), req.ReporterType, req.ReportID, req.ReportUpdate)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to update report")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(review, "Report updated successfully"))
}
