package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"policy-core/internal/securitylog"
	"policy-core/internal/service"

	"go.uber.org/zap"
)

type SecurityEventHandler struct {
	responder
	reader *securitylog.Reader
	now    func() time.Time
}

func NewSecurityEventHandler(reader *securitylog.Reader, logger *zap.Logger) *SecurityEventHandler {
	return &SecurityEventHandler{responder: responder{logger: logger}, reader: reader, now: time.Now}
}

// List returns one UTC day of security events, newest first.
// Query: date=YYYY-MM-DD (default today), limit (default 100, max 500).
func (h *SecurityEventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	day := h.now().UTC()
	if v := q.Get("date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: date must be YYYY-MM-DD", service.ErrInvalidInput), "Invalid query")
			return
		}
		day = d
	}

	limit := securitylog.DefaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: limit must be a positive integer", service.ErrInvalidInput), "Invalid query")
			return
		}
		limit = n
	}

	events, err := h.reader.Recent(r.Context(), day, limit)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to list security events")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(events, "Security events retrieved successfully"))
}
