package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/logctx"
	"github.com/notifyhub/reminder-dispatch/internal/service"
)

// ReminderService is the subset of *service.ReminderService the HTTP API
// needs.
type ReminderService interface {
	RunCycle(ctx context.Context, businessID int64, limit int) (service.CycleResult, error)
	ExportCSV(ctx context.Context, businessID int64, days int, w io.Writer) (int, error)
	PurgeLogs(ctx context.Context, businessID int64, days int) (int64, error)
	QueueCounts(ctx context.Context, businessID int64) (map[domain.QueueStatus]int, error)
}

// ReminderHandler exposes the operator endpoints for one business.
type ReminderHandler struct {
	svc    ReminderService
	logger *zap.Logger
	now    func() time.Time
}

func NewReminderHandler(svc ReminderService, logger *zap.Logger) *ReminderHandler {
	return &ReminderHandler{svc: svc, logger: logger, now: time.Now}
}

// Dispatch handles POST /api/v1/businesses/{businessID}/dispatch
//
// @Summary  Enqueue due reminders and dispatch up to limit items
// @Tags     reminders
// @Produce  json
// @Param    businessID  path      int  true   "Business ID"
// @Param    limit       query     int  false  "Max items to claim (default 100, max 500)"
// @Success  200         {object}  service.CycleResult
// @Failure  400         {object}  map[string]string
// @Router   /api/v1/businesses/{businessID}/dispatch [post]
func (h *ReminderHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	businessID, ok := businessParam(w, r)
	if !ok {
		return
	}

	res, err := h.svc.RunCycle(r.Context(), businessID, queryInt(r, "limit"))
	if err != nil {
		logctx.From(r.Context(), h.logger).Error("dispatch request failed",
			zap.Int64("business_id", businessID),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ExportLogs handles GET /api/v1/businesses/{businessID}/delivery-logs.csv
//
// @Summary  Export recent delivery logs as CSV
// @Tags     delivery-logs
// @Produce  text/csv
// @Param    businessID  path   int  true   "Business ID"
// @Param    days        query  int  false  "Look-back window in days (default 30)"
// @Success  200
// @Router   /api/v1/businesses/{businessID}/delivery-logs.csv [get]
func (h *ReminderHandler) ExportLogs(w http.ResponseWriter, r *http.Request) {
	businessID, ok := businessParam(w, r)
	if !ok {
		return
	}

	// Buffer so a storage error can still produce a proper status code.
	var buf bytes.Buffer
	n, err := h.svc.ExportCSV(r.Context(), businessID, queryInt(r, "days"), &buf)
	if err != nil {
		logctx.From(r.Context(), h.logger).Error("delivery log export failed",
			zap.Int64("business_id", businessID),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	filename := fmt.Sprintf("notification_delivery_logs_%s.csv", h.now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("X-Row-Count", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// PurgeLogs handles DELETE /api/v1/businesses/{businessID}/delivery-logs
//
// @Summary  Delete delivery logs older than the retention window
// @Tags     delivery-logs
// @Produce  json
// @Param    businessID  path      int  true   "Business ID"
// @Param    days        query     int  false  "Retention in days (default 90)"
// @Success  200         {object}  map[string]int64
// @Router   /api/v1/businesses/{businessID}/delivery-logs [delete]
func (h *ReminderHandler) PurgeLogs(w http.ResponseWriter, r *http.Request) {
	businessID, ok := businessParam(w, r)
	if !ok {
		return
	}

	deleted, err := h.svc.PurgeLogs(r.Context(), businessID, queryInt(r, "days"))
	if err != nil {
		logctx.From(r.Context(), h.logger).Error("delivery log purge failed",
			zap.Int64("business_id", businessID),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// QueueCounts handles GET /api/v1/businesses/{businessID}/queue
//
// @Summary  Queue items per status
// @Tags     reminders
// @Produce  json
// @Param    businessID  path      int  true  "Business ID"
// @Success  200         {object}  map[string]int
// @Router   /api/v1/businesses/{businessID}/queue [get]
func (h *ReminderHandler) QueueCounts(w http.ResponseWriter, r *http.Request) {
	businessID, ok := businessParam(w, r)
	if !ok {
		return
	}

	counts, err := h.svc.QueueCounts(r.Context(), businessID)
	if err != nil {
		mapError(w, err)
		return
	}

	body := make(map[string]int, len(domain.QueueStatuses()))
	total := 0
	for _, s := range domain.QueueStatuses() {
		body[string(s)] = counts[s]
		total += counts[s]
	}
	body["total"] = total
	respondJSON(w, http.StatusOK, body)
}

// businessParam parses {businessID}. Non-positive ids are passed through;
// the service maps them to the default business.
func businessParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "businessID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, domain.ErrInvalidBusiness.Error())
		return 0, false
	}
	return id, true
}
