package handler

import (
	"net/http"
	"time"

	"github.com/clinicpulse/nudge-engine/internal/api/respond"
)

// RunNudges triggers a full batch run over the active clinic population.
// Normally driven by the cron schedule; exposed for the ops layer and
// manual reruns.
// @Summary Run nudge evaluation for all clinics
// @Description Evaluates the rule catalog for every active clinic in rate-limited batches and returns the run summary.
// @Tags ops
// @Produce json
// @Success 200 {object} scheduler.RunResult
// @Router /ops/nudges/run [post]
func (h *Handler) RunNudges(w http.ResponseWriter, r *http.Request) {
	result := h.runner.RunForAllClinics(r.Context())
	respond.WriteJSONObject(w, http.StatusOK, result)
}

// ProcessScheduled dispatches due scheduled notifications.
// @Summary Dispatch due scheduled notifications
// @Description Claims and dispatches up to 50 not-yet-sent notifications whose schedule has passed, oldest first.
// @Tags ops
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} respond.ErrorResponse
// @Router /ops/notifications/process-scheduled [post]
func (h *Handler) ProcessScheduled(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	n, err := h.store.ProcessScheduled(r.Context(), now)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Scheduled dispatch failed")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"dispatched":   n,
		"processed_at": now.UTC().Format(time.RFC3339),
	})
}

// CleanupExpired deletes notifications past expiry and retention floor.
// @Summary Delete expired notifications
// @Description Deletes notifications past their expiry that are also older than the 90-day retention floor.
// @Tags ops
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} respond.ErrorResponse
// @Router /ops/notifications/cleanup [post]
func (h *Handler) CleanupExpired(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	deleted, err := h.store.CleanupExpired(r.Context(), now)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Cleanup failed")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"deleted":    deleted,
		"cleaned_at": now.UTC().Format(time.RFC3339),
	})
}
