package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clinicpulse/nudge-engine/internal/api/respond"
	"github.com/clinicpulse/nudge-engine/internal/cache"
	"github.com/clinicpulse/nudge-engine/internal/notify"
)

// ListNotifications returns notifications for a clinic, newest first.
// @Summary List clinic notifications
// @Description Lists notifications for a clinic with optional filters. Expired records are excluded unless include_expired=true.
// @Tags notifications
// @Produce json
// @Param clinicID path string true "Clinic ID"
// @Param limit query int false "Max records (default 50)"
// @Param unread_only query bool false "Only unread, undismissed records"
// @Param category query string false "Filter by category"
// @Param include_expired query bool false "Include expired records"
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} respond.ErrorResponse
// @Router /clinics/{clinicID}/notifications [get]
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	q := r.URL.Query()

	opts := notify.ListOptions{
		Category:       q.Get("category"),
		UnreadOnly:     q.Get("unread_only") == "true",
		IncludeExpired: q.Get("include_expired") == "true",
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}

	list, err := h.store.GetForClinic(r.Context(), clinicID, opts)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to list notifications")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"clinic_id":     clinicID,
		"count":         len(list),
		"notifications": list,
	})
}

type mutationRequest struct {
	ClinicID string `json:"clinic_id"`
}

// MarkRead marks a notification read.
// @Summary Mark notification read
// @Description Idempotent: reading an already-read or unsent notification is a no-op.
// @Tags notifications
// @Accept json
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /notifications/{id}/read [post]
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.store.MarkRead)
}

// Dismiss dismisses a notification.
// @Summary Dismiss notification
// @Description Idempotent: dismissing twice is a no-op. Independent of read state.
// @Tags notifications
// @Accept json
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /notifications/{id}/dismiss [post]
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.store.Dismiss)
}

// mutate runs one idempotent store mutation. The front end sees a success,
// a no-op success, or an explicit error, never a silently lost action.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id, clinicID string) error) {
	id := chi.URLParam(r, "id")

	var req mutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClinicID == "" {
		respond.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "clinic_id is required")
		return
	}

	if err := fn(r.Context(), id, req.ClinicID); err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Notification not found")
			return
		}
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Mutation failed")
		return
	}

	// A mutation changes the stats aggregate; drop the cached copies.
	h.cache.InvalidatePrefix(statsCacheKey(req.ClinicID))
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": id})
}

// GetStats returns engagement statistics for a clinic.
// @Summary Clinic notification stats
// @Description Aggregates sent/read/dismissed counts, read rate, average response time, and top categories over a trailing window.
// @Tags notifications
// @Produce json
// @Param clinicID path string true "Clinic ID"
// @Param days query int false "Trailing window in days (default 30)"
// @Success 200 {object} notify.Stats
// @Failure 500 {object} respond.ErrorResponse
// @Router /clinics/{clinicID}/notifications/stats [get]
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}

	key := statsCacheKey(clinicID) + ":" + strconv.Itoa(days)
	if data, etag, ok := h.cache.Get(key); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, cache.TTLStats, true)
		return
	}

	stats, err := h.store.Stats(r.Context(), clinicID, days)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "Failed to compute stats")
		return
	}

	data, err := json.Marshal(stats)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "ENCODE_ERROR", "Failed to encode stats")
		return
	}
	etag := h.cache.Set(key, data, cache.TTLStats)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, data, etag, cache.TTLStats, false)
}

func statsCacheKey(clinicID string) string {
	return fmt.Sprintf("stats:%s", clinicID)
}
