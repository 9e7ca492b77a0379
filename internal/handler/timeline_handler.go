// internal/handler/timeline_handler.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/intake-autosend/internal/errors"
	"github.com/unclebandit/intake-autosend/internal/model"
)

// HistoryReader lists a contact's audit trail.
type HistoryReader interface {
	History(ctx context.Context, contactID string, limit int) ([]model.AuditEntry, error)
}

// TimelineHandler serves the per-contact audit trail
type TimelineHandler struct {
	History HistoryReader
}

// GetTimelineHandler returns audit entries for a contact, newest first
func (h *TimelineHandler) GetTimelineHandler(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "id")

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = l
	}

	entries, err := h.History.History(r.Context(), contactID, limit)
	if err != nil {
		var notFound *appErrors.ErrContactNotFound
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		log.Println("❌ Error fetching timeline:", err)
		http.Error(w, "failed to fetch timeline: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"contact_id": contactID,
		"data":       entries,
	})
}
