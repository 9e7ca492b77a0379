// internal/controller/message_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/intake-autosend/internal/errors"
	"github.com/unclebandit/intake-autosend/internal/service"
)

// Autosender is the part of service.Orchestrator the HTTP surface drives.
type Autosender interface {
	DecideAndDispatch(ctx context.Context, messageID string) (*service.DispatchResult, error)
	Approve(ctx context.Context, messageID string) (*service.ApproveResult, error)
	SubmitDraft(ctx context.Context, contactID string, in service.DraftInput) (*service.SubmitResult, error)
	MarkDoNotContact(ctx context.Context, contactID string) (bool, error)
}

type MessageController struct {
	Autosend Autosender
}

// Routes mounts the draft, dispatch and approval endpoints.
func (c *MessageController) Routes(r chi.Router) {
	r.Post("/contacts/{id}/drafts", c.SubmitDraft)
	r.Post("/contacts/{id}/dnc", c.MarkDoNotContact)
	r.Post("/messages/{id}/dispatch", c.Dispatch)
	r.Post("/messages/{id}/approve", c.Approve)
}

func (c *MessageController) SubmitDraft(w http.ResponseWriter, r *http.Request) {
	contactID := chi.URLParam(r, "id")

	var body service.DraftInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	result, err := c.Autosend.SubmitDraft(r.Context(), contactID, body)
	if err != nil {
		if result != nil && result.Message != nil {
			// Stored, but dispatch failed. The sweeper or a manual approval
			// can still pick it up.
			log.Println("⚠️ Draft stored but not dispatched:", result.Message.ID, err)
			writeJSON(w, http.StatusAccepted, map[string]interface{}{
				"message":  result.Message,
				"dispatch": result.Dispatch,
				"error":    err.Error(),
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (c *MessageController) Dispatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := c.Autosend.DecideAndDispatch(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *MessageController) Approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := c.Autosend.Approve(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		*service.ApproveResult
	}{OK: true, ApproveResult: result})
}

func (c *MessageController) MarkDoNotContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	changed, err := c.Autosend.MarkDoNotContact(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"contact_id":     id,
		"do_not_contact": true,
		"changed":        changed,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps application errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		msgNotFound     *appErrors.ErrMessageNotFound
		contactNotFound *appErrors.ErrContactNotFound
		invalidDraft    *appErrors.ErrInvalidDraft
		invalidPolicy   *appErrors.ErrInvalidPolicy
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &msgNotFound), errors.As(err, &contactNotFound):
		status = http.StatusNotFound
	case errors.As(err, &invalidDraft), errors.As(err, &invalidPolicy):
		status = http.StatusBadRequest
	default:
		log.Println("❌ Request failed:", err)
	}
	http.Error(w, err.Error(), status)
}
