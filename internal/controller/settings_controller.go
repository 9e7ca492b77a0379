package controller

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/intake-autosend/internal/model"
)

// PolicySettings reads and updates org settings.
type PolicySettings interface {
	Get(ctx context.Context) (model.Policy, error)
	Update(ctx context.Context, upd model.PolicyOverrides) (model.Policy, error)
}

type SettingsController struct {
	Settings PolicySettings
}

func (c *SettingsController) Routes(r chi.Router) {
	r.Get("/org/settings", c.Get)
	r.Put("/org/settings", c.Update)
}

func (c *SettingsController) Get(w http.ResponseWriter, r *http.Request) {
	p, err := c.Settings.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Update applies a partial update. Absent fields keep their current value.
func (c *SettingsController) Update(w http.ResponseWriter, r *http.Request) {
	var body model.PolicyOverrides
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	p, err := c.Settings.Update(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
