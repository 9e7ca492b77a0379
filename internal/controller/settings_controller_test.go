package controller_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/intake-autosend/internal/controller"
	"github.com/unclebandit/intake-autosend/internal/model"
)

type MockSettings struct {
	stored model.PolicyOverrides
}

func (m *MockSettings) Get(ctx context.Context) (model.Policy, error) {
	return m.stored.Apply(model.DefaultPolicy()), nil
}

func (m *MockSettings) Update(ctx context.Context, upd model.PolicyOverrides) (model.Policy, error) {
	p := m.stored.Merge(upd).Apply(model.DefaultPolicy())
	if err := p.Validate(); err != nil {
		return model.Policy{}, err
	}
	m.stored = m.stored.Merge(upd)
	return p, nil
}

func TestSettingsPartialUpdate(t *testing.T) {
	r := chi.NewRouter()
	(&controller.SettingsController{Settings: &MockSettings{}}).Routes(r)

	w := do(t, r, "PUT", "/org/settings", map[string]interface{}{"max_daily_sends": 4})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, "GET", "/org/settings", nil)
	var p model.Policy
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if p.MaxDailySends != 4 || p.AutosendConfidenceThreshold != 0.85 {
		t.Errorf("expected updated max_daily_sends with defaults kept, got %+v", p)
	}

	w = do(t, r, "PUT", "/org/settings", map[string]interface{}{"business_hours_timezone": "Nowhere/Land"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid timezone, got %d", w.Code)
	}
}
