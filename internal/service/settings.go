package service

import (
	"context"

	"github.com/unclebandit/intake-autosend/internal/model"
	"github.com/unclebandit/intake-autosend/internal/repository"
)

// Settings reads and updates the org-level autosend policy.
type Settings struct {
	Policies repository.PolicyRepositoryInterface

	// Overrides from configuration. They are applied on read but never
	// persisted.
	Overrides model.PolicyOverrides
}

// Get returns the effective policy.
func (s *Settings) Get(ctx context.Context) (model.Policy, error) {
	return effectivePolicy(ctx, s.Policies, s.Overrides)
}

// Update persists the non-nil fields of upd. The merged policy must
// validate, otherwise nothing is written.
func (s *Settings) Update(ctx context.Context, upd model.PolicyOverrides) (model.Policy, error) {
	current, err := s.Policies.Get(ctx)
	if err != nil {
		return model.Policy{}, err
	}

	// Stored values alone must form a valid policy, and so must the
	// result with overrides applied.
	stored := current.Merge(upd).Apply(model.DefaultPolicy())
	if err := stored.Validate(); err != nil {
		return model.Policy{}, err
	}
	effective := current.Merge(upd).Merge(s.Overrides).Apply(model.DefaultPolicy())
	if err := effective.Validate(); err != nil {
		return model.Policy{}, err
	}

	if _, err := s.Policies.Update(ctx, upd); err != nil {
		return model.Policy{}, err
	}
	return effective, nil
}
