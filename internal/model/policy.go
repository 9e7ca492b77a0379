// internal/model/policy.go
package model

import (
	"time"

	appErrors "github.com/unclebandit/intake-autosend/internal/errors"
)

// Policy is the org-level rule set used for a single autosend decision.
type Policy struct {
	RequireApprovalForInitial   bool    `json:"require_approval_for_initial"`
	AutosendConfidenceThreshold float64 `json:"autosend_confidence_threshold"`
	BusinessHoursTimezone       string  `json:"business_hours_timezone"`
	BusinessHoursStart          int     `json:"business_hours_start"`
	BusinessHoursEnd            int     `json:"business_hours_end"`
	CooldownHours               float64 `json:"cooldown_hours"`
	MaxDailySends               int     `json:"max_daily_sends"`
	GraceMinutes                int     `json:"grace_minutes"`
	ForceFollowupAutosend       bool    `json:"force_followup_autosend"`
	ForceInitialAutosend        bool    `json:"force_initial_autosend"`
}

// DefaultPolicy is used whenever persisted settings are absent or partial.
func DefaultPolicy() Policy {
	return Policy{
		RequireApprovalForInitial:   true,
		AutosendConfidenceThreshold: 0.85,
		BusinessHoursTimezone:       "America/Los_Angeles",
		BusinessHoursStart:          8,
		BusinessHoursEnd:            18,
		CooldownHours:               22,
		MaxDailySends:               2,
		GraceMinutes:                5,
	}
}

// Location resolves the business-hours timezone.
func (p Policy) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(p.BusinessHoursTimezone)
	if err != nil {
		return nil, appErrors.NewInvalidPolicy("business_hours_timezone", err.Error())
	}
	return loc, nil
}

// Cooldown returns CooldownHours as a duration.
func (p Policy) Cooldown() time.Duration {
	return time.Duration(p.CooldownHours * float64(time.Hour))
}

// Validate checks field constraints. It does not mutate the policy.
func (p Policy) Validate() error {
	if p.AutosendConfidenceThreshold < 0 || p.AutosendConfidenceThreshold > 1 {
		return appErrors.NewInvalidPolicy("autosend_confidence_threshold", "must be within [0,1]")
	}
	if p.BusinessHoursStart < 0 || p.BusinessHoursStart > 23 {
		return appErrors.NewInvalidPolicy("business_hours_start", "must be within 0-23")
	}
	if p.BusinessHoursEnd < 0 || p.BusinessHoursEnd > 23 {
		return appErrors.NewInvalidPolicy("business_hours_end", "must be within 0-23")
	}
	if p.BusinessHoursStart >= p.BusinessHoursEnd {
		return appErrors.NewInvalidPolicy("business_hours_start", "must be before business_hours_end")
	}
	if p.CooldownHours < 0 {
		return appErrors.NewInvalidPolicy("cooldown_hours", "must not be negative")
	}
	if p.MaxDailySends < 0 {
		return appErrors.NewInvalidPolicy("max_daily_sends", "must not be negative")
	}
	if p.GraceMinutes < 0 {
		return appErrors.NewInvalidPolicy("grace_minutes", "must not be negative")
	}
	if _, err := p.Location(); err != nil {
		return err
	}
	return nil
}

// PolicyOverrides is a partial Policy. Nil fields leave the base value alone.
// It is the shape of persisted org settings, the YAML policy file and
// settings update requests.
type PolicyOverrides struct {
	RequireApprovalForInitial   *bool    `yaml:"require_approval_for_initial" json:"require_approval_for_initial,omitempty"`
	AutosendConfidenceThreshold *float64 `yaml:"autosend_confidence_threshold" json:"autosend_confidence_threshold,omitempty"`
	BusinessHoursTimezone       *string  `yaml:"business_hours_timezone" json:"business_hours_timezone,omitempty"`
	BusinessHoursStart          *int     `yaml:"business_hours_start" json:"business_hours_start,omitempty"`
	BusinessHoursEnd            *int     `yaml:"business_hours_end" json:"business_hours_end,omitempty"`
	CooldownHours               *float64 `yaml:"cooldown_hours" json:"cooldown_hours,omitempty"`
	MaxDailySends               *int     `yaml:"max_daily_sends" json:"max_daily_sends,omitempty"`
	GraceMinutes                *int     `yaml:"grace_minutes" json:"grace_minutes,omitempty"`
	ForceFollowupAutosend       *bool    `yaml:"force_followup_autosend" json:"force_followup_autosend,omitempty"`
	ForceInitialAutosend        *bool    `yaml:"force_initial_autosend" json:"force_initial_autosend,omitempty"`
}

// Apply returns base with every non-nil override applied.
func (o PolicyOverrides) Apply(base Policy) Policy {
	p := base
	if o.RequireApprovalForInitial != nil {
		p.RequireApprovalForInitial = *o.RequireApprovalForInitial
	}
	if o.AutosendConfidenceThreshold != nil {
		p.AutosendConfidenceThreshold = *o.AutosendConfidenceThreshold
	}
	if o.BusinessHoursTimezone != nil {
		p.BusinessHoursTimezone = *o.BusinessHoursTimezone
	}
	if o.BusinessHoursStart != nil {
		p.BusinessHoursStart = *o.BusinessHoursStart
	}
	if o.BusinessHoursEnd != nil {
		p.BusinessHoursEnd = *o.BusinessHoursEnd
	}
	if o.CooldownHours != nil {
		p.CooldownHours = *o.CooldownHours
	}
	if o.MaxDailySends != nil {
		p.MaxDailySends = *o.MaxDailySends
	}
	if o.GraceMinutes != nil {
		p.GraceMinutes = *o.GraceMinutes
	}
	if o.ForceFollowupAutosend != nil {
		p.ForceFollowupAutosend = *o.ForceFollowupAutosend
	}
	if o.ForceInitialAutosend != nil {
		p.ForceInitialAutosend = *o.ForceInitialAutosend
	}
	return p
}

// Merge layers next on top of o and returns the result.
func (o PolicyOverrides) Merge(next PolicyOverrides) PolicyOverrides {
	out := o
	if next.RequireApprovalForInitial != nil {
		out.RequireApprovalForInitial = next.RequireApprovalForInitial
	}
	if next.AutosendConfidenceThreshold != nil {
		out.AutosendConfidenceThreshold = next.AutosendConfidenceThreshold
	}
	if next.BusinessHoursTimezone != nil {
		out.BusinessHoursTimezone = next.BusinessHoursTimezone
	}
	if next.BusinessHoursStart != nil {
		out.BusinessHoursStart = next.BusinessHoursStart
	}
	if next.BusinessHoursEnd != nil {
		out.BusinessHoursEnd = next.BusinessHoursEnd
	}
	if next.CooldownHours != nil {
		out.CooldownHours = next.CooldownHours
	}
	if next.MaxDailySends != nil {
		out.MaxDailySends = next.MaxDailySends
	}
	if next.GraceMinutes != nil {
		out.GraceMinutes = next.GraceMinutes
	}
	if next.ForceFollowupAutosend != nil {
		out.ForceFollowupAutosend = next.ForceFollowupAutosend
	}
	if next.ForceInitialAutosend != nil {
		out.ForceInitialAutosend = next.ForceInitialAutosend
	}
	return out
}
