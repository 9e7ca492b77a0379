// Package decision decides whether a drafted message may be sent without
// human approval, and when.
package decision

import (
	"time"

	"github.com/unclebandit/intake-autosend/internal/model"
)

// Evaluate applies the autosend rules in a fixed order. The first rule that
// matches decides; later rules are never consulted. Evaluate is pure: a
// denial is a normal Verdict, and only a malformed policy yields an error.
func Evaluate(p model.Policy, c model.Contact, d model.Message, isInitial bool, now time.Time) (Verdict, error) {
	if err := p.Validate(); err != nil {
		return Verdict{}, err
	}
	now = now.UTC()

	if c.DoNotContact {
		return deny(ReasonContactOnDNC), nil
	}

	// Operator overrides. They skip limits, cooldown and business hours.
	if !isInitial && p.ForceFollowupAutosend {
		return allow(ReasonForceFollowupAutosend, nil), nil
	}
	if isInitial {
		if p.ForceInitialAutosend || !p.RequireApprovalForInitial {
			return allow(ReasonInitialNoApproval, nil), nil
		}
		return deny(ReasonManualApprovalRequired), nil
	}

	// maxDailySends of 0 means no autosends at all.
	if c.SendsToday >= p.MaxDailySends {
		return deny(ReasonDailyLimitReached), nil
	}

	if c.LastSentAt != nil && p.CooldownHours > 0 {
		if now.Sub(c.LastSentAt.UTC()) < p.Cooldown() {
			return deny(ReasonCooldownActive), nil
		}
	}

	if !d.CompliancePassed() {
		return deny(ReasonComplianceFailed), nil
	}

	if d.Confidence < p.AutosendConfidenceThreshold {
		return deny(ReasonConfidenceBelowThreshold), nil
	}

	loc, err := p.Location()
	if err != nil {
		return Verdict{}, err
	}
	local := now.In(loc)
	if !WithinWindow(local, p.BusinessHoursStart, p.BusinessHoursEnd) {
		when := NextOpening(local, p.BusinessHoursStart).UTC()
		return allow(ReasonScheduledForBusinessHours, &when), nil
	}

	if p.GraceMinutes > 0 {
		when := now.Add(time.Duration(p.GraceMinutes) * time.Minute)
		return allow(ReasonGracePeriod, &when), nil
	}
	return allow(ReasonImmediateAutosend, nil), nil
}
