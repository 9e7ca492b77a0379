package decision

import "time"

// ReasonCode explains a verdict. Values are persisted in the audit trail and
// must stay stable.
type ReasonCode string

const (
	ReasonContactOnDNC          ReasonCode = "contact_on_dnc"
	ReasonForceFollowupAutosend ReasonCode = "force_followup_autosend"
	ReasonInitialNoApproval     ReasonCode = "initial_no_approval"
	// ReasonManualApprovalRequired only marks the audit entry of an initial
	// draft left for a human. Approve does not consult it.
	ReasonManualApprovalRequired    ReasonCode = "manual_approval_required"
	ReasonDailyLimitReached         ReasonCode = "daily_limit_reached"
	ReasonCooldownActive            ReasonCode = "cooldown_active"
	ReasonComplianceFailed          ReasonCode = "compliance_failed"
	ReasonConfidenceBelowThreshold  ReasonCode = "confidence_below_threshold"
	ReasonScheduledForBusinessHours ReasonCode = "scheduled_for_business_hours"
	ReasonGracePeriod               ReasonCode = "grace_period"
	ReasonImmediateAutosend         ReasonCode = "immediate_autosend"
)

// Verdict is the outcome of Evaluate. When is nil for an immediate send and
// is always nil when Allowed is false.
type Verdict struct {
	Allowed bool
	Reasons []ReasonCode
	When    *time.Time
}

// ReasonStrings returns the reasons in order as plain strings.
func (v Verdict) ReasonStrings() []string {
	out := make([]string, len(v.Reasons))
	for i, r := range v.Reasons {
		out[i] = string(r)
	}
	return out
}

// Immediate reports whether the verdict allows sending at now.
func (v Verdict) Immediate(now time.Time) bool {
	return v.Allowed && (v.When == nil || !v.When.After(now))
}

func deny(r ReasonCode) Verdict {
	return Verdict{Allowed: false, Reasons: []ReasonCode{r}}
}

func allow(r ReasonCode, when *time.Time) Verdict {
	return Verdict{Allowed: true, Reasons: []ReasonCode{r}, When: when}
}
