package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/intake-autosend/internal/model"
)

// PolicyRepositoryInterface reads and updates the single org_settings row.
type PolicyRepositoryInterface interface {
	Get(ctx context.Context) (model.PolicyOverrides, error)
	Update(ctx context.Context, o model.PolicyOverrides) (model.PolicyOverrides, error)
}

type PolicyRepository struct {
	DB *sql.DB
}

// Get returns whatever columns are set. A missing row yields empty overrides,
// which callers layer over model.DefaultPolicy().
func (r *PolicyRepository) Get(ctx context.Context) (model.PolicyOverrides, error) {
	var (
		requireApproval, forceFollowup, forceInitial sql.NullBool
		threshold, cooldown                          sql.NullFloat64
		tz                                           sql.NullString
		start, end, maxDaily, grace                  sql.NullInt64
	)
	err := r.DB.QueryRowContext(ctx, `
        SELECT require_approval_initial, autosend_confidence_threshold, business_hours_tz,
               business_hours_start, business_hours_end, cooldown_hours, max_daily_sends,
               grace_minutes, force_followup_autosend, force_initial_autosend
        FROM org_settings
        ORDER BY id
        LIMIT 1`).Scan(
		&requireApproval, &threshold, &tz, &start, &end, &cooldown, &maxDaily, &grace,
		&forceFollowup, &forceInitial,
	)
	if err == sql.ErrNoRows {
		return model.PolicyOverrides{}, nil
	}
	if err != nil {
		return model.PolicyOverrides{}, err
	}

	var o model.PolicyOverrides
	if requireApproval.Valid {
		o.RequireApprovalForInitial = &requireApproval.Bool
	}
	if threshold.Valid {
		o.AutosendConfidenceThreshold = &threshold.Float64
	}
	if tz.Valid {
		o.BusinessHoursTimezone = &tz.String
	}
	if start.Valid {
		v := int(start.Int64)
		o.BusinessHoursStart = &v
	}
	if end.Valid {
		v := int(end.Int64)
		o.BusinessHoursEnd = &v
	}
	if cooldown.Valid {
		o.CooldownHours = &cooldown.Float64
	}
	if maxDaily.Valid {
		v := int(maxDaily.Int64)
		o.MaxDailySends = &v
	}
	if grace.Valid {
		v := int(grace.Int64)
		o.GraceMinutes = &v
	}
	if forceFollowup.Valid {
		o.ForceFollowupAutosend = &forceFollowup.Bool
	}
	if forceInitial.Valid {
		o.ForceInitialAutosend = &forceInitial.Bool
	}
	return o, nil
}

// Update writes the non-nil fields and keeps the rest.
func (r *PolicyRepository) Update(ctx context.Context, o model.PolicyOverrides) (model.PolicyOverrides, error) {
	_, err := r.DB.ExecContext(ctx, `
        INSERT INTO org_settings (id, require_approval_initial, autosend_confidence_threshold, business_hours_tz,
            business_hours_start, business_hours_end, cooldown_hours, max_daily_sends, grace_minutes,
            force_followup_autosend, force_initial_autosend)
        VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO UPDATE SET
            require_approval_initial      = COALESCE(EXCLUDED.require_approval_initial, org_settings.require_approval_initial),
            autosend_confidence_threshold = COALESCE(EXCLUDED.autosend_confidence_threshold, org_settings.autosend_confidence_threshold),
            business_hours_tz             = COALESCE(EXCLUDED.business_hours_tz, org_settings.business_hours_tz),
            business_hours_start          = COALESCE(EXCLUDED.business_hours_start, org_settings.business_hours_start),
            business_hours_end            = COALESCE(EXCLUDED.business_hours_end, org_settings.business_hours_end),
            cooldown_hours                = COALESCE(EXCLUDED.cooldown_hours, org_settings.cooldown_hours),
            max_daily_sends               = COALESCE(EXCLUDED.max_daily_sends, org_settings.max_daily_sends),
            grace_minutes                 = COALESCE(EXCLUDED.grace_minutes, org_settings.grace_minutes),
            force_followup_autosend       = COALESCE(EXCLUDED.force_followup_autosend, org_settings.force_followup_autosend),
            force_initial_autosend        = COALESCE(EXCLUDED.force_initial_autosend, org_settings.force_initial_autosend)`,
		o.RequireApprovalForInitial, o.AutosendConfidenceThreshold, o.BusinessHoursTimezone,
		o.BusinessHoursStart, o.BusinessHoursEnd, o.CooldownHours, o.MaxDailySends, o.GraceMinutes,
		o.ForceFollowupAutosend, o.ForceInitialAutosend,
	)
	if err != nil {
		return model.PolicyOverrides{}, err
	}
	return r.Get(ctx)
}

var _ PolicyRepositoryInterface = (*PolicyRepository)(nil)
