package store

import (
	"context"
	"time"

	"github.com/herion/citabot/internal/models"
)

// FollowupRepo persists the per-lead follow-up schedule.
type FollowupRepo interface {
	// UpsertFollowup seeds or re-arms a lead's follow-up. While the row is
	// active next_run_at only moves forward; an inactive row takes the new time.
	UpsertFollowup(ctx context.Context, f models.Followup) error
	// GetFollowup returns nil, nil when the lead has no follow-up row.
	GetFollowup(ctx context.Context, orgID, leadID string) (*models.Followup, error)
	// DeactivateFollowup stops further follow-ups. It reports whether an
	// active row was switched off.
	DeactivateFollowup(ctx context.Context, orgID, leadID string) (bool, error)
	// ListDueFollowups returns up to limit active follow-ups with
	// next_run_at <= now, oldest first, joined with the lead's contact data.
	ListDueFollowups(ctx context.Context, orgID string, now time.Time, limit int) ([]models.DueFollowup, error)
	// ClaimFollowup re-checks that the row is still active and due, and in the
	// same statement increments step and moves next_run_at to
	// max(next_run_at, now+advance). Only one caller can win a given due row.
	ClaimFollowup(ctx context.Context, orgID, leadID string, now time.Time, advance time.Duration) (bool, error)
}

const followupColumns = `organization_id, lead_id, step, next_run_at, is_active`

func scanFollowup(row rowScanner, extra ...any) (models.Followup, error) {
	var f models.Followup
	dest := append([]any{&f.OrganizationID, &f.LeadID, &f.Step, &f.NextRunAt, &f.IsActive}, extra...)
	err := row.Scan(dest...)
	return f, err
}

func validateFollowup(f models.Followup) error {
	if f.OrganizationID == "" {
		return models.ErrEmptyOrganization
	}
	if f.NextRunAt.IsZero() {
		return models.ErrInvalidFollowupRun
	}
	return nil
}
