package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/herion/citabot/internal/models"
)

var _ FollowupRepo = (*SQLiteStore)(nil)

// UpsertFollowup seeds or re-arms a lead's follow-up. An active row never
// moves its next run earlier.
func (s *SQLiteStore) UpsertFollowup(ctx context.Context, f models.Followup) error {
	if err := validateFollowup(f); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lead_followups (organization_id, lead_id, step, next_run_at, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, lead_id)
		DO UPDATE SET
			next_run_at = CASE WHEN lead_followups.is_active
				THEN MAX(lead_followups.next_run_at, excluded.next_run_at)
				ELSE excluded.next_run_at END,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		f.OrganizationID, f.LeadID, f.Step, sqliteTime(f.NextRunAt), f.IsActive, sqliteTime(time.Now()))
	if err != nil {
		slog.Error("SQLiteStore.UpsertFollowup failed", "error", err, "leadID", f.LeadID)
		return fmt.Errorf("failed to upsert follow-up for lead %s: %w", f.LeadID, err)
	}
	return nil
}

// GetFollowup retrieves the follow-up row of a lead.
func (s *SQLiteStore) GetFollowup(ctx context.Context, orgID, leadID string) (*models.Followup, error) {
	f, err := scanFollowup(s.db.QueryRowContext(ctx,
		`SELECT `+followupColumns+` FROM lead_followups WHERE organization_id = ? AND lead_id = ?`, orgID, leadID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get follow-up for lead %s: %w", leadID, err)
	}
	return &f, nil
}

// DeactivateFollowup switches off an active follow-up.
func (s *SQLiteStore) DeactivateFollowup(ctx context.Context, orgID, leadID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE lead_followups SET is_active = 0, updated_at = ? WHERE organization_id = ? AND lead_id = ? AND is_active = 1`,
		sqliteTime(time.Now()), orgID, leadID)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate follow-up for lead %s: %w", leadID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("follow-up rows affected check failed: %w", err)
	}
	return n > 0, nil
}

// ListDueFollowups scans active follow-ups that are due.
func (s *SQLiteStore) ListDueFollowups(ctx context.Context, orgID string, now time.Time, limit int) ([]models.DueFollowup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lf.organization_id, lf.lead_id, lf.step, lf.next_run_at, lf.is_active, l.phone, COALESCE(l.name, '')
		FROM lead_followups lf
		JOIN leads l ON l.id = lf.lead_id
		WHERE lf.organization_id = ?
			AND lf.is_active = 1
			AND lf.next_run_at <= ?
			AND l.phone <> ''
		ORDER BY lf.next_run_at ASC
		LIMIT ?`, orgID, sqliteTime(now), limit)
	if err != nil {
		slog.Error("SQLiteStore.ListDueFollowups query failed", "error", err)
		return nil, fmt.Errorf("failed to query due follow-ups: %w", err)
	}
	defer rows.Close()

	var out []models.DueFollowup
	for rows.Next() {
		var d models.DueFollowup
		f, err := scanFollowup(rows, &d.Phone, &d.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due follow-up: %w", err)
		}
		d.Followup = f
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due follow-ups: %w", err)
	}
	return out, nil
}

// ClaimFollowup claims a due follow-up and advances it in one statement.
func (s *SQLiteStore) ClaimFollowup(ctx context.Context, orgID, leadID string, now time.Time, advance time.Duration) (bool, error) {
	now = sqliteTime(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE lead_followups
		SET step = step + 1,
			next_run_at = MAX(next_run_at, ?),
			updated_at = ?
		WHERE organization_id = ?
			AND lead_id = ?
			AND is_active = 1
			AND next_run_at <= ?`,
		now.Add(advance), now, orgID, leadID, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim follow-up for lead %s: %w", leadID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("follow-up claim rows affected check failed: %w", err)
	}
	return n == 1, nil
}
