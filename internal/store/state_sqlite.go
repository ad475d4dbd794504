package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/herion/citabot/internal/models"
)

var _ StateRepo = (*SQLiteStore)(nil)

// GetState retrieves the conversation state for a lead.
func (s *SQLiteStore) GetState(ctx context.Context, orgID, leadID string) (*models.ConversationState, error) {
	st, err := scanState(s.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM scheduling_state WHERE organization_id = ? AND lead_id = ?`, orgID, leadID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetState failed", "error", err, "leadID", leadID)
		return nil, fmt.Errorf("failed to get state for lead %s: %w", leadID, err)
	}
	return st, nil
}

// SaveState stores or replaces the conversation state for a lead.
func (s *SQLiteStore) SaveState(ctx context.Context, st *models.ConversationState) error {
	if err := st.Validate(); err != nil {
		return err
	}
	rec, err := encodeState(st)
	if err != nil {
		return err
	}
	st.UpdatedAt = sqliteTime(time.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduling_state (organization_id, lead_id, phase, awaiting_email, proposed, last_event, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, lead_id)
		DO UPDATE SET
			phase = excluded.phase,
			awaiting_email = excluded.awaiting_email,
			proposed = excluded.proposed,
			last_event = excluded.last_event,
			updated_at = excluded.updated_at`,
		st.OrganizationID, st.LeadID, string(st.Phase), st.AwaitingEmail,
		nullJSON(rec.proposed), nullJSON(rec.lastEvent), st.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore.SaveState failed", "error", err, "leadID", st.LeadID)
		return fmt.Errorf("failed to save state for lead %s: %w", st.LeadID, err)
	}
	slog.Debug("SQLiteStore.SaveState succeeded", "leadID", st.LeadID, "phase", st.Phase)
	return nil
}
