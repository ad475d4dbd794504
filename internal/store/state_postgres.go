package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/herion/citabot/internal/models"
)

var _ StateRepo = (*PostgresStore)(nil)

// GetState retrieves the conversation state for a lead.
func (s *PostgresStore) GetState(ctx context.Context, orgID, leadID string) (*models.ConversationState, error) {
	st, err := scanState(s.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM scheduling_state WHERE organization_id = $1 AND lead_id = $2`, orgID, leadID))
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore.GetState not found", "leadID", leadID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetState failed", "error", err, "leadID", leadID)
		return nil, fmt.Errorf("failed to get state for lead %s: %w", leadID, err)
	}
	return st, nil
}

// SaveState stores or replaces the conversation state for a lead.
func (s *PostgresStore) SaveState(ctx context.Context, st *models.ConversationState) error {
	if err := st.Validate(); err != nil {
		return err
	}
	rec, err := encodeState(st)
	if err != nil {
		return err
	}
	st.UpdatedAt = time.Now()
	query := `
		INSERT INTO scheduling_state (organization_id, lead_id, phase, awaiting_email, proposed, last_event, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (organization_id, lead_id)
		DO UPDATE SET
			phase = EXCLUDED.phase,
			awaiting_email = EXCLUDED.awaiting_email,
			proposed = EXCLUDED.proposed,
			last_event = EXCLUDED.last_event,
			updated_at = EXCLUDED.updated_at`
	_, err = s.db.ExecContext(ctx, query, st.OrganizationID, st.LeadID, string(st.Phase), st.AwaitingEmail,
		nullJSON(rec.proposed), nullJSON(rec.lastEvent), st.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore.SaveState failed", "error", err, "leadID", st.LeadID)
		return fmt.Errorf("failed to save state for lead %s: %w", st.LeadID, err)
	}
	slog.Debug("PostgresStore.SaveState succeeded", "leadID", st.LeadID, "phase", st.Phase)
	return nil
}
