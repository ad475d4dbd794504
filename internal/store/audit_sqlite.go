package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/herion/citabot/internal/models"
)

var _ AuditRepo = (*SQLiteStore)(nil)

// AppendEvent inserts an audit event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev models.AuditEvent) error {
	payload, err := marshalPayload(ev.Payload)
	if err != nil {
		return err
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (organization_id, lead_id, type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.OrganizationID, nilIfEmpty(ev.LeadID), string(ev.Type), string(payload), sqliteTime(ev.CreatedAt))
	if err != nil {
		slog.Error("SQLiteStore.AppendEvent failed", "error", err, "type", ev.Type, "leadID", ev.LeadID)
		return fmt.Errorf("failed to append %s event: %w", ev.Type, err)
	}
	return nil
}

// ListEvents returns a lead's audit trail.
func (s *SQLiteStore) ListEvents(ctx context.Context, orgID, leadID string, limit int) ([]models.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT organization_id, lead_id, type, payload, created_at FROM events WHERE organization_id = ? AND lead_id = ? ORDER BY id ASC LIMIT ?`,
		orgID, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for lead %s: %w", leadID, err)
	}
	defer rows.Close()
	return collectEvents(rows)
}
