package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/herion/citabot/internal/models"
)

// AuditRepo appends to and reads the audit log.
type AuditRepo interface {
	AppendEvent(ctx context.Context, ev models.AuditEvent) error
	// ListEvents returns a lead's events, oldest first, up to limit.
	ListEvents(ctx context.Context, orgID, leadID string, limit int) ([]models.AuditEvent, error)
}

func collectEvents(rows *sql.Rows) ([]models.AuditEvent, error) {
	var out []models.AuditEvent
	for rows.Next() {
		var ev models.AuditEvent
		var leadID sql.NullString
		var typ string
		var payload []byte
		if err := rows.Scan(&ev.OrganizationID, &leadID, &typ, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.LeadID = leadID.String
		ev.Type = models.AuditEventType(typ)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode event payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}
