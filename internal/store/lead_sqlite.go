package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/herion/citabot/internal/models"
)

var _ LeadRepo = (*SQLiteStore)(nil)

// UpsertLead inserts or refreshes a lead keyed by organization and phone.
func (s *SQLiteStore) UpsertLead(ctx context.Context, orgID, phone, name string) (*models.Lead, error) {
	if orgID == "" {
		return nil, models.ErrEmptyOrganization
	}
	if phone == "" {
		return nil, models.ErrEmptyPhone
	}
	now := sqliteTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, organization_id, phone, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, phone)
		DO UPDATE SET
			name = COALESCE(excluded.name, leads.name),
			updated_at = excluded.updated_at`,
		uuid.NewString(), orgID, phone, nilIfEmpty(name), now, now)
	if err != nil {
		slog.Error("SQLiteStore.UpsertLead failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to upsert lead %s: %w", phone, err)
	}
	lead, err := s.GetLeadByPhone(ctx, orgID, phone)
	if err != nil {
		return nil, err
	}
	if lead == nil {
		return nil, fmt.Errorf("lead %s missing after upsert", phone)
	}
	slog.Debug("SQLiteStore.UpsertLead succeeded", "leadID", lead.ID, "phone", phone)
	return lead, nil
}

// GetLead retrieves a lead by id.
func (s *SQLiteStore) GetLead(ctx context.Context, orgID, leadID string) (*models.Lead, error) {
	lead, err := scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE organization_id = ? AND id = ?`, orgID, leadID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead %s: %w", leadID, err)
	}
	return lead, nil
}

// GetLeadByPhone retrieves a lead by canonical phone.
func (s *SQLiteStore) GetLeadByPhone(ctx context.Context, orgID, phone string) (*models.Lead, error) {
	lead, err := scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE organization_id = ? AND phone = ?`, orgID, phone))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead by phone %s: %w", phone, err)
	}
	return lead, nil
}

// UpdateLeadEmail stores the email captured from the conversation.
func (s *SQLiteStore) UpdateLeadEmail(ctx context.Context, orgID, leadID, email string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET email = ?, updated_at = ? WHERE organization_id = ? AND id = ?`,
		email, sqliteTime(time.Now()), orgID, leadID)
	if err != nil {
		slog.Error("SQLiteStore.UpdateLeadEmail failed", "error", err, "leadID", leadID)
		return fmt.Errorf("failed to update email for lead %s: %w", leadID, err)
	}
	return nil
}

// SetLeadCanInvoice toggles access to the invoice generator.
func (s *SQLiteStore) SetLeadCanInvoice(ctx context.Context, orgID, leadID string, canInvoice bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET can_invoice = ?, updated_at = ? WHERE organization_id = ? AND id = ?`,
		canInvoice, sqliteTime(time.Now()), orgID, leadID)
	if err != nil {
		return fmt.Errorf("failed to update invoicing for lead %s: %w", leadID, err)
	}
	return nil
}
