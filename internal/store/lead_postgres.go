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

var _ LeadRepo = (*PostgresStore)(nil)

// UpsertLead inserts or refreshes a lead keyed by organization and phone.
func (s *PostgresStore) UpsertLead(ctx context.Context, orgID, phone, name string) (*models.Lead, error) {
	if orgID == "" {
		return nil, models.ErrEmptyOrganization
	}
	if phone == "" {
		return nil, models.ErrEmptyPhone
	}
	query := `
		INSERT INTO leads (id, organization_id, phone, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (organization_id, phone)
		DO UPDATE SET
			name = COALESCE(EXCLUDED.name, leads.name),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + leadColumns
	lead, err := scanLead(s.db.QueryRowContext(ctx, query, uuid.NewString(), orgID, phone, nilIfEmpty(name), time.Now()))
	if err != nil {
		slog.Error("PostgresStore.UpsertLead failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to upsert lead %s: %w", phone, err)
	}
	slog.Debug("PostgresStore.UpsertLead succeeded", "leadID", lead.ID, "phone", phone)
	return lead, nil
}

// GetLead retrieves a lead by id.
func (s *PostgresStore) GetLead(ctx context.Context, orgID, leadID string) (*models.Lead, error) {
	lead, err := scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE organization_id = $1 AND id = $2`, orgID, leadID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead %s: %w", leadID, err)
	}
	return lead, nil
}

// GetLeadByPhone retrieves a lead by canonical phone.
func (s *PostgresStore) GetLeadByPhone(ctx context.Context, orgID, phone string) (*models.Lead, error) {
	lead, err := scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE organization_id = $1 AND phone = $2`, orgID, phone))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead by phone %s: %w", phone, err)
	}
	return lead, nil
}

// UpdateLeadEmail stores the email captured from the conversation.
func (s *PostgresStore) UpdateLeadEmail(ctx context.Context, orgID, leadID, email string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET email = $1, updated_at = $2 WHERE organization_id = $3 AND id = $4`,
		email, time.Now(), orgID, leadID)
	if err != nil {
		slog.Error("PostgresStore.UpdateLeadEmail failed", "error", err, "leadID", leadID)
		return fmt.Errorf("failed to update email for lead %s: %w", leadID, err)
	}
	return nil
}

// SetLeadCanInvoice toggles access to the invoice generator.
func (s *PostgresStore) SetLeadCanInvoice(ctx context.Context, orgID, leadID string, canInvoice bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE leads SET can_invoice = $1, updated_at = $2 WHERE organization_id = $3 AND id = $4`,
		canInvoice, time.Now(), orgID, leadID)
	if err != nil {
		return fmt.Errorf("failed to update invoicing for lead %s: %w", leadID, err)
	}
	return nil
}
