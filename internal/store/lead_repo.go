package store

import (
	"context"

	"github.com/herion/citabot/internal/models"
)

// LeadRepo persists leads keyed by (organization, phone).
type LeadRepo interface {
	// UpsertLead creates the lead on first contact. A non-empty name replaces
	// the stored one; an empty name leaves it untouched.
	UpsertLead(ctx context.Context, orgID, phone, name string) (*models.Lead, error)
	// GetLead returns nil, nil when the lead does not exist.
	GetLead(ctx context.Context, orgID, leadID string) (*models.Lead, error)
	// GetLeadByPhone returns nil, nil when no lead has that phone.
	GetLeadByPhone(ctx context.Context, orgID, phone string) (*models.Lead, error)
	UpdateLeadEmail(ctx context.Context, orgID, leadID, email string) error
	SetLeadCanInvoice(ctx context.Context, orgID, leadID string, canInvoice bool) error
}
