package store

import (
	"context"

	"github.com/herion/citabot/internal/models"
)

// StateRepo persists the per-(organization, lead) conversation state record.
type StateRepo interface {
	// GetState returns nil, nil when the lead has no state yet.
	GetState(ctx context.Context, orgID, leadID string) (*models.ConversationState, error)
	// SaveState validates and overwrites the full record (last write wins).
	SaveState(ctx context.Context, st *models.ConversationState) error
}

const stateColumns = `organization_id, lead_id, phase, awaiting_email, proposed, last_event, updated_at`
