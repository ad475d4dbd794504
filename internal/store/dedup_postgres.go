package store

import (
	"context"
	"fmt"
	"time"

	"github.com/herion/citabot/internal/models"
)

// Compile-time check that PostgresStore implements DedupRepo.
var _ DedupRepo = (*PostgresStore)(nil)

func (s *PostgresStore) ClaimInbound(ctx context.Context, orgID, messageID string) (bool, error) {
	if messageID == "" {
		return false, models.ErrEmptyMessageID
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedupe (organization_id, message_id, received_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		orgID, messageID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}
