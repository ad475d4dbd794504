package store

import (
	"context"
	"fmt"
	"time"

	"github.com/herion/citabot/internal/models"
)

// Compile-time check that SQLiteStore implements DedupRepo.
var _ DedupRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) ClaimInbound(ctx context.Context, orgID, messageID string) (bool, error) {
	if messageID == "" {
		return false, models.ErrEmptyMessageID
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedupe (organization_id, message_id, received_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		orgID, messageID, sqliteTime(time.Now()),
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
