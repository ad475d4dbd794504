// Package dedupe guards the orchestrator against repeated webhook deliveries.
package dedupe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/herion/citabot/internal/store"
)

// Guard accepts each (organization, message id) at most once.
type Guard struct {
	repo store.DedupRepo
}

// NewGuard creates a Guard backed by repo.
func NewGuard(repo store.DedupRepo) *Guard {
	return &Guard{repo: repo}
}

// Claim reports whether processing of messageID should proceed.
//
// An empty message id is always accepted without a write. When the store
// fails the message is accepted as well and the error is returned for logging.
func (g *Guard) Claim(ctx context.Context, orgID, messageID string) (bool, error) {
	if messageID == "" {
		return true, nil
	}
	accepted, err := g.repo.ClaimInbound(ctx, orgID, messageID)
	if err != nil {
		slog.Error("Guard.Claim: dedupe store failed, accepting message", "error", err, "messageID", messageID)
		return true, fmt.Errorf("dedupe claim for %s: %w", messageID, err)
	}
	if !accepted {
		slog.Debug("Guard.Claim: duplicate delivery skipped", "messageID", messageID)
	}
	return accepted, nil
}
