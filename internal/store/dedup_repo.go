// Package store provides the DedupRepo interface for inbound message deduplication.
package store

import "context"

// DedupRepo defines the interface for inbound message deduplication.
type DedupRepo interface {
	// ClaimInbound records a message id for an organization. It returns false
	// if the id was already recorded (duplicate delivery). The insert is atomic,
	// so concurrent deliveries of the same id see exactly one true.
	ClaimInbound(ctx context.Context, orgID, messageID string) (bool, error)
}
