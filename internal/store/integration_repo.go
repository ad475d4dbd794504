package store

import "context"

// IntegrationRepo stores third-party credentials per organization.
type IntegrationRepo interface {
	// GetGoogleRefreshToken returns "" when no token has been stored.
	GetGoogleRefreshToken(ctx context.Context, orgID string) (string, error)
	SaveGoogleRefreshToken(ctx context.Context, orgID, refreshToken string) error
}

// InboxRepo captures raw payloads from lead sources for later processing.
type InboxRepo interface {
	InsertLeadsInbox(ctx context.Context, source string, rawPayload []byte) error
}
