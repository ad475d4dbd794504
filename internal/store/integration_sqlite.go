package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

var (
	_ IntegrationRepo = (*SQLiteStore)(nil)
	_ InboxRepo       = (*SQLiteStore)(nil)
)

// GetGoogleRefreshToken loads the stored Google OAuth refresh token.
func (s *SQLiteStore) GetGoogleRefreshToken(ctx context.Context, orgID string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT refresh_token FROM integrations_google WHERE organization_id = ?`, orgID).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load google token: %w", err)
	}
	return token, nil
}

// SaveGoogleRefreshToken stores or replaces the Google OAuth refresh token.
func (s *SQLiteStore) SaveGoogleRefreshToken(ctx context.Context, orgID, refreshToken string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integrations_google (organization_id, refresh_token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (organization_id)
		DO UPDATE SET refresh_token = excluded.refresh_token, updated_at = excluded.updated_at`,
		orgID, refreshToken, sqliteTime(time.Now()))
	if err != nil {
		slog.Error("SQLiteStore.SaveGoogleRefreshToken failed", "error", err)
		return fmt.Errorf("failed to save google token: %w", err)
	}
	return nil
}

// InsertLeadsInbox stores a raw lead payload.
func (s *SQLiteStore) InsertLeadsInbox(ctx context.Context, source string, rawPayload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads_inbox (source, raw_payload, received_at) VALUES (?, ?, ?)`,
		source, string(rawPayload), sqliteTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to store %s payload: %w", source, err)
	}
	return nil
}
