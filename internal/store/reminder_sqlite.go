package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/herion/citabot/internal/models"
)

var _ ReminderRepo = (*SQLiteStore)(nil)

// InsertReminders inserts the reminder rows in a single transaction.
func (s *SQLiteStore) InsertReminders(ctx context.Context, reminders []models.Reminder) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin reminder insert: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, r := range reminders {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO appointment_reminders (organization_id, lead_id, event_id, kind, start_at, remind_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			r.OrganizationID, r.LeadID, r.EventID, string(r.Kind), sqliteTime(r.StartAt), sqliteTime(r.RemindAt))
		if err != nil {
			slog.Error("SQLiteStore.InsertReminders failed", "error", err, "eventID", r.EventID, "kind", r.Kind)
			return 0, fmt.Errorf("failed to insert %s reminder for event %s: %w", r.Kind, r.EventID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("reminder rows affected check failed: %w", err)
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reminders: %w", err)
	}
	slog.Debug("SQLiteStore.InsertReminders succeeded", "inserted", inserted)
	return inserted, nil
}

// ListDueReminders scans unsent reminders that are due.
func (s *SQLiteStore) ListDueReminders(ctx context.Context, orgID string, now time.Time, limit int) ([]models.DueReminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ar.organization_id, ar.lead_id, ar.event_id, ar.kind, ar.start_at, ar.remind_at, ar.is_sent, ar.sent_at,
			l.phone, COALESCE(l.name, '')
		FROM appointment_reminders ar
		JOIN leads l ON l.id = ar.lead_id
		WHERE ar.organization_id = ?
			AND ar.is_sent = 0
			AND ar.remind_at <= ?
			AND l.phone <> ''
		ORDER BY ar.remind_at ASC
		LIMIT ?`, orgID, sqliteTime(now), limit)
	if err != nil {
		slog.Error("SQLiteStore.ListDueReminders query failed", "error", err)
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	defer rows.Close()

	var out []models.DueReminder
	for rows.Next() {
		var d models.DueReminder
		r, err := scanReminder(rows, &d.Phone, &d.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due reminder: %w", err)
		}
		d.Reminder = r
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due reminders: %w", err)
	}
	return out, nil
}

// ClaimReminder marks a reminder as sent if nobody else has.
func (s *SQLiteStore) ClaimReminder(ctx context.Context, orgID, eventID string, kind models.ReminderKind, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE appointment_reminders
		SET is_sent = 1, sent_at = ?
		WHERE organization_id = ? AND event_id = ? AND kind = ? AND is_sent = 0`,
		sqliteTime(now), orgID, eventID, string(kind))
	if err != nil {
		return false, fmt.Errorf("failed to claim %s reminder for event %s: %w", kind, eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reminder claim rows affected check failed: %w", err)
	}
	return n == 1, nil
}

// ListReminders returns every reminder row of an event.
func (s *SQLiteStore) ListReminders(ctx context.Context, orgID, eventID string) ([]models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM appointment_reminders WHERE organization_id = ? AND event_id = ? ORDER BY remind_at ASC`,
		orgID, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders for event %s: %w", eventID, err)
	}
	defer rows.Close()
	return collectReminders(rows)
}
