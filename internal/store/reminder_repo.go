package store

import (
	"context"
	"time"

	"github.com/herion/citabot/internal/models"
)

// ReminderRepo persists appointment reminders and their sent flags.
type ReminderRepo interface {
	// InsertReminders inserts the rows idempotently, skipping any
	// (organization, event, kind) that already exists. It returns the number
	// of rows actually inserted.
	InsertReminders(ctx context.Context, reminders []models.Reminder) (int, error)
	// ListDueReminders returns up to limit unsent reminders with
	// remind_at <= now, oldest first, joined with the lead's contact data.
	ListDueReminders(ctx context.Context, orgID string, now time.Time, limit int) ([]models.DueReminder, error)
	// ClaimReminder flips is_sent from false to true. Only one caller can
	// win the claim for a given row.
	ClaimReminder(ctx context.Context, orgID, eventID string, kind models.ReminderKind, now time.Time) (bool, error)
	// ListReminders returns every reminder row of an event.
	ListReminders(ctx context.Context, orgID, eventID string) ([]models.Reminder, error)
}

const reminderColumns = `organization_id, lead_id, event_id, kind, start_at, remind_at, is_sent, sent_at`

func scanReminder(row rowScanner, extra ...any) (models.Reminder, error) {
	var r models.Reminder
	var kind string
	var sentAt *time.Time
	dest := append([]any{&r.OrganizationID, &r.LeadID, &r.EventID, &kind, &r.StartAt, &r.RemindAt, &r.IsSent, &sentAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return r, err
	}
	r.Kind = models.ReminderKind(kind)
	r.SentAt = sentAt
	return r, nil
}
