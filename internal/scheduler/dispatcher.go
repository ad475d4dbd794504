package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/herion/citabot/internal/messaging"
	"github.com/herion/citabot/internal/metrics"
	"github.com/herion/citabot/internal/models"
	"github.com/herion/citabot/internal/slots"
	"github.com/herion/citabot/internal/store"
)

// Batch sizes and the follow-up cadence.
const (
	DefaultFollowupLimit   = 20
	DefaultReminderLimit   = 30
	DefaultFollowupAdvance = time.Hour
)

// Summary reports a batch run.
type Summary struct {
	Processed  int `json:"processed"`
	Candidates int `json:"candidates"`
}

// Store is the persistence used by the dispatcher.
type Store interface {
	store.ReminderRepo
	store.FollowupRepo
	store.AuditRepo
}

// Opts holds configuration options for the dispatcher.
type Opts struct {
	OrganizationID  string
	Location        *time.Location
	Clock           func() time.Time
	FollowupLimit   int
	ReminderLimit   int
	FollowupAdvance time.Duration
}

// Option defines a configuration option for the dispatcher.
type Option func(*Opts)

// WithOrganization sets the organization whose rows are scanned.
func WithOrganization(orgID string) Option {
	return func(o *Opts) { o.OrganizationID = orgID }
}

// WithLocation sets the zone used to render appointment times.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// WithFollowupAdvance sets the minimum delay before a lead's next follow-up.
func WithFollowupAdvance(d time.Duration) Option {
	return func(o *Opts) { o.FollowupAdvance = d }
}

// Dispatcher claims due follow-ups and reminders and sends their messages.
type Dispatcher struct {
	store  Store
	sender messaging.Sender

	orgID         string
	loc           *time.Location
	now           func() time.Time
	followupLimit int
	reminderLimit int
	advance       time.Duration
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(st Store, sender messaging.Sender, opts ...Option) *Dispatcher {
	cfg := Opts{
		OrganizationID:  models.DefaultOrganizationID,
		Clock:           time.Now,
		FollowupLimit:   DefaultFollowupLimit,
		ReminderLimit:   DefaultReminderLimit,
		FollowupAdvance: DefaultFollowupAdvance,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		loc, err := slots.LoadLocation(slots.DefaultTimeZone)
		if err != nil {
			loc = time.UTC
		}
		cfg.Location = loc
	}
	return &Dispatcher{
		store:         st,
		sender:        sender,
		orgID:         cfg.OrganizationID,
		loc:           cfg.Location,
		now:           cfg.Clock,
		followupLimit: cfg.FollowupLimit,
		reminderLimit: cfg.ReminderLimit,
		advance:       cfg.FollowupAdvance,
	}
}

// RunFollowups sends the due follow-ups. Only a failed scan returns an error;
// rows claimed by a concurrent run are skipped.
func (d *Dispatcher) RunFollowups(ctx context.Context) (Summary, error) {
	now := d.now()
	due, err := d.store.ListDueFollowups(ctx, d.orgID, now, d.followupLimit)
	if err != nil {
		return Summary{}, fmt.Errorf("scan due follow-ups: %w", err)
	}

	sum := Summary{Candidates: len(due)}
	for _, f := range due {
		claimed, err := d.store.ClaimFollowup(ctx, f.OrganizationID, f.LeadID, now, d.advance)
		if err != nil {
			slog.Error("Dispatcher.RunFollowups: claim failed", "error", err, "leadID", f.LeadID)
			continue
		}
		if !claimed {
			slog.Debug("Dispatcher.RunFollowups: row taken by another run", "leadID", f.LeadID)
			continue
		}

		text := FollowupText(f.Name)
		sent := d.dispatch(ctx, f.Phone, text, "followup")
		d.audit(ctx, f.OrganizationID, f.LeadID, models.AuditFollowupSent, map[string]any{"step": f.Step, "text": text, "sent": sent})
		sum.Processed++
	}
	return sum, nil
}

// RunReminders sends the due appointment reminders. Only a failed scan
// returns an error; reminders already sent by a concurrent run are skipped.
func (d *Dispatcher) RunReminders(ctx context.Context) (Summary, error) {
	now := d.now()
	due, err := d.store.ListDueReminders(ctx, d.orgID, now, d.reminderLimit)
	if err != nil {
		return Summary{}, fmt.Errorf("scan due reminders: %w", err)
	}

	sum := Summary{Candidates: len(due)}
	for _, r := range due {
		claimed, err := d.store.ClaimReminder(ctx, r.OrganizationID, r.EventID, r.Kind, now)
		if err != nil {
			slog.Error("Dispatcher.RunReminders: claim failed", "error", err, "eventID", r.EventID, "kind", r.Kind)
			continue
		}
		if !claimed {
			continue
		}

		text, err := ReminderText(r.Kind, r.Name, r.StartAt, d.loc)
		if err != nil {
			slog.Error("Dispatcher.RunReminders: cannot format reminder", "error", err, "eventID", r.EventID)
			continue
		}
		sent := d.dispatch(ctx, r.Phone, text, "reminder_"+string(r.Kind))
		d.audit(ctx, r.OrganizationID, r.LeadID, models.AuditReminderSent, map[string]any{
			"kind": string(r.Kind), "eventId": r.EventID, "text": text, "sent": sent,
		})
		sum.Processed++
	}
	return sum, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, phone, text, kind string) bool {
	if err := d.sender.SendMessage(ctx, phone, text); err != nil {
		metrics.RecordCollaboratorFailure("messaging")
		slog.Error("Dispatcher: send failed", "error", err, "kind", kind, "to", phone)
		return false
	}
	metrics.RecordDispatch(kind)
	return true
}

func (d *Dispatcher) audit(ctx context.Context, orgID, leadID string, typ models.AuditEventType, payload map[string]any) {
	err := d.store.AppendEvent(ctx, models.AuditEvent{OrganizationID: orgID, LeadID: leadID, Type: typ, Payload: payload})
	if err != nil {
		slog.Error("Dispatcher: audit append failed", "error", err, "type", typ, "leadID", leadID)
	}
}
