package models

import "time"

// ReminderKind identifies which appointment reminder a row represents.
type ReminderKind string

const (
	Reminder24h ReminderKind = "24h"
	Reminder2h  ReminderKind = "2h"
)

// Lead returns how long before the appointment the reminder fires.
func (k ReminderKind) Lead() (time.Duration, error) {
	switch k {
	case Reminder24h:
		return 24 * time.Hour, nil
	case Reminder2h:
		return 2 * time.Hour, nil
	default:
		return 0, ErrUnknownReminder
	}
}

// ReminderKinds lists the reminders created for every booking.
var ReminderKinds = []ReminderKind{Reminder24h, Reminder2h}

// Reminder is an appointment reminder row. Terminal once sent.
type Reminder struct {
	OrganizationID string       `json:"organization_id"`
	LeadID         string       `json:"lead_id"`
	EventID        string       `json:"event_id"`
	Kind           ReminderKind `json:"kind"`
	StartAt        time.Time    `json:"start_at"`
	RemindAt       time.Time    `json:"remind_at"`
	IsSent         bool         `json:"is_sent"`
	SentAt         *time.Time   `json:"sent_at,omitempty"`
}

// ReminderPair builds the 24-hour and 2-hour reminders for an event.
func ReminderPair(orgID, leadID string, ev EventRef) []Reminder {
	out := make([]Reminder, 0, len(ReminderKinds))
	for _, kind := range ReminderKinds {
		lead, _ := kind.Lead()
		out = append(out, Reminder{
			OrganizationID: orgID,
			LeadID:         leadID,
			EventID:        ev.EventID,
			Kind:           kind,
			StartAt:        ev.Start,
			RemindAt:       ev.Start.Add(-lead),
		})
	}
	return out
}

// DueReminder is an unsent reminder joined with its lead's contact data.
type DueReminder struct {
	Reminder
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}

// Followup is the per-lead nudge schedule. NextRunAt only moves forward.
type Followup struct {
	OrganizationID string    `json:"organization_id"`
	LeadID         string    `json:"lead_id"`
	Step           int       `json:"step"`
	NextRunAt      time.Time `json:"next_run_at"`
	IsActive       bool      `json:"is_active"`
}

// DueFollowup is a claimed follow-up joined with its lead's contact data.
type DueFollowup struct {
	Followup
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}
