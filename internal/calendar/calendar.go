// Package calendar reaches the organization's shared calendar: busy-time
// lookups, event creation and attendee invitations.
package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/herion/citabot/internal/models"
)

var (
	// ErrMissingCredentials is returned when no refresh token is stored for
	// the organization or the OAuth client is not configured.
	ErrMissingCredentials = errors.New("calendar credentials missing")
	// ErrNoRefreshToken is returned when an OAuth exchange yields no refresh token.
	ErrNoRefreshToken = errors.New("oauth exchange returned no refresh token")
)

// EventInput describes an event to create.
type EventInput struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Provider is the calendar collaborator used by the dialogue orchestrator.
type Provider interface {
	ListBusy(ctx context.Context, orgID string, start, end time.Time) ([]models.Interval, error)
	CreateEvent(ctx context.Context, orgID string, in EventInput) (string, error)
	// PatchAttendees adds emails to the event and asks the provider to notify them.
	PatchAttendees(ctx context.Context, orgID, eventID string, emails []string) error
}
