// Package models defines conversation state management structures for citabot.
package models

import (
	"fmt"
	"time"
)

// MaxProposedSlots is the number of options offered to a lead at once.
const MaxProposedSlots = 3

// Interval is a half-open time range reported busy by the calendar provider.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Slot is a proposed one-hour appointment interval.
type Slot struct {
	Start time.Time `json:"startISO"`
	End   time.Time `json:"endISO"`
}

// Overlaps reports whether the slot intersects the interval (open-interval test).
func (s Slot) Overlaps(b Interval) bool {
	return s.Start.Before(b.End) && s.End.After(b.Start)
}

// EventRef is the denormalized reference to a calendar event created for a lead.
type EventRef struct {
	EventID string    `json:"eventId"`
	Start   time.Time `json:"startISO"`
	End     time.Time `json:"endISO"`
}

// Phase is a node of the conversation state machine.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseSlotsProposed Phase = "slots_proposed"
	PhaseAwaitingEmail Phase = "awaiting_email"
	PhaseClosed        Phase = "closed"
)

// StateEvent drives a transition between phases.
type StateEvent string

const (
	EventPropose    StateEvent = "propose"
	EventBook       StateEvent = "book"
	EventInviteSent StateEvent = "invite_sent"
)

// transitions is the full table of allowed phase changes. A fresh offer made
// while an invitation is pending keeps the pending invitation alive.
var transitions = map[Phase]map[StateEvent]Phase{
	PhaseIdle: {
		EventPropose: PhaseSlotsProposed,
	},
	PhaseSlotsProposed: {
		EventPropose: PhaseSlotsProposed,
		EventBook:    PhaseAwaitingEmail,
	},
	PhaseAwaitingEmail: {
		EventPropose:    PhaseAwaitingEmail,
		EventBook:       PhaseAwaitingEmail,
		EventInviteSent: PhaseClosed,
	},
	PhaseClosed: {
		EventPropose: PhaseSlotsProposed,
		EventBook:    PhaseAwaitingEmail,
	},
}

// Transition returns the phase reached from p on ev.
func Transition(p Phase, ev StateEvent) (Phase, error) {
	if p == "" {
		p = PhaseIdle
	}
	next, ok := transitions[p][ev]
	if !ok {
		return p, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, p)
	}
	return next, nil
}

// ConversationState is the per-(organization, lead) scheduling record.
type ConversationState struct {
	OrganizationID string    `json:"organization_id"`
	LeadID         string    `json:"lead_id"`
	Phase          Phase     `json:"phase"`
	AwaitingEmail  bool      `json:"awaiting_email"`
	ProposedSlots  []Slot    `json:"proposed,omitempty"`
	LastEvent      *EventRef `json:"last_event,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewConversationState returns an idle state for the lead.
func NewConversationState(orgID, leadID string) *ConversationState {
	return &ConversationState{OrganizationID: orgID, LeadID: leadID, Phase: PhaseIdle}
}

// Validate checks the record invariants enforced at the store write boundary.
func (s *ConversationState) Validate() error {
	if s.OrganizationID == "" {
		return ErrEmptyOrganization
	}
	if s.LeadID == "" {
		return fmt.Errorf("%w: empty lead id", ErrInvalidState)
	}
	if len(s.ProposedSlots) > MaxProposedSlots {
		return fmt.Errorf("%w: %d", ErrTooManySlots, len(s.ProposedSlots))
	}
	if s.AwaitingEmail && s.LastEvent == nil {
		return fmt.Errorf("%w: awaiting email without an event", ErrInvalidState)
	}
	if s.AwaitingEmail != (s.Phase == PhaseAwaitingEmail) {
		return fmt.Errorf("%w: awaiting_email=%t in phase %s", ErrInvalidState, s.AwaitingEmail, s.Phase)
	}
	return nil
}

// Propose replaces the proposed slots with a fresh offer.
func (s *ConversationState) Propose(slots []Slot) error {
	if len(slots) == 0 || len(slots) > MaxProposedSlots {
		return fmt.Errorf("%w: offer of %d slots", ErrInvalidState, len(slots))
	}
	next, err := Transition(s.Phase, EventPropose)
	if err != nil {
		return err
	}
	s.Phase = next
	s.ProposedSlots = append([]Slot(nil), slots...)
	return nil
}

// Book records the created event and starts waiting for the lead's email.
func (s *ConversationState) Book(ev EventRef) error {
	next, err := Transition(s.Phase, EventBook)
	if err != nil {
		return err
	}
	s.Phase = next
	s.AwaitingEmail = true
	s.LastEvent = &ev
	return nil
}

// InviteSent closes the pending invitation.
func (s *ConversationState) InviteSent() error {
	next, err := Transition(s.Phase, EventInviteSent)
	if err != nil {
		return err
	}
	s.Phase = next
	s.AwaitingEmail = false
	return nil
}

// Choice returns the 1-based proposed slot, if it exists.
func (s *ConversationState) Choice(n int) (Slot, bool) {
	if s == nil || n < 1 || n > len(s.ProposedSlots) {
		return Slot{}, false
	}
	return s.ProposedSlots[n-1], true
}
