package models

import "errors"

// FollowupAction selects what POST /admin/followups does.
type FollowupAction string

const (
	FollowupActionSeed       FollowupAction = "seed"
	FollowupActionDeactivate FollowupAction = "deactivate"
)

// MaxFollowupDelayMinutes caps how far ahead a seeded follow-up may start (30 days).
const MaxFollowupDelayMinutes = 30 * 24 * 60

// FollowupRequest seeds or deactivates a lead's follow-up.
type FollowupRequest struct {
	Phone        string         `json:"phone"`
	Name         string         `json:"name,omitempty"`
	Action       FollowupAction `json:"action,omitempty"`        // defaults to seed
	DelayMinutes int            `json:"delay_minutes,omitempty"` // first nudge delay; 0 means the default cadence
}

// Validate validates a FollowupRequest.
func (r *FollowupRequest) Validate() error {
	if r.Phone == "" {
		return ErrEmptyPhone
	}
	switch r.Action {
	case "", FollowupActionSeed, FollowupActionDeactivate:
	default:
		return errors.New("action must be seed or deactivate")
	}
	if r.DelayMinutes < 0 || r.DelayMinutes > MaxFollowupDelayMinutes {
		return errors.New("delay_minutes out of range")
	}
	return nil
}
