// Package models defines the core data structures for citabot.
//
// It includes the lead, conversation state, scheduling and audit types shared
// across the store, dialogue, scheduler and API modules.
package models

import (
	"errors"
	"time"
)

// DefaultOrganizationID is used when no organization is configured.
const DefaultOrganizationID = "default"

// Error variables for better error handling and testability
var (
	ErrEmptyOrganization  = errors.New("organization id cannot be empty")
	ErrEmptyPhone         = errors.New("phone cannot be empty")
	ErrInvalidState       = errors.New("invalid conversation state")
	ErrInvalidTransition  = errors.New("invalid conversation state transition")
	ErrTooManySlots       = errors.New("too many proposed slots")
	ErrUnknownReminder    = errors.New("unknown reminder kind")
	ErrEmptyMessageID     = errors.New("message id cannot be empty")
	ErrInvalidFollowupRun = errors.New("follow-up next run time is required")
)

// Lead is a contact identified by phone number within an organization.
type Lead struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Phone          string    `json:"phone"`
	Name           string    `json:"name,omitempty"`
	Email          string    `json:"email,omitempty"`
	CanInvoice     bool      `json:"can_invoice"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Channel identifies the WhatsApp transport an inbound message arrived on.
type Channel string

const (
	ChannelCloudAPI  Channel = "cloudapi"
	ChannelTwilio    Channel = "twilio"
	ChannelWhatsmeow Channel = "whatsmeow"
)

// InboundMessage is a transport-neutral inbound WhatsApp delivery.
type InboundMessage struct {
	MessageID   string  `json:"message_id,omitempty"` // empty disables dedupe
	From        string  `json:"from"`
	DisplayName string  `json:"display_name,omitempty"`
	Body        string  `json:"body"`
	Channel     Channel `json:"channel,omitempty"`
}

// AuditEventType names a state-changing action recorded in the audit log.
type AuditEventType string

const (
	AuditInboundMessage     AuditEventType = "inbound_msg"
	AuditSlotsProposed      AuditEventType = "slots_proposed"
	AuditEventCreated       AuditEventType = "calendar_event_created"
	AuditInviteSent         AuditEventType = "appointment_invite_sent"
	AuditReminderSent       AuditEventType = "appointment_reminder_sent"
	AuditFollowupSent       AuditEventType = "followup_sent"
	AuditOutboundMessage    AuditEventType = "outbound_msg"
	AuditFollowupDeactivate AuditEventType = "followup_deactivated"
)

// AuditEvent is an append-only record of a state-changing action.
type AuditEvent struct {
	OrganizationID string         `json:"organization_id"`
	LeadID         string         `json:"lead_id"`
	Type           AuditEventType `json:"type"`
	Payload        map[string]any `json:"payload,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
