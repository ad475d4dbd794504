// Package messaging defines the outbound delivery abstraction and the inbound
// WhatsApp channel adapters that feed the dialogue orchestrator.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/herion/citabot/internal/models"
)

// MinPhoneDigits is the shortest accepted canonical phone number.
const MinPhoneDigits = 6

var (
	phoneNumberRegex = regexp.MustCompile(`\D`)

	// ErrEmptyRecipient is returned when no recipient is given.
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	// ErrInvalidRecipient is returned for recipients without enough digits.
	ErrInvalidRecipient = errors.New("invalid phone number")
	// ErrServiceStopped is returned by services after Stop.
	ErrServiceStopped = errors.New("messaging service stopped")
)

// Sender delivers a text message to a WhatsApp recipient.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// InboundHandler consumes a transport-neutral inbound message.
type InboundHandler func(ctx context.Context, msg models.InboundMessage)

// CanonicalizePhone validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters ("+34 600-111 222" -> "34600111222")
// and validates the result has at least MinPhoneDigits digits.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", ErrEmptyRecipient
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("%w: no digits found in recipient %q", ErrInvalidRecipient, recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("%w: %q is too short (minimum %d digits required)", ErrInvalidRecipient, canonical, MinPhoneDigits)
	}

	if recipient != canonical {
		slog.Debug("messaging.CanonicalizePhone: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
