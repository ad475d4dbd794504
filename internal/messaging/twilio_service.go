package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/herion/citabot/internal/models"
)

// ErrMissingTwilioFields is returned for webhook forms without sender or body.
var ErrMissingTwilioFields = errors.New("twilio webhook missing From or Body")

// TwilioService delivers messages through a Twilio WhatsApp sender.
// Inbound Twilio traffic arrives over HTTP and is parsed with ParseTwilioForm.
type TwilioService struct {
	client  Sender // twiliowhatsapp.Client or its MockClient
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a TwilioService around client.
func NewTwilioService(client Sender) *TwilioService {
	return &TwilioService{client: client}
}

// Start is a no-op for Twilio (no live connection).
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop rejects further sends.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// SendMessage sends a message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := CanonicalizePhone(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, canonicalTo, body)
}

// ParseTwilioForm converts a Twilio inbound webhook form into an inbound
// message. The "whatsapp:" scheme and "+" prefix are removed from From.
func ParseTwilioForm(form url.Values) (models.InboundMessage, error) {
	from := strings.TrimSpace(form.Get("From"))
	body := form.Get("Body")
	if from == "" || strings.TrimSpace(body) == "" {
		return models.InboundMessage{}, ErrMissingTwilioFields
	}

	from = strings.TrimPrefix(from, "whatsapp:")
	phone, err := CanonicalizePhone(from)
	if err != nil {
		return models.InboundMessage{}, fmt.Errorf("twilio sender: %w", err)
	}

	return models.InboundMessage{
		MessageID:   form.Get("MessageSid"),
		From:        phone,
		DisplayName: form.Get("ProfileName"),
		Body:        body,
		Channel:     models.ChannelTwilio,
	}, nil
}
