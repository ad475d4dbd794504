package messaging

import (
	"context"
	"log/slog"

	"github.com/herion/citabot/internal/metrics"
)

// InstrumentedSender canonicalizes recipients and records delivery metrics
// around another Sender.
type InstrumentedSender struct {
	next    Sender
	channel string
}

// NewInstrumentedSender wraps next; channel labels log lines.
func NewInstrumentedSender(next Sender, channel string) *InstrumentedSender {
	return &InstrumentedSender{next: next, channel: channel}
}

// SendMessage validates the recipient and forwards the message.
func (s *InstrumentedSender) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := CanonicalizePhone(to)
	if err != nil {
		metrics.RecordOutbound("invalid")
		slog.Error("InstrumentedSender.SendMessage: invalid recipient", "error", err, "to", to, "channel", s.channel)
		return err
	}
	if err := s.next.SendMessage(ctx, canonical, body); err != nil {
		metrics.RecordOutbound("failed")
		slog.Error("InstrumentedSender.SendMessage: delivery failed", "error", err, "to", canonical, "channel", s.channel)
		return err
	}
	metrics.RecordOutbound("sent")
	slog.Debug("InstrumentedSender.SendMessage: delivered", "to", canonical, "channel", s.channel, "body_length", len(body))
	return nil
}
