package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/herion/citabot/internal/models"
)

// DefaultInboundTimeout bounds the processing of a single inbound message.
const DefaultInboundTimeout = 60 * time.Second

// whatsmeowClient is the subset of *whatsapp.Client used by WhatsAppService.
type whatsmeowClient interface {
	SendMessage(ctx context.Context, to string, body string) error
	OnMessage(fn func(models.InboundMessage))
	Disconnect()
}

// WhatsAppService feeds whatsmeow message events into an InboundHandler and
// delivers replies over the same connection.
type WhatsAppService struct {
	client  whatsmeowClient
	handler InboundHandler
	timeout time.Duration

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewWhatsAppService creates a WhatsAppService around a connected client.
func NewWhatsAppService(client whatsmeowClient, handler InboundHandler) *WhatsAppService {
	return &WhatsAppService{client: client, handler: handler, timeout: DefaultInboundTimeout}
}

// Start registers the inbound event handler. Each message is processed on
// its own goroutine with a context detached from the event loop.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService.Start: registering event handler")
	s.client.OnMessage(func(msg models.InboundMessage) {
		s.mu.RLock()
		if s.stopped {
			s.mu.RUnlock()
			slog.Warn("WhatsAppService: dropping inbound message, service stopped", "from", msg.From)
			return
		}
		s.wg.Add(1)
		s.mu.RUnlock()

		go func() {
			defer s.wg.Done()
			hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
			defer cancel()
			s.handler(hctx, msg)
		}()
	})
	return nil
}

// Stop waits for in-flight messages and disconnects the client.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.wg.Wait()
	s.client.Disconnect()
	slog.Info("WhatsAppService stopped")
	return nil
}

// SendMessage delivers a text message through the whatsmeow connection.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	return s.client.SendMessage(ctx, to, body)
}
