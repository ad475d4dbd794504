package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/herion/citabot/internal/models"
)

type fakeWhatsmeow struct {
	mu           sync.Mutex
	handler      func(models.InboundMessage)
	sent         []string
	disconnected bool
}

func (f *fakeWhatsmeow) SendMessage(ctx context.Context, to string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+":"+body)
	return nil
}

func (f *fakeWhatsmeow) OnMessage(fn func(models.InboundMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

func (f *fakeWhatsmeow) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeWhatsmeow) emit(msg models.InboundMessage) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(msg)
}

func TestWhatsAppService_DispatchesInbound(t *testing.T) {
	client := &fakeWhatsmeow{}
	got := make(chan models.InboundMessage, 1)
	svc := NewWhatsAppService(client, func(ctx context.Context, msg models.InboundMessage) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected handler context to carry a deadline")
		}
		got <- msg
	})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	client.emit(models.InboundMessage{MessageID: "m1", From: "34600111222", Body: "hola"})

	select {
	case msg := <-got:
		if msg.MessageID != "m1" {
			t.Errorf("expected message m1, got %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestWhatsAppService_HandlerSurvivesParentCancel(t *testing.T) {
	client := &fakeWhatsmeow{}
	done := make(chan error, 1)
	svc := NewWhatsAppService(client, func(ctx context.Context, msg models.InboundMessage) {
		done <- ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	_ = svc.Start(ctx)
	cancel()

	client.emit(models.InboundMessage{From: "34600111222", Body: "hola"})
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("handler context should not inherit cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestWhatsAppService_StopDisconnectsAndRejectsSends(t *testing.T) {
	client := &fakeWhatsmeow{}
	svc := NewWhatsAppService(client, func(context.Context, models.InboundMessage) {})
	_ = svc.Start(context.Background())

	if err := svc.SendMessage(context.Background(), "34600111222", "hola"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if !client.disconnected {
		t.Error("expected client to be disconnected")
	}
	if err := svc.SendMessage(context.Background(), "34600111222", "hola"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	if len(client.sent) != 1 {
		t.Errorf("expected 1 delivered message, got %d", len(client.sent))
	}
}
