package messaging

import (
	"context"
	"errors"
	"testing"
)

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{"34600111222", "34600111222", nil},
		{"+34 600-111 222", "34600111222", nil},
		{"whatsapp:+34600111222", "34600111222", nil},
		{"", "", ErrEmptyRecipient},
		{"abc", "", ErrInvalidRecipient},
		{"+123", "", ErrInvalidRecipient},
	}
	for _, tt := range tests {
		got, err := CanonicalizePhone(tt.in)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CanonicalizePhone(%q) error = %v, want %v", tt.in, err, tt.wantErr)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("CanonicalizePhone(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

type recordingSender struct {
	to  []string
	err error
}

func (r *recordingSender) SendMessage(ctx context.Context, to string, body string) error {
	r.to = append(r.to, to)
	return r.err
}

func TestInstrumentedSender(t *testing.T) {
	next := &recordingSender{}
	s := NewInstrumentedSender(next, "test")

	if err := s.SendMessage(context.Background(), "+34 600 111 222", "hola"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(next.to) != 1 || next.to[0] != "34600111222" {
		t.Errorf("expected canonical recipient, got %v", next.to)
	}

	if err := s.SendMessage(context.Background(), "", "hola"); !errors.Is(err, ErrEmptyRecipient) {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}

	next.err = errors.New("boom")
	if err := s.SendMessage(context.Background(), "34600111222", "hola"); err == nil {
		t.Error("expected delivery error to propagate")
	}
}
