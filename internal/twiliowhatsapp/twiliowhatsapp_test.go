package twiliowhatsapp

import (
	"context"
	"errors"
	"sync"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeAPI struct {
	params *twilioApi.CreateMessageParams
	err    error
}

func (f *fakeAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM1"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestNewClient_RequiresConfig(t *testing.T) {
	if _, err := NewClient(WithFromWhats("+34911")); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); !errors.Is(err, ErrMissingSender) {
		t.Errorf("expected ErrMissingSender, got %v", err)
	}
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("34911000000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.fromWhats != "whatsapp:+34911000000" {
		t.Errorf("unexpected sender address %q", c.fromWhats)
	}
}

func TestAddress(t *testing.T) {
	tests := map[string]string{
		"34600111222":            "whatsapp:+34600111222",
		"+34600111222":           "whatsapp:+34600111222",
		"whatsapp:+34600111222":  "whatsapp:+34600111222",
		" whatsapp:34600111222 ": "whatsapp:+34600111222",
	}
	for in, want := range tests {
		if got := Address(in); got != want {
			t.Errorf("Address(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClient_SendMessage(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(api, "whatsapp:+34911000000")

	if err := c.SendMessage(context.Background(), "34600111222", "Hola"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *api.params.To != "whatsapp:+34600111222" || *api.params.From != "whatsapp:+34911000000" || *api.params.Body != "Hola" {
		t.Errorf("unexpected params: to=%s from=%s body=%s", *api.params.To, *api.params.From, *api.params.Body)
	}

	api.err = errors.New("rate limited")
	if err := c.SendMessage(context.Background(), "34600111222", "Hola"); !errors.Is(err, api.err) {
		t.Errorf("expected wrapped API error, got %v", err)
	}
}

func TestMockClient_Concurrent(t *testing.T) {
	mock := NewMockClient()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mock.SendMessage(context.Background(), "34600111222", "Hola")
		}()
	}
	wg.Wait()
	if n := len(mock.Messages()); n != 10 {
		t.Errorf("expected 10 messages, got %d", n)
	}

	mock.Err = errors.New("down")
	if err := mock.SendMessage(context.Background(), "1", "x"); err == nil {
		t.Error("expected configured error")
	}
}
