// Package testutil provides common test fakes and helpers for citabot tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/herion/citabot/internal/calendar"
	"github.com/herion/citabot/internal/models"
	"github.com/herion/citabot/internal/store"
)

// NewSQLiteStore opens a migrated SQLite store in a temporary directory.
func NewSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "citabot.db")
	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("failed to create SQLite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// SentMessage is a message captured by FakeSender.
type SentMessage struct {
	To   string
	Body string
}

// FakeSender records outbound messages. Err, when set, fails every send.
type FakeSender struct {
	mu   sync.Mutex
	sent []SentMessage
	Err  error
}

func (f *FakeSender) SendMessage(ctx context.Context, to string, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.sent = append(f.sent, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a copy of the recorded messages.
func (f *FakeSender) Messages() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.sent...)
}

// Last returns the most recent message, failing the test when there is none.
func (f *FakeSender) Last(t *testing.T) SentMessage {
	t.Helper()
	msgs := f.Messages()
	if len(msgs) == 0 {
		t.Fatal("expected at least one sent message")
	}
	return msgs[len(msgs)-1]
}

// FakeCalendar is an in-memory calendar.Provider.
type FakeCalendar struct {
	mu        sync.Mutex
	Busy      []models.Interval
	Created   []calendar.EventInput
	Attendees map[string][]string // event id -> emails

	BusyErr   error
	CreateErr error
	PatchErr  error
	nextID    int
}

var _ calendar.Provider = (*FakeCalendar)(nil)

func (f *FakeCalendar) ListBusy(ctx context.Context, orgID string, start, end time.Time) ([]models.Interval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BusyErr != nil {
		return nil, f.BusyErr
	}
	return append([]models.Interval(nil), f.Busy...), nil
}

func (f *FakeCalendar) CreateEvent(ctx context.Context, orgID string, in calendar.EventInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.nextID++
	f.Created = append(f.Created, in)
	return fmt.Sprintf("ev-%d", f.nextID), nil
}

func (f *FakeCalendar) PatchAttendees(ctx context.Context, orgID, eventID string, emails []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PatchErr != nil {
		return f.PatchErr
	}
	if f.Attendees == nil {
		f.Attendees = map[string][]string{}
	}
	f.Attendees[eventID] = append(f.Attendees[eventID], emails...)
	return nil
}

// CreatedEvents returns a copy of the created events.
func (f *FakeCalendar) CreatedEvents() []calendar.EventInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]calendar.EventInput(nil), f.Created...)
}

// AttendeesOf returns the emails patched onto an event.
func (f *FakeCalendar) AttendeesOf(eventID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Attendees[eventID]...)
}

// FakeReplier returns a canned reply or error.
type FakeReplier struct {
	Reply string
	Err   error
}

func (f *FakeReplier) GenerateReply(ctx context.Context, text string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Reply, nil
}

// CountEvents returns how many audit events of type typ a lead has.
func CountEvents(t *testing.T, st store.AuditRepo, orgID, leadID string, typ models.AuditEventType) int {
	t.Helper()
	events, err := st.ListEvents(context.Background(), orgID, leadID, 1000)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
