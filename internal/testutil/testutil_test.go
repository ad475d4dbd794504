package testutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/herion/citabot/internal/calendar"
	"github.com/herion/citabot/internal/models"
)

func TestFakeSender(t *testing.T) {
	s := &FakeSender{}
	if err := s.SendMessage(context.Background(), "34600111222", "hola"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.Last(t); got.To != "34600111222" || got.Body != "hola" {
		t.Errorf("unexpected last message: %+v", got)
	}

	s.Err = errors.New("down")
	if err := s.SendMessage(context.Background(), "34600111222", "otra"); err == nil {
		t.Error("expected configured error")
	}
	if n := len(s.Messages()); n != 1 {
		t.Errorf("expected failed send not to be recorded, got %d messages", n)
	}
}

func TestFakeCalendar(t *testing.T) {
	c := &FakeCalendar{Busy: []models.Interval{{Start: time.Unix(0, 0), End: time.Unix(3600, 0)}}}
	ctx := context.Background()

	busy, err := c.ListBusy(ctx, "org", time.Now(), time.Now())
	if err != nil || len(busy) != 1 {
		t.Fatalf("ListBusy = %v, %v", busy, err)
	}

	id1, _ := c.CreateEvent(ctx, "org", calendar.EventInput{Summary: "a"})
	id2, _ := c.CreateEvent(ctx, "org", calendar.EventInput{Summary: "b"})
	if id1 == id2 {
		t.Errorf("expected distinct event ids, got %q twice", id1)
	}
	if len(c.CreatedEvents()) != 2 {
		t.Errorf("expected 2 created events")
	}

	if err := c.PatchAttendees(ctx, "org", id1, []string{"ana@example.com"}); err != nil {
		t.Fatalf("PatchAttendees: %v", err)
	}
	if got := c.AttendeesOf(id1); len(got) != 1 || got[0] != "ana@example.com" {
		t.Errorf("unexpected attendees: %v", got)
	}

	c.CreateErr = errors.New("quota")
	if _, err := c.CreateEvent(ctx, "org", calendar.EventInput{}); err == nil {
		t.Error("expected configured error")
	}
}

func TestFakeReplier(t *testing.T) {
	r := &FakeReplier{Reply: "hola"}
	if got, err := r.GenerateReply(context.Background(), "x"); err != nil || got != "hola" {
		t.Errorf("GenerateReply = %q, %v", got, err)
	}
}

func TestNewSQLiteStoreAndCountEvents(t *testing.T) {
	st := NewSQLiteStore(t)
	ctx := context.Background()
	lead, err := st.UpsertLead(ctx, "org", "34600111222", "Ana")
	if err != nil {
		t.Fatalf("UpsertLead: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := st.AppendEvent(ctx, models.AuditEvent{OrganizationID: "org", LeadID: lead.ID, Type: models.AuditOutboundMessage}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	if n := CountEvents(t, st, "org", lead.ID, models.AuditOutboundMessage); n != 2 {
		t.Errorf("expected 2 events, got %d", n)
	}
	if n := CountEvents(t, st, "org", lead.ID, models.AuditInviteSent); n != 0 {
		t.Errorf("expected 0 events, got %d", n)
	}
}

func TestCreateHTTPRequestAndAssertJSON(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/admin/followups", map[string]string{"phone": "34600111222"})
	if req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("expected JSON content type")
	}

	rr := httptest.NewRecorder()
	rr.Body.WriteString(`{"status":"ok","result":{"n":1}}`)
	resp := AssertJSONResponse(t, rr, "ok")
	if _, ok := resp["result"]; !ok {
		t.Error("expected result field")
	}
	AssertHTTPStatus(t, http.StatusOK, rr.Code, "recorder default")
}
