package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/herion/citabot/internal/calendar"
	"github.com/herion/citabot/internal/models"
	"github.com/herion/citabot/internal/store"
	"github.com/herion/citabot/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOrg   = "default"
	testPhone = "34600111222"
)

type harness struct {
	orch    *Orchestrator
	store   *store.SQLiteStore
	cal     *testutil.FakeCalendar
	sender  *testutil.FakeSender
	replier *testutil.FakeReplier
	loc     *time.Location
	now     time.Time
	seq     int
}

// newHarness builds an orchestrator whose clock is Monday 2025-10-06 09:00 Madrid.
func newHarness(t *testing.T) *harness {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	h := &harness{
		store:   testutil.NewSQLiteStore(t),
		cal:     &testutil.FakeCalendar{},
		sender:  &testutil.FakeSender{},
		replier: &testutil.FakeReplier{Reply: "Claro, te cuento."},
		loc:     loc,
		now:     time.Date(2025, 10, 6, 9, 0, 0, 0, loc),
	}
	h.orch = NewOrchestrator(h.store, h.cal, h.sender, h.replier,
		WithLocation(loc),
		WithClock(func() time.Time { return h.now }),
	)
	return h
}

func (h *harness) send(t *testing.T, text string) Outcome {
	t.Helper()
	h.seq++
	return h.orch.HandleInbound(context.Background(), testOrg, models.InboundMessage{
		MessageID:   fmt.Sprintf("wamid.%d", h.seq),
		From:        "+" + testPhone,
		DisplayName: "Ana",
		Body:        text,
		Channel:     models.ChannelCloudAPI,
	})
}

func (h *harness) state(t *testing.T, leadID string) *models.ConversationState {
	t.Helper()
	st, err := h.store.GetState(context.Background(), testOrg, leadID)
	require.NoError(t, err)
	return st
}

func TestScenarioA_ProposesThreeSlots(t *testing.T) {
	h := newHarness(t)

	out := h.send(t, "Quiero una cita mañana por la mañana")

	assert.Equal(t, BranchProposal, out.Branch)
	assert.True(t, out.Sent)
	assert.Equal(t, msgProposal("1) lun 06/10 10:00\n2) lun 06/10 10:30\n3) lun 06/10 11:00"), out.Reply)

	msg := h.sender.Last(t)
	assert.Equal(t, testPhone, msg.To)
	assert.Equal(t, out.Reply, msg.Body)

	st := h.state(t, out.LeadID)
	require.NotNil(t, st)
	assert.Equal(t, models.PhaseSlotsProposed, st.Phase)
	require.Len(t, st.ProposedSlots, 3)
	for _, s := range st.ProposedSlots {
		local := s.Start.In(h.loc)
		assert.NotEqual(t, time.Saturday, local.Weekday())
		assert.NotEqual(t, time.Sunday, local.Weekday())
		assert.GreaterOrEqual(t, local.Hour(), 10)
		assert.Equal(t, time.Hour, s.End.Sub(s.Start))
	}
	assert.Equal(t, 1, testutil.CountEvents(t, h.store, testOrg, out.LeadID, models.AuditSlotsProposed))
}

func TestScenarioB_BooksChosenSlot(t *testing.T) {
	h := newHarness(t)
	h.send(t, "Quiero una cita")

	out := h.send(t, "2")

	assert.Equal(t, BranchBooking, out.Branch)
	created := h.cal.CreatedEvents()
	require.Len(t, created, 1)
	wantStart := time.Date(2025, 10, 6, 10, 30, 0, 0, h.loc)
	assert.True(t, created[0].Start.Equal(wantStart))
	assert.True(t, created[0].End.Equal(wantStart.Add(time.Hour)))
	assert.Equal(t, "Cita Herion - Ana", created[0].Summary)

	reminders, err := h.store.ListReminders(context.Background(), testOrg, "ev-1")
	require.NoError(t, err)
	require.Len(t, reminders, 2)
	byKind := map[models.ReminderKind]models.Reminder{}
	for _, r := range reminders {
		byKind[r.Kind] = r
	}
	assert.True(t, byKind[models.Reminder24h].RemindAt.Equal(wantStart.Add(-24*time.Hour)))
	assert.True(t, byKind[models.Reminder2h].RemindAt.Equal(wantStart.Add(-2*time.Hour)))

	st := h.state(t, out.LeadID)
	require.NotNil(t, st)
	assert.True(t, st.AwaitingEmail)
	require.NotNil(t, st.LastEvent)
	assert.Equal(t, "ev-1", st.LastEvent.EventID)

	assert.Contains(t, out.Reply, "Inicio: 06/10/2025, 10:30:00")
	assert.Contains(t, out.Reply, "Si me dices tu correo")
	assert.Equal(t, 1, testutil.CountEvents(t, h.store, testOrg, out.LeadID, models.AuditEventCreated))
}

func TestScenarioC_CapturesEmailAndInvites(t *testing.T) {
	h := newHarness(t)
	h.send(t, "Quiero una cita")
	h.send(t, "1")

	out := h.send(t, "mi correo es Ana@Example.com")

	assert.Equal(t, BranchEmailCapture, out.Branch)
	assert.Equal(t, msgInviteSent("Ana@Example.com"), out.Reply)
	assert.Equal(t, []string{"Ana@Example.com"}, h.cal.AttendeesOf("ev-1"))

	lead, err := h.store.GetLead(context.Background(), testOrg, out.LeadID)
	require.NoError(t, err)
	assert.Equal(t, "Ana@Example.com", lead.Email)

	st := h.state(t, out.LeadID)
	assert.False(t, st.AwaitingEmail)
	assert.Equal(t, models.PhaseClosed, st.Phase)
	assert.Equal(t, 1, testutil.CountEvents(t, h.store, testOrg, out.LeadID, models.AuditInviteSent))
}

func TestScenarioD_DuplicateDeliveryIsSilent(t *testing.T) {
	h := newHarness(t)
	msg := models.InboundMessage{MessageID: "wamid.dup", From: testPhone, Body: "Quiero una cita"}

	first := h.orch.HandleInbound(context.Background(), testOrg, msg)
	require.False(t, first.Duplicate)
	sentBefore := len(h.sender.Messages())
	events, err := h.store.ListEvents(context.Background(), testOrg, first.LeadID, 100)
	require.NoError(t, err)

	second := h.orch.HandleInbound(context.Background(), testOrg, msg)
	assert.True(t, second.Duplicate)
	assert.Equal(t, BranchDuplicate, second.Branch)
	assert.False(t, second.Sent)
	assert.Len(t, h.sender.Messages(), sentBefore)

	after, err := h.store.ListEvents(context.Background(), testOrg, first.LeadID, 100)
	require.NoError(t, err)
	assert.Len(t, after, len(events))
}

func TestScenarioE_InvoiceWithoutPermissionProposesCall(t *testing.T) {
	h := newHarness(t)

	out := h.send(t, "Necesito hacer una factura")

	assert.Equal(t, BranchInvoiceProposal, out.Branch)
	assert.True(t, strings.HasPrefix(out.Reply, "Puedo ayudarte a activar el generador de facturas"))
	assert.NotContains(t, out.Reply, DefaultInvoiceURL)
	assert.Equal(t, models.PhaseSlotsProposed, h.state(t, out.LeadID).Phase)
}

func TestInvoiceWithPermissionSendsLink(t *testing.T) {
	h := newHarness(t)
	first := h.send(t, "hola")
	require.NoError(t, h.store.SetLeadCanInvoice(context.Background(), testOrg, first.LeadID, true))

	out := h.send(t, "quiero facturar")

	assert.Equal(t, BranchInvoiceLink, out.Branch)
	assert.Equal(t, msgInvoiceLink("Ana", DefaultInvoiceURL), out.Reply)
}

func TestChoiceWithoutOfferAsksAgain(t *testing.T) {
	h := newHarness(t)

	out := h.send(t, "2")

	assert.Equal(t, BranchBooking, out.Branch)
	assert.Equal(t, MsgOfferExpired, out.Reply)
	assert.Empty(t, h.cal.CreatedEvents())
}

func TestChoiceOutOfRangeOfShortOffer(t *testing.T) {
	h := newHarness(t)
	// only 10:00-11:00 is free on the whole week
	h.cal.Busy = []models.Interval{
		{Start: time.Date(2025, 10, 6, 11, 0, 0, 0, h.loc), End: time.Date(2025, 10, 20, 0, 0, 0, 0, h.loc)},
	}
	offer := h.send(t, "cita")
	require.Len(t, h.state(t, offer.LeadID).ProposedSlots, 1)

	out := h.send(t, "3")
	assert.Equal(t, MsgOfferExpired, out.Reply)
}

func TestProposalWithoutSlotsDoesNotPersist(t *testing.T) {
	h := newHarness(t)
	h.cal.Busy = []models.Interval{{Start: h.now.AddDate(0, 0, -1), End: h.now.AddDate(0, 0, 30)}}

	out := h.send(t, "¿Tienes hueco esta semana?")

	assert.Equal(t, BranchProposal, out.Branch)
	assert.Equal(t, MsgNoSlots, out.Reply)
	assert.Nil(t, h.state(t, out.LeadID))
}

func TestBookingWithSavedEmailInvitesInline(t *testing.T) {
	h := newHarness(t)
	first := h.send(t, "hola")
	require.NoError(t, h.store.UpdateLeadEmail(context.Background(), testOrg, first.LeadID, "ana@example.com"))
	h.send(t, "cita")

	out := h.send(t, "1")

	assert.Contains(t, out.Reply, "Te acabo de enviar la invitación a ana@example.com.")
	assert.Equal(t, []string{"ana@example.com"}, h.cal.AttendeesOf("ev-1"))
	st := h.state(t, out.LeadID)
	assert.False(t, st.AwaitingEmail)
	assert.Equal(t, models.PhaseClosed, st.Phase)
}

func TestBookingInlineInviteFailureAsksForEmail(t *testing.T) {
	h := newHarness(t)
	first := h.send(t, "hola")
	require.NoError(t, h.store.UpdateLeadEmail(context.Background(), testOrg, first.LeadID, "ana@example.com"))
	h.send(t, "cita")
	h.cal.PatchErr = errors.New("calendar 503")

	out := h.send(t, "1")

	assert.Contains(t, out.Reply, "Si me dices tu correo")
	assert.True(t, h.state(t, out.LeadID).AwaitingEmail)
	assert.Len(t, h.cal.CreatedEvents(), 1)
}

func TestEmailCaptureInviteFailureKeepsWaiting(t *testing.T) {
	h := newHarness(t)
	h.send(t, "cita")
	h.send(t, "1")
	h.cal.PatchErr = errors.New("calendar 503")

	out := h.send(t, "ana@example.com")

	assert.Equal(t, MsgInviteFailed, out.Reply)
	st := h.state(t, out.LeadID)
	assert.True(t, st.AwaitingEmail)
	assert.Equal(t, 0, testutil.CountEvents(t, h.store, testOrg, out.LeadID, models.AuditInviteSent))
}

func TestBookingDeactivatesFollowup(t *testing.T) {
	h := newHarness(t)
	first := h.send(t, "hola")
	require.NoError(t, h.store.UpsertFollowup(context.Background(), models.Followup{
		OrganizationID: testOrg, LeadID: first.LeadID, NextRunAt: h.now.Add(time.Hour), IsActive: true,
	}))
	h.send(t, "cita")
	h.send(t, "1")

	f, err := h.store.GetFollowup(context.Background(), testOrg, first.LeadID)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.False(t, f.IsActive)
	assert.Equal(t, 1, testutil.CountEvents(t, h.store, testOrg, first.LeadID, models.AuditFollowupDeactivate))
}

func TestCalendarFailuresDegrade(t *testing.T) {
	h := newHarness(t)

	h.cal.BusyErr = fmt.Errorf("load token: %w", calendar.ErrMissingCredentials)
	out := h.send(t, "quiero una cita")
	assert.Equal(t, MsgSchedulingOff, out.Reply)
	assert.True(t, out.Sent)

	h.cal.BusyErr = errors.New("googleapi: 500")
	out = h.send(t, "quiero una cita")
	assert.Equal(t, MsgCalendarDown, out.Reply)

	h.cal.BusyErr = nil
	h.send(t, "quiero una cita")
	h.cal.CreateErr = errors.New("googleapi: 500")
	out = h.send(t, "1")
	assert.Equal(t, MsgCalendarDown, out.Reply)
	assert.False(t, h.state(t, out.LeadID).AwaitingEmail)
}

func TestFreeFormReply(t *testing.T) {
	h := newHarness(t)

	out := h.send(t, "¿Qué servicios ofrecéis?")
	assert.Equal(t, BranchReply, out.Branch)
	assert.Equal(t, "Claro, te cuento.", out.Reply)
	assert.Equal(t, 1, testutil.CountEvents(t, h.store, testOrg, out.LeadID, models.AuditOutboundMessage))
	assert.Equal(t, 1, testutil.CountEvents(t, h.store, testOrg, out.LeadID, models.AuditInboundMessage))

	h.replier.Err = errors.New("rate limited")
	out = h.send(t, "¿Qué servicios ofrecéis?")
	assert.Equal(t, MsgReplyUnavailable, out.Reply)

	h.replier.Err = nil
	h.replier.Reply = "  "
	out = h.send(t, "¿Qué servicios ofrecéis?")
	assert.Equal(t, MsgEmptyReply, out.Reply)
}

func TestSendFailureStillReturnsOutcome(t *testing.T) {
	h := newHarness(t)
	h.sender.Err = errors.New("graph api down")

	out := h.send(t, "hola")
	assert.Equal(t, BranchReply, out.Branch)
	assert.False(t, out.Sent)
}

func TestInvalidSenderIsRejected(t *testing.T) {
	h := newHarness(t)
	out := h.orch.HandleInbound(context.Background(), testOrg, models.InboundMessage{MessageID: "x", From: "abc", Body: "hola"})
	assert.Equal(t, BranchRejected, out.Branch)
	assert.Empty(t, h.sender.Messages())
}

func TestMissingEventWhileAwaitingEmail(t *testing.T) {
	h := newHarness(t)
	first := h.send(t, "hola")

	// a record awaiting email with an empty event id
	st := models.NewConversationState(testOrg, first.LeadID)
	st.Phase = models.PhaseAwaitingEmail
	st.AwaitingEmail = true
	st.LastEvent = &models.EventRef{}
	require.NoError(t, h.store.SaveState(context.Background(), st))

	out := h.send(t, "ana@example.com")
	assert.Equal(t, BranchEmailCapture, out.Branch)
	assert.Equal(t, MsgMissingEvent, out.Reply)
}

// stateReadFailStore fails GetState while failGet is set.
type stateReadFailStore struct {
	*store.SQLiteStore
	failGet atomic.Bool
}

func (s *stateReadFailStore) GetState(ctx context.Context, orgID, leadID string) (*models.ConversationState, error) {
	if s.failGet.Load() {
		return nil, errors.New("database is locked")
	}
	return s.SQLiteStore.GetState(ctx, orgID, leadID)
}

func TestStateReadFailureKeepsPendingInvitation(t *testing.T) {
	h := newHarness(t)
	st := &stateReadFailStore{SQLiteStore: h.store}
	h.orch = NewOrchestrator(st, h.cal, h.sender, h.replier,
		WithLocation(h.loc),
		WithClock(func() time.Time { return h.now }),
	)
	h.send(t, "Quiero una cita")
	booked := h.send(t, "1")
	require.Equal(t, BranchBooking, booked.Branch)

	st.failGet.Store(true)
	out := h.send(t, "otra cita")
	st.failGet.Store(false)

	assert.Equal(t, BranchReply, out.Branch)
	assert.Equal(t, MsgReplyUnavailable, out.Reply)
	assert.True(t, out.Sent)
	assert.Equal(t, out.Reply, h.sender.Last(t).Body)
	assert.Len(t, h.cal.CreatedEvents(), 1)

	saved := h.state(t, booked.LeadID)
	require.NotNil(t, saved)
	assert.True(t, saved.AwaitingEmail)
	assert.Equal(t, models.PhaseAwaitingEmail, saved.Phase)
	require.NotNil(t, saved.LastEvent)
	assert.Equal(t, "ev-1", saved.LastEvent.EventID)

	out = h.send(t, "ana@example.com")
	assert.Equal(t, BranchEmailCapture, out.Branch)
	assert.Equal(t, []string{"ana@example.com"}, h.cal.AttendeesOf("ev-1"))
}

func TestConcurrentDuplicateDeliveriesReplyOnce(t *testing.T) {
	h := newHarness(t)
	msg := models.InboundMessage{MessageID: "wamid.race", From: testPhone, Body: "hola"}

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 6)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = h.orch.HandleInbound(context.Background(), testOrg, msg)
		}(i)
	}
	wg.Wait()

	handled := 0
	for _, o := range outcomes {
		if !o.Duplicate {
			handled++
		}
	}
	assert.Equal(t, 1, handled)
	assert.Len(t, h.sender.Messages(), 1)
}
