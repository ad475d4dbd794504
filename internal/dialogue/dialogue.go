// Package dialogue implements the conversation core: it turns one inbound
// WhatsApp message into at most one reply, moving the lead's scheduling
// state along the way.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/herion/citabot/internal/calendar"
	"github.com/herion/citabot/internal/dedupe"
	"github.com/herion/citabot/internal/intent"
	"github.com/herion/citabot/internal/messaging"
	"github.com/herion/citabot/internal/metrics"
	"github.com/herion/citabot/internal/models"
	"github.com/herion/citabot/internal/slots"
	"github.com/herion/citabot/internal/store"
)

// Defaults for slot offers.
const (
	DefaultLookaheadDays = slots.DefaultLookaheadDays
	DefaultSlotCount     = models.MaxProposedSlots
)

// Replier produces a free-form answer for messages without a scheduling intent.
type Replier interface {
	GenerateReply(ctx context.Context, text string) (string, error)
}

// Store is the persistence used by the orchestrator.
type Store interface {
	store.DedupRepo
	store.LeadRepo
	store.StateRepo
	store.ReminderRepo
	store.FollowupRepo
	store.AuditRepo
}

// Branch names the path a message took through the orchestrator.
type Branch string

const (
	BranchRejected        Branch = "rejected"
	BranchDuplicate       Branch = "duplicate"
	BranchEmailCapture    Branch = "email_capture"
	BranchInvoiceLink     Branch = "invoice_link"
	BranchInvoiceProposal Branch = "invoice_proposal"
	BranchBooking         Branch = "booking"
	BranchProposal        Branch = "proposal"
	BranchReply           Branch = "reply"
)

// Outcome describes what HandleInbound did with a message.
type Outcome struct {
	Branch    Branch
	LeadID    string
	Reply     string
	Duplicate bool
	Sent      bool
}

// Opts holds configuration options for the orchestrator.
type Opts struct {
	Location      *time.Location
	Clock         func() time.Time
	InvoiceURL    string
	LookaheadDays int
	Locker        Locker
}

// Option defines a configuration option for the orchestrator.
type Option func(*Opts)

// WithLocation sets the organization's time zone.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// WithInvoiceURL sets the invoicing product link.
func WithInvoiceURL(url string) Option {
	return func(o *Opts) { o.InvoiceURL = url }
}

// WithLookaheadDays sets how many days ahead slots are searched.
func WithLookaheadDays(days int) Option {
	return func(o *Opts) { o.LookaheadDays = days }
}

// WithLocker sets the per-lead Locker.
func WithLocker(l Locker) Option {
	return func(o *Opts) { o.Locker = l }
}

// Orchestrator routes inbound messages through dedupe, intent classification,
// slot offers, bookings and invitations.
type Orchestrator struct {
	store    Store
	guard    *dedupe.Guard
	calendar calendar.Provider
	sender   messaging.Sender
	replier  Replier
	locker   Locker

	loc           *time.Location
	now           func() time.Time
	invoiceURL    string
	lookaheadDays int
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(st Store, cal calendar.Provider, sender messaging.Sender, replier Replier, opts ...Option) *Orchestrator {
	cfg := Opts{
		Clock:         time.Now,
		InvoiceURL:    DefaultInvoiceURL,
		LookaheadDays: DefaultLookaheadDays,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		loc, err := slots.LoadLocation(slots.DefaultTimeZone)
		if err != nil {
			slog.Warn("NewOrchestrator: falling back to UTC", "error", err)
			loc = time.UTC
		}
		cfg.Location = loc
	}
	if cfg.Locker == nil {
		cfg.Locker = NewKeyedLocker()
	}
	return &Orchestrator{
		store:         st,
		guard:         dedupe.NewGuard(st),
		calendar:      cal,
		sender:        sender,
		replier:       replier,
		locker:        cfg.Locker,
		loc:           cfg.Location,
		now:           cfg.Clock,
		invoiceURL:    cfg.InvoiceURL,
		lookaheadDays: cfg.LookaheadDays,
	}
}

// turn carries the per-message context through the branches.
type turn struct {
	orgID string
	phone string
	lead  *models.Lead
	state *models.ConversationState
	text  string
}

// HandleInbound processes one inbound message. It never fails: collaborator
// errors are logged and turned into a degraded reply.
func (o *Orchestrator) HandleInbound(ctx context.Context, orgID string, msg models.InboundMessage) Outcome {
	phone, err := messaging.CanonicalizePhone(msg.From)
	if err != nil {
		slog.Warn("Orchestrator.HandleInbound: rejecting message", "error", err, "from", msg.From)
		metrics.RecordInbound(string(BranchRejected))
		return Outcome{Branch: BranchRejected}
	}

	accepted, _ := o.guard.Claim(ctx, orgID, msg.MessageID)
	if !accepted {
		metrics.RecordInbound(string(BranchDuplicate))
		return Outcome{Branch: BranchDuplicate, Duplicate: true}
	}

	lead := Call(CategoryStore, "upsert lead", func() (*models.Lead, error) {
		return o.store.UpsertLead(ctx, orgID, phone, strings.TrimSpace(msg.DisplayName))
	})
	if !lead.OK() {
		out := Outcome{Branch: BranchReply, Reply: lead.Fallback()}
		out.Sent = o.deliver(ctx, phone, out.Reply)
		metrics.RecordInbound(string(out.Branch))
		return out
	}

	key := orgID + ":" + lead.Value.ID
	if unlock, err := o.locker.Lock(ctx, key); err != nil {
		slog.Warn("Orchestrator.HandleInbound: per-lead lock unavailable, continuing unserialized", "key", key, "error", err)
	} else {
		defer unlock()
	}

	t := &turn{orgID: orgID, phone: phone, lead: lead.Value, text: msg.Body}
	o.audit(ctx, t, models.AuditInboundMessage, map[string]any{"text": msg.Body, "messageId": msg.MessageID, "channel": string(msg.Channel)})

	st := Call(CategoryStore, "get state", func() (*models.ConversationState, error) {
		return o.store.GetState(ctx, orgID, t.lead.ID)
	})
	var out Outcome
	if !st.OK() {
		// A fresh state saved over the unread row would drop a pending invitation.
		out = Outcome{Branch: BranchReply, Reply: st.Fallback()}
	} else {
		t.state = st.Value
		if t.state == nil {
			t.state = models.NewConversationState(orgID, t.lead.ID)
		}
		slog.Debug("Orchestrator.HandleInbound: classified", "leadID", t.lead.ID, "intent", intent.Classify(msg.Body), "phase", t.state.Phase)
		out = o.route(ctx, t)
	}
	out.LeadID = t.lead.ID
	if out.Reply != "" {
		out.Sent = o.deliver(ctx, phone, out.Reply)
		o.audit(ctx, t, models.AuditOutboundMessage, map[string]any{"text": out.Reply, "branch": string(out.Branch), "sent": out.Sent})
	}
	metrics.RecordInbound(string(out.Branch))
	slog.Info("Orchestrator.HandleInbound: handled", "leadID", t.lead.ID, "branch", out.Branch, "sent", out.Sent)
	return out
}

// route applies the branch priority: pending email, invoice, appointment, reply.
func (o *Orchestrator) route(ctx context.Context, t *turn) Outcome {
	if t.state.AwaitingEmail {
		if email, ok := intent.ExtractEmail(t.text); ok {
			return Outcome{Branch: BranchEmailCapture, Reply: o.captureEmail(ctx, t, email)}
		}
	}

	if intent.WantsInvoice(t.text) {
		if t.lead.CanInvoice {
			return Outcome{Branch: BranchInvoiceLink, Reply: msgInvoiceLink(t.lead.Name, o.invoiceURL)}
		}
		return Outcome{Branch: BranchInvoiceProposal, Reply: o.propose(ctx, t, true)}
	}

	if intent.WantsAppointment(t.text) {
		if n, ok := intent.ParseChoice(t.text); ok {
			return Outcome{Branch: BranchBooking, Reply: o.book(ctx, t, n)}
		}
		return Outcome{Branch: BranchProposal, Reply: o.propose(ctx, t, false)}
	}

	return Outcome{Branch: BranchReply, Reply: o.reply(ctx, t)}
}

// captureEmail attaches email to the pending event and closes the invitation.
func (o *Orchestrator) captureEmail(ctx context.Context, t *turn, email string) string {
	if t.state.LastEvent == nil || t.state.LastEvent.EventID == "" {
		slog.Warn("Orchestrator.captureEmail: awaiting email without an event", "leadID", t.lead.ID)
		return MsgMissingEvent
	}

	Do(CategoryStore, "update lead email", func() error {
		return o.store.UpdateLeadEmail(ctx, t.orgID, t.lead.ID, email)
	})
	t.lead.Email = email

	if res := o.invite(ctx, t, email); !res.OK() {
		if res.Category == CategoryCalendar {
			return MsgInviteFailed
		}
		return res.Fallback()
	}
	return msgInviteSent(email)
}

// invite patches the attendee onto the last event and, on success, moves the
// state to closed and records the audit event.
func (o *Orchestrator) invite(ctx context.Context, t *turn, email string) Result[struct{}] {
	eventID := t.state.LastEvent.EventID
	res := Do(CategoryCalendar, "patch attendees", func() error {
		return o.calendar.PatchAttendees(ctx, t.orgID, eventID, []string{email})
	})
	if !res.OK() {
		return res
	}

	if err := t.state.InviteSent(); err != nil {
		slog.Error("Orchestrator.invite: state transition failed", "error", err, "leadID", t.lead.ID)
	} else {
		o.saveState(ctx, t)
	}
	o.audit(ctx, t, models.AuditInviteSent, map[string]any{"email": email, "eventId": eventID})
	return res
}

// book creates the event for the chosen slot, schedules its reminders and
// asks for (or uses) the lead's email.
func (o *Orchestrator) book(ctx context.Context, t *turn, choice int) string {
	slot, ok := t.state.Choice(choice)
	if !ok {
		slog.Info("Orchestrator.book: choice outside the current offer", "leadID", t.lead.ID, "choice", choice, "offered", len(t.state.ProposedSlots))
		return MsgOfferExpired
	}

	who := t.lead.Name
	if who == "" {
		who = "+" + t.phone
	}
	created := Call(CategoryCalendar, "create event", func() (string, error) {
		return o.calendar.CreateEvent(ctx, t.orgID, calendar.EventInput{
			Summary:     "Cita Herion - " + who,
			Description: fmt.Sprintf("Lead %s | WhatsApp +%s", t.lead.ID, t.phone),
			Start:       slot.Start,
			End:         slot.End,
		})
	})
	if !created.OK() {
		return created.Fallback()
	}

	ev := models.EventRef{EventID: created.Value, Start: slot.Start, End: slot.End}
	o.audit(ctx, t, models.AuditEventCreated, map[string]any{
		"eventId": ev.EventID,
		"start":   ev.Start.UTC().Format(time.RFC3339),
		"end":     ev.End.UTC().Format(time.RFC3339),
	})

	Call(CategoryStore, "insert reminders", func() (int, error) {
		return o.store.InsertReminders(ctx, models.ReminderPair(t.orgID, t.lead.ID, ev))
	})

	if err := t.state.Book(ev); err != nil {
		slog.Error("Orchestrator.book: state transition failed", "error", err, "leadID", t.lead.ID)
	} else {
		o.saveState(ctx, t)
	}

	stopped := Call(CategoryStore, "deactivate follow-up", func() (bool, error) {
		return o.store.DeactivateFollowup(ctx, t.orgID, t.lead.ID)
	})
	if stopped.Value {
		o.audit(ctx, t, models.AuditFollowupDeactivate, map[string]any{"reason": "booked", "eventId": ev.EventID})
	}

	if t.lead.Email != "" && t.state.AwaitingEmail {
		if res := o.invite(ctx, t, t.lead.Email); res.OK() {
			return msgBooked(slot.Start, o.loc, t.lead.Email)
		}
		slog.Warn("Orchestrator.book: inline invitation failed, asking for email", "leadID", t.lead.ID)
	}
	return msgBooked(slot.Start, o.loc, "")
}

// propose offers fresh slots. invoice selects the invoicing-product framing.
func (o *Orchestrator) propose(ctx context.Context, t *turn, invoice bool) string {
	now := o.now()
	busy := Call(CategoryCalendar, "list busy", func() ([]models.Interval, error) {
		return o.calendar.ListBusy(ctx, t.orgID, now, now.AddDate(0, 0, o.lookaheadDays))
	})
	if !busy.OK() {
		return busy.Fallback()
	}

	offer := slots.Generate(now, o.loc, o.lookaheadDays, DefaultSlotCount, busy.Value)
	if len(offer) == 0 {
		if invoice {
			return MsgInvoiceNoSlots
		}
		return MsgNoSlots
	}

	if err := t.state.Propose(offer); err != nil {
		slog.Error("Orchestrator.propose: state transition failed", "error", err, "leadID", t.lead.ID)
	} else {
		o.saveState(ctx, t)
	}

	starts := make([]string, len(offer))
	for i, s := range offer {
		starts[i] = s.Start.UTC().Format(time.RFC3339)
	}
	o.audit(ctx, t, models.AuditSlotsProposed, map[string]any{"slots": starts, "invoice": invoice})

	list := slots.Format(offer, o.loc)
	if invoice {
		return msgInvoiceProposal(list)
	}
	return msgProposal(list)
}

// reply asks the text generator for a free-form answer.
func (o *Orchestrator) reply(ctx context.Context, t *turn) string {
	res := Call(CategoryTextGeneration, "generate reply", func() (string, error) {
		return o.replier.GenerateReply(ctx, t.text)
	})
	if !res.OK() {
		return res.Fallback()
	}
	if strings.TrimSpace(res.Value) == "" {
		return MsgEmptyReply
	}
	return res.Value
}

func (o *Orchestrator) saveState(ctx context.Context, t *turn) {
	Do(CategoryStore, "save state", func() error {
		return o.store.SaveState(ctx, t.state)
	})
}

func (o *Orchestrator) audit(ctx context.Context, t *turn, typ models.AuditEventType, payload map[string]any) {
	Do(CategoryStore, "append "+string(typ), func() error {
		return o.store.AppendEvent(ctx, models.AuditEvent{
			OrganizationID: t.orgID,
			LeadID:         t.lead.ID,
			Type:           typ,
			Payload:        payload,
		})
	})
}

// deliver sends body to phone. Failures are logged and not retried.
func (o *Orchestrator) deliver(ctx context.Context, phone, body string) bool {
	return Do(CategoryMessaging, "send message", func() error {
		return o.sender.SendMessage(ctx, phone, body)
	}).OK()
}
