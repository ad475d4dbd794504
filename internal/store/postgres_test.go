package store

import (
	"context"
	"errors"
	"regexp"
	"syscall"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/herion/citabot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

func TestPostgresStore_ClaimInbound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	q := regexp.QuoteMeta(`INSERT INTO inbound_dedupe (organization_id, message_id, received_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`)
	mock.ExpectExec(q).WithArgs("org", "wamid.1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("org", "wamid.1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.ClaimInbound(ctx, "org", "wamid.1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimInbound(ctx, "org", "wamid.1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimInboundError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec("INSERT INTO inbound_dedupe").WillReturnError(errors.New("connection reset"))

	ok, err := s.ClaimInbound(context.Background(), "org", "wamid.2")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestPostgresStore_ClaimReminder(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE appointment_reminders\s+SET is_sent = TRUE, sent_at = \$1\s+WHERE organization_id = \$2 AND event_id = \$3 AND kind = \$4 AND is_sent = FALSE`).
		WithArgs(now, "org", "ev1", "2h").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE appointment_reminders`).
		WithArgs(now, "org", "ev1", "2h").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.ClaimReminder(context.Background(), "org", "ev1", models.Reminder2h, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimReminder(context.Background(), "org", "ev1", models.Reminder2h, now)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimFollowupAdvancesInSameStatement(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE lead_followups\s+SET step = step \+ 1,\s+next_run_at = GREATEST\(next_run_at, \$1\),\s+updated_at = \$2\s+WHERE organization_id = \$3\s+AND lead_id = \$4\s+AND is_active = TRUE\s+AND next_run_at <= \$2`).
		WithArgs(now.Add(time.Hour), now, "org", "lead-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.ClaimFollowup(context.Background(), "org", "lead-1", now, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertFollowupKeepsActiveRunForward(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	runAt := time.Date(2025, 10, 6, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`ON CONFLICT \(organization_id, lead_id\)\s+DO UPDATE SET\s+next_run_at = CASE WHEN lead_followups.is_active\s+THEN GREATEST\(lead_followups.next_run_at, EXCLUDED.next_run_at\)\s+ELSE EXCLUDED.next_run_at END`).
		WithArgs("org", "lead-1", 0, runAt, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertFollowup(context.Background(), models.Followup{OrganizationID: "org", LeadID: "lead-1", NextRunAt: runAt, IsActive: true})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDueFollowups(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()
	runAt := now.Add(-time.Minute)

	rows := sqlmock.NewRows([]string{"organization_id", "lead_id", "step", "next_run_at", "is_active", "phone", "name"}).
		AddRow("org", "lead-1", 2, runAt, true, "34600000000", "Ana")
	mock.ExpectQuery(`FROM lead_followups lf\s+JOIN leads l ON l.id = lf.lead_id`).
		WithArgs("org", now, 20).
		WillReturnRows(rows)

	due, err := s.ListDueFollowups(context.Background(), "org", now, 20)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "lead-1", due[0].LeadID)
	assert.Equal(t, 2, due[0].Step)
	assert.Equal(t, "Ana", due[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetStateNotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT .* FROM scheduling_state`).
		WithArgs("org", "lead-1").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id", "lead_id", "phase", "awaiting_email", "proposed", "last_event", "updated_at"}))

	st, err := s.GetState(context.Background(), "org", "lead-1")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestPostgresStore_GetStateDecodesJSON(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT .* FROM scheduling_state`).
		WithArgs("org", "lead-1").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id", "lead_id", "phase", "awaiting_email", "proposed", "last_event", "updated_at"}).
			AddRow("org", "lead-1", "awaiting_email", true,
				[]byte(`[{"startISO":"2025-10-06T08:00:00Z","endISO":"2025-10-06T09:00:00Z"}]`),
				[]byte(`{"eventId":"ev1","startISO":"2025-10-06T08:00:00Z","endISO":"2025-10-06T09:00:00Z"}`),
				time.Now()))

	st, err := s.GetState(context.Background(), "org", "lead-1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, models.PhaseAwaitingEmail, st.Phase)
	require.Len(t, st.ProposedSlots, 1)
	require.NotNil(t, st.LastEvent)
	assert.Equal(t, "ev1", st.LastEvent.EventID)
}

func TestPostgresStore_SaveStateValidatesBeforeWrite(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	st := &models.ConversationState{OrganizationID: "org", LeadID: "lead-1", ProposedSlots: make([]models.Slot, 4)}

	err := s.SaveState(context.Background(), st)
	assert.ErrorIs(t, err, models.ErrTooManySlots)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresStore_Integration runs against a real database when DATABASE_URL is set.
func TestPostgresStore_Integration(t *testing.T) {
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pgStore, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pgStore.Close()
	ctx := context.Background()

	phone := "349" + time.Now().Format("150405000")
	lead, err := pgStore.UpsertLead(ctx, "itest", phone, "Test")
	if err != nil {
		t.Fatalf("UpsertLead failed: %v", err)
	}
	msgID := "itest-" + lead.ID
	ok, err := pgStore.ClaimInbound(ctx, "itest", msgID)
	if err != nil || !ok {
		t.Fatalf("ClaimInbound = %t, %v", ok, err)
	}
	ok, err = pgStore.ClaimInbound(ctx, "itest", msgID)
	if err != nil || ok {
		t.Fatalf("duplicate ClaimInbound = %t, %v", ok, err)
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
