package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/herion/citabot/internal/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

const leadColumns = `id, organization_id, phone, name, email, can_invoice, created_at, updated_at`

func scanLead(row rowScanner) (*models.Lead, error) {
	var l models.Lead
	var name, email sql.NullString
	if err := row.Scan(&l.ID, &l.OrganizationID, &l.Phone, &name, &email, &l.CanInvoice, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Name = name.String
	l.Email = email.String
	return &l, nil
}

// stateRecord carries the JSON-encoded columns of scheduling_state.
type stateRecord struct {
	proposed  []byte
	lastEvent []byte
}

func encodeState(st *models.ConversationState) (stateRecord, error) {
	var rec stateRecord
	if len(st.ProposedSlots) > 0 {
		b, err := json.Marshal(st.ProposedSlots)
		if err != nil {
			return rec, fmt.Errorf("failed to encode proposed slots: %w", err)
		}
		rec.proposed = b
	}
	if st.LastEvent != nil {
		b, err := json.Marshal(st.LastEvent)
		if err != nil {
			return rec, fmt.Errorf("failed to encode last event: %w", err)
		}
		rec.lastEvent = b
	}
	return rec, nil
}

func scanState(row rowScanner) (*models.ConversationState, error) {
	var st models.ConversationState
	var phase string
	var proposed, lastEvent []byte
	if err := row.Scan(&st.OrganizationID, &st.LeadID, &phase, &st.AwaitingEmail, &proposed, &lastEvent, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Phase = models.Phase(phase)
	if len(proposed) > 0 {
		if err := json.Unmarshal(proposed, &st.ProposedSlots); err != nil {
			return nil, fmt.Errorf("failed to decode proposed slots: %w", err)
		}
	}
	if len(lastEvent) > 0 {
		var ev models.EventRef
		if err := json.Unmarshal(lastEvent, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode last event: %w", err)
		}
		st.LastEvent = &ev
	}
	return &st, nil
}

func marshalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %w", err)
	}
	return b, nil
}

// nullJSON passes encoded JSON to a JSON or TEXT column, or NULL when empty.
func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
