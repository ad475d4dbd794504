package dialogue

import (
	"errors"
	"log/slog"

	"github.com/herion/citabot/internal/calendar"
	"github.com/herion/citabot/internal/metrics"
)

// Category classifies a collaborator call for failure handling.
type Category string

const (
	CategoryTextGeneration      Category = "text_generation"
	CategoryCalendar            Category = "calendar"
	CategoryCalendarCredentials Category = "calendar_credentials"
	CategoryMessaging           Category = "messaging"
	CategoryStore               Category = "store"
)

// fallbacks maps each category to the reply sent when the call fails.
// Messaging failures have no reply: there is no channel left to send it on.
var fallbacks = map[Category]string{
	CategoryTextGeneration:      MsgReplyUnavailable,
	CategoryCalendar:            MsgCalendarDown,
	CategoryCalendarCredentials: MsgSchedulingOff,
	CategoryMessaging:           "",
	CategoryStore:               MsgReplyUnavailable,
}

// Result is the outcome of a collaborator call.
type Result[T any] struct {
	Value    T
	Err      error
	Category Category
}

// Call runs fn and wraps its outcome. Calendar errors caused by missing
// credentials are reported under CategoryCalendarCredentials.
func Call[T any](cat Category, op string, fn func() (T, error)) Result[T] {
	v, err := fn()
	if err == nil {
		return Result[T]{Value: v, Category: cat}
	}
	if cat == CategoryCalendar && errors.Is(err, calendar.ErrMissingCredentials) {
		cat = CategoryCalendarCredentials
	}
	metrics.RecordCollaboratorFailure(string(cat))
	slog.Error("dialogue: collaborator call failed", "category", cat, "op", op, "error", err)
	return Result[T]{Value: v, Err: err, Category: cat}
}

// Do is Call for operations without a value.
func Do(cat Category, op string, fn func() error) Result[struct{}] {
	return Call(cat, op, func() (struct{}, error) { return struct{}{}, fn() })
}

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// Fallback returns the user-facing reply for a failed call.
func (r Result[T]) Fallback() string { return fallbacks[r.Category] }
