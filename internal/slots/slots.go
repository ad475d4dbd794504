// Package slots computes free one-hour appointment slots against busy intervals.
//
// Generation is pure: identical inputs always produce the same slots.
package slots

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/herion/citabot/internal/models"
)

// Working window and granularity for proposed appointments.
const (
	// DayStartHour is the first local hour an appointment may start.
	DayStartHour = 10
	// DayEndHour is the local hour every appointment must end by.
	DayEndHour = 19
	// Step is the cursor increment and the start boundary granularity.
	Step = 30 * time.Minute
	// Duration is the length of every appointment.
	Duration = time.Hour
	// DefaultLookaheadDays is the number of calendar days scanned for an offer.
	DefaultLookaheadDays = 7
	// DefaultTimeZone is the organization's fixed time zone.
	DefaultTimeZone = "Europe/Madrid"
)

// LoadLocation resolves a time zone name, falling back to DefaultTimeZone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimeZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", name, err)
	}
	return loc, nil
}

// CeilToStep rounds t up to the next Step boundary. Times already on a
// boundary are returned unchanged.
func CeilToStep(t time.Time) time.Time {
	floor := t.Truncate(Step)
	if floor.Equal(t) {
		return t
	}
	return floor.Add(Step)
}

// Generate returns up to targetCount one-hour slots between Monday and Friday,
// inside the local working window, starting at or after now and free of every
// busy interval. It may return fewer slots than requested, including none.
func Generate(now time.Time, loc *time.Location, lookaheadDays, targetCount int, busy []models.Interval) []models.Slot {
	if loc == nil {
		loc = time.UTC
	}
	if targetCount <= 0 {
		return nil
	}
	floor := CeilToStep(now).In(loc)

	var out []models.Slot
	for day := 0; day < lookaheadDays && len(out) < targetCount; day++ {
		date := time.Date(floor.Year(), floor.Month(), floor.Day()+day, 0, 0, 0, 0, loc)
		if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		windowStart := time.Date(date.Year(), date.Month(), date.Day(), DayStartHour, 0, 0, 0, loc)
		windowEnd := time.Date(date.Year(), date.Month(), date.Day(), DayEndHour, 0, 0, 0, loc)

		cursor := windowStart
		if day == 0 && floor.After(cursor) {
			cursor = floor
		}

		for !cursor.Add(Duration).After(windowEnd) && len(out) < targetCount {
			candidate := models.Slot{Start: cursor, End: cursor.Add(Duration)}
			if !overlapsAny(candidate, busy) {
				out = append(out, candidate)
			}
			cursor = cursor.Add(Step)
		}
	}
	return out
}

func overlapsAny(s models.Slot, busy []models.Interval) bool {
	for _, b := range busy {
		if s.Overlaps(b) {
			return true
		}
	}
	return false
}

var shortWeekdays = [...]string{"dom", "lun", "mar", "mié", "jue", "vie", "sáb"}

// Format renders slots as an enumerated Spanish list, one per line:
// "1) lun 06/10 10:00".
func Format(list []models.Slot, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	lines := make([]string, 0, len(list))
	for i, s := range list {
		t := s.Start.In(loc)
		lines = append(lines, fmt.Sprintf("%d) %s %02d/%02d %02d:%02d",
			i+1, shortWeekdays[t.Weekday()], t.Day(), int(t.Month()), t.Hour(), t.Minute()))
	}
	return strings.Join(lines, "\n")
}

// FormatLocal renders an instant as "dd/mm/yyyy, hh:mm:ss" in loc.
func FormatLocal(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02/01/2006, 15:04:05")
}
