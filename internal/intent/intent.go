// Package intent implements the keyword-based intent classifier used by the
// dialogue orchestrator. Matching is case and diacritic insensitive.
package intent

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// A bare 1-2 digit number also counts as scheduling vocabulary so that a
	// slot choice such as "2" reaches the booking branch. Any short number
	// matches, so "tengo 3 empleados" is read as an appointment request.
	appointmentRe = regexp.MustCompile(`(cita|reserv|agenda|turno|hueco|disponibil|manana|lunes|martes|miercoles|jueves|viernes|sabado|domingo|\b\d{1,2}:\d{2}\b|\b\d{1,2}\b)`)
	invoiceRe     = regexp.MustCompile(`(factur|\biva\b|\bpdf\b|\bcobr(o|os|ar)\b|\bpag(o|os|ar)\b)`)
	choiceRe      = regexp.MustCompile(`^([1-3])\b`)
	emailRe       = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)

	lower = cases.Lower(language.Spanish)
)

// Fold lowercases text and strips combining marks ("Mañana" -> "manana").
func Fold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}
	return lower.String(folded)
}

// WantsAppointment reports whether text uses scheduling vocabulary.
func WantsAppointment(text string) bool {
	return appointmentRe.MatchString(Fold(text))
}

// WantsInvoice reports whether text uses billing vocabulary.
func WantsInvoice(text string) bool {
	return invoiceRe.MatchString(Fold(text))
}

// ParseChoice returns the slot index when the trimmed text begins with 1, 2 or 3
// followed by a word boundary.
func ParseChoice(text string) (int, bool) {
	m := choiceRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ExtractEmail returns the first email-shaped substring of text exactly as
// written; case is not normalized.
func ExtractEmail(text string) (string, bool) {
	m := emailRe.FindString(text)
	if m == "" {
		return "", false
	}
	return m, true
}

// Result bundles every classifier decision for one message.
type Result struct {
	Appointment bool   `json:"appointment"`
	Invoice     bool   `json:"invoice"`
	Choice      int    `json:"choice,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Classify runs all classifiers on text. Precedence is left to the caller.
func Classify(text string) Result {
	r := Result{
		Appointment: WantsAppointment(text),
		Invoice:     WantsInvoice(text),
	}
	if n, ok := ParseChoice(text); ok {
		r.Choice = n
	}
	if email, ok := ExtractEmail(text); ok {
		r.Email = email
	}
	return r
}
