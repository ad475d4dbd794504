package scheduler

import (
	"fmt"
	"time"

	"github.com/herion/citabot/internal/models"
	"github.com/herion/citabot/internal/slots"
)

func hello(name string) string {
	if name == "" {
		return "Hola"
	}
	return "Hola, " + name
}

// FollowupText is the nudge sent to leads that have not booked yet.
func FollowupText(name string) string {
	return hello(name) + ". ¿Quieres que te ayude a agendar una cita o prefieres que te pase información por aquí?"
}

// ReminderText renders the reminder for kind with the appointment's local start time.
func ReminderText(kind models.ReminderKind, name string, start time.Time, loc *time.Location) (string, error) {
	when := slots.FormatLocal(start, loc)
	switch kind {
	case models.Reminder24h:
		return fmt.Sprintf("%s. Te recuerdo que mañana tienes una cita con Herion.\nFecha y hora: %s\n\nSi necesitas cambiarla, dímelo por aquí.", hello(name), when), nil
	case models.Reminder2h:
		return fmt.Sprintf("%s. Recordatorio: tienes una cita con Herion en unas 2 horas.\nFecha y hora: %s\n\nSi necesitas cambiarla, dímelo por aquí.", hello(name), when), nil
	default:
		return "", fmt.Errorf("%w: %q", models.ErrUnknownReminder, kind)
	}
}
