package dialogue

import (
	"fmt"
	"time"

	"github.com/herion/citabot/internal/slots"
)

// DefaultInvoiceURL is the invoicing product link sent to permitted leads.
const DefaultInvoiceURL = "https://guibear0.github.io/Facturas_generator/"

// User-facing replies. Wording is part of the product and kept in Spanish.
const (
	MsgMissingEvent     = "Genial. Me falta enlazar la cita. ¿Puedes decirme si quieres reservar una cita y te propongo huecos?"
	MsgInviteFailed     = "He intentado enviar la invitación pero ha fallado. ¿Puedes confirmar el correo o lo reintentamos en un momento?"
	MsgOfferExpired     = "No encuentro esos huecos. Te propongo otros ahora mismo: escribe “cita”."
	MsgNoSlots          = "Ahora mismo no veo huecos disponibles esta semana. ¿Te va bien la semana que viene?"
	MsgInvoiceNoSlots   = "Puedo ayudarte con el generador de facturas. Esta semana no veo huecos disponibles. ¿Te va bien la semana que viene?"
	MsgEmptyReply       = "Vale, ¿en qué te ayudo?"
	MsgReplyUnavailable = "Ahora mismo no puedo responder, inténtalo en unos minutos."
	MsgCalendarDown     = "Ahora mismo no puedo consultar la agenda. ¿Lo intentamos de nuevo en unos minutos?"
	MsgSchedulingOff    = "La reserva de citas no está disponible temporalmente. Te escribimos en cuanto podamos agendarte."
)

func greeting(name string) string {
	if name == "" {
		return "Hola"
	}
	return "Hola, " + name
}

func msgInviteSent(email string) string {
	return fmt.Sprintf("Perfecto ✅ Te he enviado la invitación a %s.", email)
}

func msgInvoiceLink(name, url string) string {
	return fmt.Sprintf("%s. Aquí tienes el enlace para generar facturas:\n%s", greeting(name), url)
}

func msgProposal(list string) string {
	return "Perfecto. Tengo estos huecos (1 hora):\n" + list + "\n\nResponde con 1, 2 o 3 para reservar."
}

func msgInvoiceProposal(list string) string {
	return "Puedo ayudarte a activar el generador de facturas para tu negocio.\n" +
		"Tengo estos huecos para una llamada (1 hora):\n" + list +
		"\n\nResponde con 1, 2 o 3 para reservar."
}

func msgBooked(start time.Time, loc *time.Location, email string) string {
	head := "Perfecto. Cita reservada ✅\nInicio: " + slots.FormatLocal(start, loc) + "\nDuración: 1 hora\n\n"
	if email != "" {
		return head + fmt.Sprintf("Te acabo de enviar la invitación a %s.", email)
	}
	return head + "Si me dices tu correo, te envío la invitación para añadirla a tu calendario."
}
