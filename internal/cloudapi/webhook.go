package cloudapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/herion/citabot/internal/models"
)

// BusinessAccountObject is the webhook object type for WhatsApp deliveries.
const BusinessAccountObject = "whatsapp_business_account"

// WebhookEvent is the top-level Cloud API webhook payload.
type WebhookEvent struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change carries a single field update.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value holds the messages and contacts of a change.
type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Contacts         []Contact `json:"contacts"`
	Messages         []Message `json:"messages"`
}

// Contact is the sender profile reported alongside messages.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Message is an inbound WhatsApp message.
type Message struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

// ParseWebhook decodes a webhook body and extracts the first inbound message.
// The boolean is false for non-WhatsApp objects and status-only payloads.
func ParseWebhook(body []byte) (models.InboundMessage, bool, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return models.InboundMessage{}, false, fmt.Errorf("cloudapi: decode webhook: %w", err)
	}
	msg, ok := evt.FirstMessage()
	return msg, ok, nil
}

// FirstMessage returns entry[0].changes[0].value.messages[0] as an inbound message.
func (e WebhookEvent) FirstMessage() (models.InboundMessage, bool) {
	if e.Object != BusinessAccountObject || len(e.Entry) == 0 || len(e.Entry[0].Changes) == 0 {
		return models.InboundMessage{}, false
	}
	value := e.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		return models.InboundMessage{}, false
	}
	m := value.Messages[0]

	in := models.InboundMessage{
		MessageID: m.ID,
		From:      strings.TrimPrefix(m.From, "+"),
		Channel:   models.ChannelCloudAPI,
	}
	if m.Text != nil {
		in.Body = m.Text.Body
	}
	if len(value.Contacts) > 0 {
		in.DisplayName = value.Contacts[0].Profile.Name
	}
	return in, true
}

// VerifySignature checks the X-Hub-Signature-256 header ("sha256=<hex>").
func VerifySignature(appSecret string, body []byte, signature string) bool {
	const prefix = "sha256="
	if appSecret == "" || !strings.HasPrefix(signature, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature[len(prefix):]))
}

// VerifySubscription answers Meta's GET verification handshake.
func VerifySubscription(mode, token, challenge, verifyToken string) (string, bool) {
	if mode == "subscribe" && verifyToken != "" && token == verifyToken {
		return challenge, true
	}
	return "", false
}
