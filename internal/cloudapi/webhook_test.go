package cloudapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/herion/citabot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "contacts": [{"wa_id": "34600111222", "profile": {"name": "Ana"}}],
        "messages": [{"id": "wamid.1", "from": "34600111222", "timestamp": "1700000000", "type": "text", "text": {"body": "Quiero una cita"}}]
      }
    }]
  }]
}`

func TestParseWebhook(t *testing.T) {
	msg, ok, err := ParseWebhook([]byte(samplePayload))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.InboundMessage{
		MessageID:   "wamid.1",
		From:        "34600111222",
		DisplayName: "Ana",
		Body:        "Quiero una cita",
		Channel:     models.ChannelCloudAPI,
	}, msg)
}

func TestParseWebhook_Ignored(t *testing.T) {
	tests := map[string]string{
		"other object": `{"object":"page","entry":[]}`,
		"status only":  `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"statuses":[{"id":"x"}]}}]}]}`,
		"no entries":   `{"object":"whatsapp_business_account"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, ok, err := ParseWebhook([]byte(body))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestParseWebhook_NonTextMessage(t *testing.T) {
	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"messages":[{"id":"wamid.2","from":"34600111222","type":"image"}]}}]}]}`
	msg, ok, err := ParseWebhook([]byte(body))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, msg.Body)
	assert.Empty(t, msg.DisplayName)
}

func TestParseWebhook_InvalidJSON(t *testing.T) {
	_, _, err := ParseWebhook([]byte(`{`))
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(samplePayload)
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.True(t, VerifySignature("secret", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("secret", body, "sha1=abc"))
	assert.False(t, VerifySignature("", body, sig))
}

func TestVerifySubscription(t *testing.T) {
	challenge, ok := VerifySubscription("subscribe", "tok", "123", "tok")
	assert.True(t, ok)
	assert.Equal(t, "123", challenge)

	_, ok = VerifySubscription("subscribe", "bad", "123", "tok")
	assert.False(t, ok)
	_, ok = VerifySubscription("subscribe", "", "123", "")
	assert.False(t, ok)
}
