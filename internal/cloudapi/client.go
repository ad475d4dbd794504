// Package cloudapi talks to the Meta WhatsApp Cloud API: it sends text
// messages through the Graph API and parses inbound webhook payloads.
package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultGraphAPIBase is the versioned Graph API root used for sends.
	DefaultGraphAPIBase = "https://graph.facebook.com/v19.0"
	// DefaultHTTPTimeout bounds a single send request.
	DefaultHTTPTimeout = 10 * time.Second
)

var (
	// ErrNotConfigured is returned when the access token or phone number id is missing.
	ErrNotConfigured = errors.New("cloudapi: access token and phone number id are required")
)

// Opts holds configuration options for the Cloud API client.
type Opts struct {
	AccessToken   string
	PhoneNumberID string
	GraphAPIBase  string
	HTTPClient    *http.Client
}

// Option defines a configuration option for the Cloud API client.
type Option func(*Opts)

// WithAccessToken sets the bearer token (WHATSAPP_TOKEN).
func WithAccessToken(token string) Option {
	return func(o *Opts) { o.AccessToken = token }
}

// WithPhoneNumberID sets the sending phone number id (PHONE_NUMBER_ID).
func WithPhoneNumberID(id string) Option {
	return func(o *Opts) { o.PhoneNumberID = id }
}

// WithGraphAPIBase overrides the Graph API root (used by tests).
func WithGraphAPIBase(base string) Option {
	return func(o *Opts) { o.GraphAPIBase = base }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client sends WhatsApp text messages via the Graph API.
type Client struct {
	accessToken   string
	phoneNumberID string
	graphAPIBase  string
	httpClient    *http.Client
}

// NewClient creates a Cloud API client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{GraphAPIBase: DefaultGraphAPIBase}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccessToken == "" || cfg.PhoneNumberID == "" {
		return nil, ErrNotConfigured
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		graphAPIBase:  strings.TrimRight(cfg.GraphAPIBase, "/"),
		httpClient:    cfg.HTTPClient,
	}, nil
}

type textBody struct {
	Body string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

// SendResponse is the Graph API answer to a message send.
type SendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *APIError `json:"error,omitempty"`
}

// APIError is the error object returned by the Graph API.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error %d (%s): %s", e.Code, e.Type, e.Message)
}

// SendMessage sends a text message to a canonical phone number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               strings.TrimPrefix(to, "+"),
		Type:             "text",
		Text:             textBody{Body: body},
	})
	if err != nil {
		return fmt.Errorf("cloudapi: marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.graphAPIBase, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("cloudapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cloudapi: send to %s: %w", to, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var result SendResponse
	_ = json.Unmarshal(raw, &result)

	if resp.StatusCode >= 300 {
		if result.Error != nil {
			return fmt.Errorf("cloudapi: send to %s: %w", to, result.Error)
		}
		return fmt.Errorf("cloudapi: send to %s: status %d: %s", to, resp.StatusCode, string(raw))
	}

	var id string
	if len(result.Messages) > 0 {
		id = result.Messages[0].ID
	}
	slog.Debug("cloudapi.SendMessage: sent", "to", to, "wamid", id)
	return nil
}
