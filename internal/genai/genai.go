// Package genai provides reply generation using the OpenAI API.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default values for the GenAI client.
const (
	DefaultModel       = openai.ChatModelGPT4oMini
	DefaultTemperature = 0.4
	// DefaultEmptyReply is returned when the model answers with no text.
	DefaultEmptyReply = "Vale, ¿en qué te ayudo?"
)

var (
	// ErrNoChoicesReturned is returned when the completion carries no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrMissingAPIKey is returned when the client is built without a key.
	ErrMissingAPIKey = errors.New("OpenAI API key not set")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsService adapts the SDK's completion service to chatService.
type completionsService struct {
	svc *openai.ChatCompletionService
}

func (c completionsService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey       string  // OpenAI API key
	Model        string  // chat model name
	Temperature  float64 // sampling temperature
	SystemPrompt string  // overrides DefaultSystemPrompt
}

// Option defines a function that configures GenAI client options.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithSystemPrompt replaces the assistant persona.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// Client wraps the OpenAI chat completion service for generating replies.
type Client struct {
	chat         chatService
	model        openai.ChatModel
	temperature  float64
	systemPrompt string
}

// NewClient initializes a new GenAI client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: string(DefaultModel), Temperature: DefaultTemperature, SystemPrompt: DefaultSystemPrompt}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient: client created", "model", cfg.Model)
	return &Client{
		chat:         completionsService{svc: &cli.Chat.Completions},
		model:        openai.ChatModel(cfg.Model),
		temperature:  cfg.Temperature,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("Client.GeneratePrompt: completion failed", "error", err, "model", c.model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateReply answers a customer message with the assistant persona.
func (c *Client) GenerateReply(ctx context.Context, userMessage string) (string, error) {
	out, err := c.GeneratePrompt(ctx, c.systemPrompt, userMessage)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return DefaultEmptyReply, nil
	}
	return out, nil
}
