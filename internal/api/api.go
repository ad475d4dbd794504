// Package api provides the HTTP server for citabot.
//
// It exposes the WhatsApp webhooks (Meta Cloud API and Twilio), the Meta Lead
// Ads capture endpoint, the token-protected cron triggers for follow-ups and
// reminders, the Google Calendar OAuth flow, follow-up administration and the
// Prometheus metrics endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/herion/citabot/internal/dialogue"
	"github.com/herion/citabot/internal/metrics"
	"github.com/herion/citabot/internal/models"
	"github.com/herion/citabot/internal/scheduler"
	"github.com/herion/citabot/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Defaults for the HTTP server.
const (
	DefaultAddr           = ":8080"
	DefaultInboundTimeout = 60 * time.Second
	DefaultShutdownWait   = 10 * time.Second
)

// InboundHandler processes one inbound WhatsApp message.
type InboundHandler interface {
	HandleInbound(ctx context.Context, orgID string, msg models.InboundMessage) dialogue.Outcome
}

// BatchRunner runs the follow-up and reminder batches.
type BatchRunner interface {
	RunFollowups(ctx context.Context) (scheduler.Summary, error)
	RunReminders(ctx context.Context) (scheduler.Summary, error)
}

// OAuthConnector drives the Google Calendar consent flow.
type OAuthConnector interface {
	AuthCodeURL(state string) string
	Connect(ctx context.Context, orgID, code string) error
}

// Store is the persistence used directly by the HTTP layer.
type Store interface {
	store.LeadRepo
	store.FollowupRepo
	store.InboxRepo
	Ping(ctx context.Context) error
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr             string
	OrganizationID   string
	VerifyToken      string // Meta WhatsApp webhook verification
	LeadsVerifyToken string // Meta Lead Ads webhook verification
	AppSecret        string // enables X-Hub-Signature-256 checks when set
	CronToken        string // protects /cron/* and /admin/*
	TwilioAuthToken  string
	TwilioWebhookURL string // public URL Twilio signs; enables signature checks with TwilioAuthToken
	InboundTimeout   time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithOrganization sets the organization inbound messages are attributed to.
func WithOrganization(orgID string) Option {
	return func(o *Opts) { o.OrganizationID = orgID }
}

// WithVerifyTokens sets the Meta verification tokens for the WhatsApp and Lead Ads webhooks.
func WithVerifyTokens(whatsapp, leads string) Option {
	return func(o *Opts) {
		o.VerifyToken = whatsapp
		o.LeadsVerifyToken = leads
	}
}

// WithAppSecret enables Meta payload signature verification.
func WithAppSecret(secret string) Option {
	return func(o *Opts) { o.AppSecret = secret }
}

// WithCronToken sets the shared token for cron and admin endpoints.
func WithCronToken(token string) Option {
	return func(o *Opts) { o.CronToken = token }
}

// WithTwilioSignature enables X-Twilio-Signature validation for the given public webhook URL.
func WithTwilioSignature(authToken, webhookURL string) Option {
	return func(o *Opts) {
		o.TwilioAuthToken = authToken
		o.TwilioWebhookURL = webhookURL
	}
}

// WithInboundTimeout bounds the processing of one webhook delivery.
func WithInboundTimeout(d time.Duration) Option {
	return func(o *Opts) { o.InboundTimeout = d }
}

// Server holds all dependencies for the API handlers.
type Server struct {
	st      Store
	inbound InboundHandler
	batches BatchRunner
	oauth   OAuthConnector
	opts    Opts
	now     func() time.Time
	router  chi.Router
	server  *http.Server
}

// NewServer creates a new API server instance. oauth may be nil when Google
// Calendar is not configured.
func NewServer(st Store, inbound InboundHandler, batches BatchRunner, oauth OAuthConnector, opts ...Option) *Server {
	cfg := Opts{
		Addr:           DefaultAddr,
		OrganizationID: models.DefaultOrganizationID,
		InboundTimeout: DefaultInboundTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		st:      st,
		inbound: inbound,
		batches: batches,
		oauth:   oauth,
		opts:    cfg,
		now:     time.Now,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/webhook", s.verifyWebhookHandler)
	r.Post("/webhook", s.cloudAPIWebhookHandler)
	r.Post("/webhook/twilio", s.twilioWebhookHandler)
	r.Get("/webhook/meta-leads", s.verifyLeadsHandler)
	r.Post("/webhook/meta-leads", s.leadsWebhookHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.requireCronToken)
		r.Get("/cron/followups", s.cronHandler("followups", s.batches.RunFollowups))
		r.Get("/cron/reminders", s.cronHandler("reminders", s.batches.RunReminders))
		r.Post("/admin/followups", s.adminFollowupHandler)
	})

	r.Get("/google/oauth/start", s.oauthStartHandler)
	r.Get("/google/oauth/callback", s.oauthCallbackHandler)
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownWait)
	defer cancel()
	slog.Info("Server.Run: shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
