package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/herion/citabot/internal/models"
	"github.com/herion/citabot/internal/store"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	// DefaultCalendarID is the calendar used for busy lookups and bookings.
	DefaultCalendarID = "primary"
	// SendUpdatesAll asks Google to email every attendee.
	SendUpdatesAll = "all"
)

// Opts holds configuration options for the Google provider.
type Opts struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	CalendarID   string
	TimeZone     string
	Endpoint     string       // API endpoint override (tests)
	HTTPClient   *http.Client // bypasses OAuth when set (tests)
}

// Option defines a configuration option for the Google provider.
type Option func(*Opts)

// WithOAuthClient sets the OAuth client credentials and redirect URL.
func WithOAuthClient(clientID, clientSecret, redirectURL string) Option {
	return func(o *Opts) {
		o.ClientID = clientID
		o.ClientSecret = clientSecret
		o.RedirectURL = redirectURL
	}
}

// WithCalendarID sets the calendar to operate on.
func WithCalendarID(id string) Option {
	return func(o *Opts) { o.CalendarID = id }
}

// WithTimeZone sets the IANA zone attached to created events.
func WithTimeZone(tz string) Option {
	return func(o *Opts) { o.TimeZone = tz }
}

// WithEndpoint overrides the Calendar API endpoint.
func WithEndpoint(endpoint string) Option {
	return func(o *Opts) { o.Endpoint = endpoint }
}

// WithHTTPClient makes every call use c instead of an OAuth client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// GoogleProvider implements Provider on the Google Calendar v3 API, using the
// refresh token stored per organization.
type GoogleProvider struct {
	oauth      *oauth2.Config
	tokens     store.IntegrationRepo
	calendarID string
	timeZone   string
	endpoint   string
	httpClient *http.Client
}

var _ Provider = (*GoogleProvider)(nil)

// NewGoogleProvider creates a provider reading refresh tokens from tokens.
func NewGoogleProvider(tokens store.IntegrationRepo, opts ...Option) *GoogleProvider {
	cfg := Opts{CalendarID: DefaultCalendarID, TimeZone: "Europe/Madrid"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{gcal.CalendarScope},
			Endpoint:     google.Endpoint,
		},
		tokens:     tokens,
		calendarID: cfg.CalendarID,
		timeZone:   cfg.TimeZone,
		endpoint:   cfg.Endpoint,
		httpClient: cfg.HTTPClient,
	}
}

// AuthCodeURL returns the consent URL requesting offline access.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Connect exchanges an authorization code and stores the refresh token for orgID.
func (p *GoogleProvider) Connect(ctx context.Context, orgID, code string) error {
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("oauth exchange: %w", err)
	}
	if tok.RefreshToken == "" {
		return ErrNoRefreshToken
	}
	if err := p.tokens.SaveGoogleRefreshToken(ctx, orgID, tok.RefreshToken); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	slog.Info("GoogleProvider.Connect: calendar connected", "orgID", orgID)
	return nil
}

func (p *GoogleProvider) service(ctx context.Context, orgID string) (*gcal.Service, error) {
	opts := []option.ClientOption{}
	if p.endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.endpoint))
	}
	if p.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(p.httpClient))
	} else {
		if p.oauth.ClientID == "" {
			return nil, fmt.Errorf("%w: oauth client not configured", ErrMissingCredentials)
		}
		refresh, err := p.tokens.GetGoogleRefreshToken(ctx, orgID)
		if err != nil {
			return nil, fmt.Errorf("load refresh token: %w", err)
		}
		if refresh == "" {
			return nil, fmt.Errorf("%w: no refresh token for %s", ErrMissingCredentials, orgID)
		}
		ts := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh})
		opts = append(opts, option.WithTokenSource(ts))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}

// ListBusy returns the busy intervals of the calendar between start and end.
func (p *GoogleProvider) ListBusy(ctx context.Context, orgID string, start, end time.Time) ([]models.Interval, error) {
	svc, err := p.service(ctx, orgID)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: start.UTC().Format(time.RFC3339),
		TimeMax: end.UTC().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: p.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query: %w", err)
	}

	cal, ok := resp.Calendars[p.calendarID]
	if !ok {
		return nil, nil
	}
	out := make([]models.Interval, 0, len(cal.Busy))
	for _, b := range cal.Busy {
		bs, err := time.Parse(time.RFC3339, b.Start)
		if err != nil {
			return nil, fmt.Errorf("parse busy start %q: %w", b.Start, err)
		}
		be, err := time.Parse(time.RFC3339, b.End)
		if err != nil {
			return nil, fmt.Errorf("parse busy end %q: %w", b.End, err)
		}
		out = append(out, models.Interval{Start: bs, End: be})
	}
	return out, nil
}

// CreateEvent inserts an event and returns its id.
func (p *GoogleProvider) CreateEvent(ctx context.Context, orgID string, in EventInput) (string, error) {
	svc, err := p.service(ctx, orgID)
	if err != nil {
		return "", err
	}
	ev, err := svc.Events.Insert(p.calendarID, &gcal.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Start:       &gcal.EventDateTime{DateTime: in.Start.Format(time.RFC3339), TimeZone: p.timeZone},
		End:         &gcal.EventDateTime{DateTime: in.End.Format(time.RFC3339), TimeZone: p.timeZone},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	slog.Debug("GoogleProvider.CreateEvent: event created", "orgID", orgID, "eventID", ev.Id)
	return ev.Id, nil
}

// PatchAttendees merges emails into the event's attendee list and patches it
// with sendUpdates=all so Google sends the invitations.
func (p *GoogleProvider) PatchAttendees(ctx context.Context, orgID, eventID string, emails []string) error {
	svc, err := p.service(ctx, orgID)
	if err != nil {
		return err
	}
	ev, err := svc.Events.Get(p.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get event %s: %w", eventID, err)
	}

	attendees := MergeAttendees(ev.Attendees, emails)
	_, err = svc.Events.Patch(p.calendarID, eventID, &gcal.Event{Attendees: attendees}).
		SendUpdates(SendUpdatesAll).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("patch event %s: %w", eventID, err)
	}
	return nil
}

// MergeAttendees appends the emails not already present (case-insensitive).
func MergeAttendees(existing []*gcal.EventAttendee, emails []string) []*gcal.EventAttendee {
	out := append([]*gcal.EventAttendee(nil), existing...)
	seen := make(map[string]bool, len(existing)+len(emails))
	for _, a := range existing {
		seen[strings.ToLower(a.Email)] = true
	}
	for _, e := range emails {
		key := strings.ToLower(strings.TrimSpace(e))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, &gcal.EventAttendee{Email: strings.TrimSpace(e)})
	}
	return out
}
