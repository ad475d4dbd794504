package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/herion/citabot/internal/calendar"
	"github.com/herion/citabot/internal/cloudapi"
	"github.com/herion/citabot/internal/messaging"
	"github.com/herion/citabot/internal/models"
	"github.com/herion/citabot/internal/scheduler"
	twilioclient "github.com/twilio/twilio-go/client"
)

const (
	maxWebhookBody   = 1 << 20
	leadsInboxSource = "meta_leadads"
	oauthStateCookie = "citabot_oauth_state"
)

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	}
	if err := s.st.Ping(ctx); err != nil {
		slog.Warn("Server.healthHandler: store ping failed", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Database unreachable"
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}

// verifyWebhookHandler answers Meta's GET /webhook subscription handshake.
func (s *Server) verifyWebhookHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := cloudapi.VerifySubscription(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), s.opts.VerifyToken)
	if !ok {
		slog.Warn("Server.verifyWebhookHandler: verification rejected", "mode", q.Get("hub.mode"))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	writeText(w, http.StatusOK, challenge)
}

// cloudAPIWebhookHandler handles POST /webhook from the Meta Cloud API.
func (s *Server) cloudAPIWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("Server.cloudAPIWebhookHandler: failed to read body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.opts.AppSecret != "" && !cloudapi.VerifySignature(s.opts.AppSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		slog.Warn("Server.cloudAPIWebhookHandler: invalid payload signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	msg, ok, err := cloudapi.ParseWebhook(body)
	if err != nil {
		slog.Warn("Server.cloudAPIWebhookHandler: invalid JSON payload", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !ok {
		// Status updates and other objects carry no message.
		w.WriteHeader(http.StatusOK)
		return
	}

	s.process(r, msg)
	w.WriteHeader(http.StatusOK)
}

// twilioWebhookHandler handles POST /webhook/twilio.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !s.validTwilioSignature(r) {
		slog.Warn("Server.twilioWebhookHandler: invalid X-Twilio-Signature")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	msg, err := messaging.ParseTwilioForm(r.PostForm)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: ignoring delivery", "error", err)
		writeTwiML(w)
		return
	}
	s.process(r, msg)
	writeTwiML(w)
}

func (s *Server) validTwilioSignature(r *http.Request) bool {
	if s.opts.TwilioAuthToken == "" || s.opts.TwilioWebhookURL == "" {
		return true
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	validator := twilioclient.NewRequestValidator(s.opts.TwilioAuthToken)
	return validator.Validate(s.opts.TwilioWebhookURL, params, r.Header.Get("X-Twilio-Signature"))
}

// process runs the orchestrator detached from the request so that an upstream
// disconnect does not abort a half-processed message.
func (s *Server) process(r *http.Request, msg models.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.InboundTimeout)
	defer cancel()
	out := s.inbound.HandleInbound(ctx, s.opts.OrganizationID, msg)
	slog.Debug("Server.process: inbound handled", "channel", msg.Channel, "messageID", msg.MessageID, "branch", out.Branch)
}

// verifyLeadsHandler answers the Lead Ads GET /webhook/meta-leads handshake.
func (s *Server) verifyLeadsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := cloudapi.VerifySubscription(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), s.opts.LeadsVerifyToken)
	if !ok {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	writeText(w, http.StatusOK, challenge)
}

// leadsWebhookHandler stores the raw Lead Ads payload for later processing.
// Meta retries on anything but 200, so failures are only logged.
func (s *Server) leadsWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil || !json.Valid(body) {
		slog.Warn("Server.leadsWebhookHandler: unreadable payload dropped", "error", err, "bytes", len(body))
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := s.st.InsertLeadsInbox(r.Context(), leadsInboxSource, body); err != nil {
		slog.Error("Server.leadsWebhookHandler: failed to store payload", "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

// requireCronToken checks ?token= or a Bearer Authorization header against the cron token.
func (s *Server) requireCronToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if s.opts.CronToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.CronToken)) != 1 {
			slog.Warn("Server.requireCronToken: unauthorized", "path", r.URL.Path)
			writeText(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) cronHandler(name string, run func(context.Context) (scheduler.Summary, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := run(r.Context())
		if err != nil {
			slog.Error("Server.cronHandler: batch failed", "batch", name, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, cronResponse{OK: false})
			return
		}
		slog.Info("Server.cronHandler: batch done", "batch", name, "processed", sum.Processed, "candidates", sum.Candidates)
		writeJSONResponse(w, http.StatusOK, cronResponse{OK: true, Summary: &sum})
	}
}

// adminFollowupHandler handles POST /admin/followups.
func (s *Server) adminFollowupHandler(w http.ResponseWriter, r *http.Request) {
	var req models.FollowupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.adminFollowupHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	phone, err := messaging.CanonicalizePhone(req.Phone)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx := r.Context()
	orgID := s.opts.OrganizationID

	if req.Action == models.FollowupActionDeactivate {
		lead, err := s.st.GetLeadByPhone(ctx, orgID, phone)
		if err != nil {
			slog.Error("Server.adminFollowupHandler: lead lookup failed", "error", err, "phone", phone)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load lead"))
			return
		}
		if lead == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
			return
		}
		changed, err := s.st.DeactivateFollowup(ctx, orgID, lead.ID)
		if err != nil {
			slog.Error("Server.adminFollowupHandler: deactivate failed", "error", err, "leadID", lead.ID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to deactivate follow-up"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("follow-up deactivated", map[string]interface{}{
			"lead_id":     lead.ID,
			"deactivated": changed,
		}))
		return
	}

	lead, err := s.st.UpsertLead(ctx, orgID, phone, strings.TrimSpace(req.Name))
	if err != nil {
		slog.Error("Server.adminFollowupHandler: lead upsert failed", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save lead"))
		return
	}
	delay := scheduler.DefaultFollowupAdvance
	if req.DelayMinutes > 0 {
		delay = time.Duration(req.DelayMinutes) * time.Minute
	}
	f := models.Followup{
		OrganizationID: orgID,
		LeadID:         lead.ID,
		NextRunAt:      s.now().Add(delay),
		IsActive:       true,
	}
	if err := s.st.UpsertFollowup(ctx, f); err != nil {
		slog.Error("Server.adminFollowupHandler: follow-up upsert failed", "error", err, "leadID", lead.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save follow-up"))
		return
	}
	slog.Info("Server.adminFollowupHandler: follow-up seeded", "leadID", lead.ID, "nextRunAt", f.NextRunAt)
	writeJSONResponse(w, http.StatusCreated, models.Success(f))
}

// oauthStartHandler redirects to Google's offline consent screen.
func (s *Server) oauthStartHandler(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		writeText(w, http.StatusServiceUnavailable, "Google Calendar no configurado")
		return
	}
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/google/oauth",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.oauth.AuthCodeURL(state), http.StatusFound)
}

// oauthCallbackHandler exchanges the code and stores the refresh token.
func (s *Server) oauthCallbackHandler(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		writeText(w, http.StatusServiceUnavailable, "Google Calendar no configurado")
		return
	}
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		writeText(w, http.StatusBadRequest, "Missing code")
		return
	}
	// Consent started elsewhere (e.g. a link built by hand) carries no cookie.
	if c, err := r.Cookie(oauthStateCookie); err == nil && c.Value != q.Get("state") {
		slog.Warn("Server.oauthCallbackHandler: state mismatch")
		writeText(w, http.StatusBadRequest, "Invalid state")
		return
	}

	err := s.oauth.Connect(r.Context(), s.opts.OrganizationID, code)
	switch {
	case errors.Is(err, calendar.ErrNoRefreshToken):
		writeText(w, http.StatusBadRequest, "No refresh_token received. Try again: /google/oauth/start")
	case err != nil:
		slog.Error("Server.oauthCallbackHandler: token exchange failed", "error", err)
		writeText(w, http.StatusInternalServerError, "OAuth error")
	default:
		slog.Info("Server.oauthCallbackHandler: Google Calendar connected", "organizationID", s.opts.OrganizationID)
		writeText(w, http.StatusOK, "Google Calendar conectado ✅")
	}
}
