package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/herion/citabot/internal/api"
	"github.com/herion/citabot/internal/calendar"
	"github.com/herion/citabot/internal/cloudapi"
	"github.com/herion/citabot/internal/dialogue"
	"github.com/herion/citabot/internal/genai"
	"github.com/herion/citabot/internal/lockfile"
	"github.com/herion/citabot/internal/messaging"
	"github.com/herion/citabot/internal/models"
	"github.com/herion/citabot/internal/scheduler"
	"github.com/herion/citabot/internal/slots"
	"github.com/herion/citabot/internal/store"
	"github.com/herion/citabot/internal/twiliowhatsapp"
	"github.com/herion/citabot/internal/util"
	"github.com/herion/citabot/internal/whatsapp"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for citabot state data
	DefaultStateDir = "/var/lib/citabot"
	// DefaultAppDBFileName is the default SQLite database filename
	DefaultAppDBFileName = "citabot.db"
	// DefaultWhatsAppDBFileName is the whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// Messaging providers selectable with MESSAGING_PROVIDER.
const (
	ProviderCloudAPI  = "cloudapi"
	ProviderTwilio    = "twilio"
	ProviderWhatsmeow = "whatsmeow"
)

func main() {
	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		os.Exit(2)
	}
	initializeLogger(*flags.logLevel)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	var lock *lockfile.Lock
	if needsStateLock(flags) {
		lock, err = lockfile.Acquire(*flags.stateDir)
		if err != nil {
			slog.Error("Failed to lock state directory", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	slog.Info("Bootstrapping citabot", "provider", *flags.provider, "organization", config.OrganizationID)
	err = run(ctx, config, flags)
	stop()
	if relErr := lock.Release(); relErr != nil {
		slog.Warn("Failed to release state lock", "error", relErr)
	}
	if err != nil {
		slog.Error("citabot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("citabot exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir       string
	DatabaseDSN    string
	WhatsAppDBDSN  string
	OrganizationID string
	TimeZone       string
	LogLevel       string

	OpenAIKey   string
	OpenAIModel string
	APIAddr     string

	Provider          string
	WhatsAppToken     string
	PhoneNumberID     string
	VerifyToken       string
	LeadsVerifyToken  string
	AppSecret         string
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
	TwilioWebhookURL  string
	GoogleClientID    string
	GoogleSecret      string
	GoogleRedirectURL string
	GoogleCalendarID  string

	CronToken     string
	SchedulerCron string
	RedisURL      string
	InvoiceURL    string
	LookaheadDays int
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	dbDSN         *string
	openaiKey     *string
	apiAddr       *string
	provider      *string
	schedulerCron *string
	logLevel      *string
}

// initializeLogger sets up structured logging at the configured level (debug by default)
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:          util.GetEnv("CITABOT_STATE_DIR", DefaultStateDir),
		DatabaseDSN:       os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		OrganizationID:    util.GetEnv("ORGANIZATION_ID", models.DefaultOrganizationID),
		TimeZone:          util.GetEnv("ORGANIZATION_TZ", slots.DefaultTimeZone),
		LogLevel:          util.GetEnv("LOG_LEVEL", "debug"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       os.Getenv("OPENAI_MODEL"),
		APIAddr:           util.GetEnv("API_ADDR", api.DefaultAddr),
		Provider:          strings.ToLower(util.GetEnv("MESSAGING_PROVIDER", ProviderCloudAPI)),
		WhatsAppToken:     os.Getenv("WHATSAPP_TOKEN"),
		PhoneNumberID:     os.Getenv("PHONE_NUMBER_ID"),
		VerifyToken:       os.Getenv("VERIFY_TOKEN"),
		LeadsVerifyToken:  os.Getenv("META_LEADS_VERIFY_TOKEN"),
		AppSecret:         os.Getenv("APP_SECRET"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:  os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL:  os.Getenv("TWILIO_WEBHOOK_URL"),
		GoogleClientID:    os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleSecret:      os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL: os.Getenv("GOOGLE_REDIRECT_URL"),
		GoogleCalendarID:  util.GetEnv("GOOGLE_CALENDAR_ID", calendar.DefaultCalendarID),
		CronToken:         os.Getenv("CRON_TOKEN"),
		SchedulerCron:     os.Getenv("SCHEDULER_CRON"),
		RedisURL:          os.Getenv("REDIS_URL"),
		InvoiceURL:        util.GetEnv("INVOICE_URL", dialogue.DefaultInvoiceURL),
		LookaheadDays:     util.ParseIntEnv("LOOKAHEAD_DAYS", dialogue.DefaultLookaheadDays),
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}

	slog.Debug("environment variables loaded",
		"CITABOT_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"ORGANIZATION_ID", config.OrganizationID,
		"ORGANIZATION_TZ", config.TimeZone,
		"MESSAGING_PROVIDER", config.Provider,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GOOGLE_CLIENT_ID_SET", config.GoogleClientID != "",
		"CRON_TOKEN_SET", config.CronToken != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		qrOutput:      fs.String("qr-output", "", "path to write the whatsmeow login QR code"),
		numeric:       fs.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:      fs.String("state-dir", config.StateDir, "state directory for citabot data (overrides $CITABOT_STATE_DIR)"),
		dbDSN:         fs.String("db-dsn", config.DatabaseDSN, "database DSN, Postgres URL or SQLite path (overrides $DATABASE_URL)"),
		openaiKey:     fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:       fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		provider:      fs.String("provider", config.Provider, "messaging provider: cloudapi, twilio or whatsmeow (overrides $MESSAGING_PROVIDER)"),
		schedulerCron: fs.String("scheduler-cron", config.SchedulerCron, "run follow-up and reminder batches in-process on this cron expression (overrides $SCHEDULER_CRON)"),
		logLevel:      fs.String("log-level", config.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)"),
	}
	if err := fs.Parse(args); err != nil {
		return flags, err
	}

	// Move the default SQLite file along with an overridden state directory
	if *flags.dbDSN == config.DatabaseDSN && config.DatabaseDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}
	return flags, nil
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	return nil
}

// needsStateLock reports whether this process writes single-writer files under
// the state directory: a SQLite database or a whatsmeow device session.
func needsStateLock(flags Flags) bool {
	return store.DetectDSNType(*flags.dbDSN) != "postgres" || *flags.provider == ProviderWhatsmeow
}

// buildWhatsAppOptions constructs whatsmeow configuration options
func buildWhatsAppOptions(config Config, flags Flags) []whatsapp.Option {
	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(config.WhatsAppDBDSN)}
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	return waOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config, flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if config.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(config.OpenAIModel))
	}
	return genaiOpts
}

// buildCalendarOptions constructs Google Calendar configuration options
func buildCalendarOptions(config Config) []calendar.Option {
	return []calendar.Option{
		calendar.WithOAuthClient(config.GoogleClientID, config.GoogleSecret, config.GoogleRedirectURL),
		calendar.WithCalendarID(config.GoogleCalendarID),
		calendar.WithTimeZone(config.TimeZone),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config, flags Flags) []api.Option {
	apiOpts := []api.Option{
		api.WithOrganization(config.OrganizationID),
		api.WithVerifyTokens(config.VerifyToken, config.LeadsVerifyToken),
		api.WithCronToken(config.CronToken),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if config.AppSecret != "" {
		apiOpts = append(apiOpts, api.WithAppSecret(config.AppSecret))
	}
	if config.TwilioAuthToken != "" && config.TwilioWebhookURL != "" {
		apiOpts = append(apiOpts, api.WithTwilioSignature(config.TwilioAuthToken, config.TwilioWebhookURL))
	}
	return apiOpts
}

// unavailableReplier stands in for the text generator when no API key is configured.
type unavailableReplier struct{}

func (unavailableReplier) GenerateReply(ctx context.Context, text string) (string, error) {
	return "", genai.ErrMissingAPIKey
}

// lateHandler lets a transport deliver messages before the orchestrator exists.
type lateHandler struct {
	orch  atomic.Pointer[dialogue.Orchestrator]
	orgID string
}

func (h *lateHandler) handle(ctx context.Context, msg models.InboundMessage) {
	orch := h.orch.Load()
	if orch == nil {
		slog.Warn("lateHandler: orchestrator not ready, dropping message", "from", msg.From)
		return
	}
	orch.HandleInbound(ctx, h.orgID, msg)
}

// buildSender connects the configured messaging provider. The returned stop
// function releases the transport.
func buildSender(ctx context.Context, config Config, flags Flags, inbound *lateHandler) (messaging.Sender, func(), error) {
	noop := func() {}
	switch *flags.provider {
	case ProviderCloudAPI:
		client, err := cloudapi.NewClient(
			cloudapi.WithAccessToken(config.WhatsAppToken),
			cloudapi.WithPhoneNumberID(config.PhoneNumberID),
		)
		if err != nil {
			return nil, noop, fmt.Errorf("cloud api client: %w", err)
		}
		return client, noop, nil
	case ProviderTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(config.TwilioFromNumber),
		)
		if err != nil {
			return nil, noop, fmt.Errorf("twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		if err := svc.Start(ctx); err != nil {
			return nil, noop, err
		}
		return svc, func() { svc.Stop() }, nil
	case ProviderWhatsmeow:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(config, flags)...)
		if err != nil {
			return nil, noop, fmt.Errorf("whatsmeow client: %w", err)
		}
		svc := messaging.NewWhatsAppService(client, inbound.handle)
		if err := svc.Start(ctx); err != nil {
			client.Disconnect()
			return nil, noop, err
		}
		return svc, func() { svc.Stop() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown messaging provider %q", *flags.provider)
	}
}

// buildLocker returns a Redis lease locker when REDIS_URL is set, otherwise the in-process one.
func buildLocker(ctx context.Context, config Config) (dialogue.Locker, func(), error) {
	if config.RedisURL == "" {
		return dialogue.NewKeyedLocker(), func() {}, nil
	}
	opt, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Info("Using Redis per-lead lease", "addr", opt.Addr)
	return dialogue.NewRedisLocker(client), func() { client.Close() }, nil
}

func run(ctx context.Context, config Config, flags Flags) error {
	st, err := store.New(*flags.dbDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	loc, err := slots.LoadLocation(config.TimeZone)
	if err != nil {
		return fmt.Errorf("load organization time zone: %w", err)
	}

	var replier dialogue.Replier = unavailableReplier{}
	if gen, err := genai.NewClient(buildGenAIOptions(config, flags)...); err != nil {
		slog.Warn("GenAI client not configured, free-form replies disabled", "error", err)
	} else {
		replier = gen
	}

	cal := calendar.NewGoogleProvider(st, buildCalendarOptions(config)...)
	var oauth api.OAuthConnector
	if config.GoogleClientID != "" {
		oauth = cal
	}

	locker, closeLocker, err := buildLocker(ctx, config)
	if err != nil {
		return err
	}
	defer closeLocker()

	inbound := &lateHandler{orgID: config.OrganizationID}
	rawSender, stopSender, err := buildSender(ctx, config, flags, inbound)
	if err != nil {
		return err
	}
	defer stopSender()
	sender := messaging.NewInstrumentedSender(rawSender, *flags.provider)

	orch := dialogue.NewOrchestrator(st, cal, sender, replier,
		dialogue.WithLocation(loc),
		dialogue.WithInvoiceURL(config.InvoiceURL),
		dialogue.WithLookaheadDays(config.LookaheadDays),
		dialogue.WithLocker(locker),
	)
	inbound.orch.Store(orch)

	dispatcher := scheduler.NewDispatcher(st, sender,
		scheduler.WithOrganization(config.OrganizationID),
		scheduler.WithLocation(loc),
	)
	if *flags.schedulerCron != "" {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		if err := sched.ScheduleBatches(*flags.schedulerCron, dispatcher); err != nil {
			return fmt.Errorf("invalid scheduler cron %q: %w", *flags.schedulerCron, err)
		}
		slog.Info("In-process scheduler enabled", "cron", *flags.schedulerCron)
	}

	server := api.NewServer(st, orch, dispatcher, oauth, buildAPIOptions(config, flags)...)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
