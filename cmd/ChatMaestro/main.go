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
	"syscall"
	"time"

	"github.com/BTreeMap/ChatMaestro/internal/api"
	"github.com/BTreeMap/ChatMaestro/internal/coach"
	"github.com/BTreeMap/ChatMaestro/internal/config"
	"github.com/BTreeMap/ChatMaestro/internal/lockfile"
	"github.com/BTreeMap/ChatMaestro/internal/notify"
	"github.com/BTreeMap/ChatMaestro/internal/scheduler"
	"github.com/BTreeMap/ChatMaestro/internal/store"
	"github.com/BTreeMap/ChatMaestro/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ChatMaestro state data
	DefaultStateDir = "/var/lib/chatmaestro"
	// DefaultAppDBFileName is the default SQLite database for coaching data
	DefaultAppDBFileName = "chatmaestro.db"
	// DefaultWhatsAppDBFileName is the default SQLite database for the WhatsApp device store
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// Notifier names accepted by -notifier.
const (
	NotifierNone     = "none"
	NotifierWhatsApp = "whatsapp"
	NotifierTwilio   = "twilio"
)

// Config holds environment configuration
type Config struct {
	StateDir         string
	ApplicationDBDSN string
	WhatsAppDBDSN    string
	InMemory         bool
	APIAddr          string
	SweepSchedule    string
	SettingsFile     string
	Notifier         string
	LogLevel         string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	dbDSN         *string
	waDBDSN       *string
	inMemory      *bool
	apiAddr       *string
	sweepSchedule *string
	settingsFile  *string
	notifier      *string
}

func main() {
	cfg := loadEnvironmentConfig()
	initializeLogger(cfg.LogLevel)
	flags := parseCommandLineFlags(cfg)

	if err := run(flags); err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			fmt.Fprintln(os.Stderr, lockErr.Error())
		}
		slog.Error("ChatMaestro failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ChatMaestro exited successfully")
}

// parseLogLevel maps CHATMAESTRO_LOG_LEVEL to a slog level, defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	// DATABASE_URL is accepted for hosted Postgres deployments.
	cfg := Config{
		StateDir:         os.Getenv("CHATMAESTRO_STATE_DIR"),
		ApplicationDBDSN: util.FirstEnv("DATABASE_DSN", "DATABASE_URL"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		InMemory:         util.ParseBoolEnv("CHATMAESTRO_IN_MEMORY", false),
		APIAddr:          os.Getenv("API_ADDR"),
		SweepSchedule:    os.Getenv("SWEEP_SCHEDULE"),
		SettingsFile:     os.Getenv("CHATMAESTRO_SETTINGS_FILE"),
		Notifier:         os.Getenv("CHATMAESTRO_NOTIFIER"),
		LogLevel:         os.Getenv("CHATMAESTRO_LOG_LEVEL"),
	}

	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.ApplicationDBDSN == "" {
		cfg.ApplicationDBDSN = filepath.Join(cfg.StateDir, DefaultAppDBFileName)
	}
	if cfg.WhatsAppDBDSN == "" {
		cfg.WhatsAppDBDSN = defaultWhatsAppDSN(cfg.StateDir)
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = coach.DefaultSweepSchedule
	}
	if cfg.Notifier == "" {
		cfg.Notifier = NotifierNone
	}

	slog.Debug("environment variables loaded",
		"CHATMAESTRO_STATE_DIR", cfg.StateDir,
		"DATABASE_DSN_SET", cfg.ApplicationDBDSN != "",
		"WHATSAPP_DB_DSN_SET", cfg.WhatsAppDBDSN != "",
		"CHATMAESTRO_IN_MEMORY", cfg.InMemory,
		"API_ADDR", cfg.APIAddr,
		"SWEEP_SCHEDULE", cfg.SweepSchedule,
		"CHATMAESTRO_NOTIFIER", cfg.Notifier)
	return cfg
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(cfg Config) Flags {
	flags := Flags{
		qrOutput:      flag.String("qr-output", "", "path to write login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:      flag.String("state-dir", cfg.StateDir, "state directory for ChatMaestro data (overrides $CHATMAESTRO_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", cfg.ApplicationDBDSN, "coaching database DSN, SQLite path or Postgres URL (overrides $DATABASE_DSN)"),
		waDBDSN:       flag.String("whatsapp-db-dsn", cfg.WhatsAppDBDSN, "WhatsApp device store DSN (overrides $WHATSAPP_DB_DSN)"),
		inMemory:      flag.Bool("in-memory", cfg.InMemory, "keep coaching data in memory only (overrides $CHATMAESTRO_IN_MEMORY)"),
		apiAddr:       flag.String("api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)"),
		sweepSchedule: flag.String("sweep-cron", cfg.SweepSchedule, "cron schedule of the proactive sweep (overrides $SWEEP_SCHEDULE)"),
		settingsFile:  flag.String("settings-file", cfg.SettingsFile, "YAML file with default coaching settings (overrides $CHATMAESTRO_SETTINGS_FILE)"),
		notifier:      flag.String("notifier", cfg.Notifier, "intervention delivery: none, whatsapp or twilio (overrides $CHATMAESTRO_NOTIFIER)"),
	}
	flag.Parse()

	// Follow a -state-dir override when the DSNs were derived from the old state dir.
	if *flags.stateDir != cfg.StateDir {
		if *flags.dbDSN == filepath.Join(cfg.StateDir, DefaultAppDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultAppDBFileName)
		}
		if *flags.waDBDSN == defaultWhatsAppDSN(cfg.StateDir) {
			*flags.waDBDSN = defaultWhatsAppDSN(*flags.stateDir)
		}
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"inMemory", *flags.inMemory,
		"apiAddr", *flags.apiAddr,
		"sweepSchedule", *flags.sweepSchedule,
		"settingsFile", *flags.settingsFile,
		"notifier", *flags.notifier)
	return flags
}

// openStore picks the coaching store backend from the flags.
func openStore(flags Flags) (store.Store, error) {
	if *flags.inMemory || *flags.dbDSN == "" {
		slog.Info("Using in-memory store; coaching data will not survive a restart")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == store.DSNTypePostgres {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildSender connects the configured notifier. The returned func releases it.
func buildSender(ctx context.Context, flags Flags) (notify.Sender, func(), error) {
	switch *flags.notifier {
	case NotifierNone, "":
		return notify.LogSender{}, func() {}, nil
	case NotifierTwilio:
		c, err := notify.NewTwilioClient()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return c, func() {}, nil
	case NotifierWhatsApp:
		var opts []notify.WhatsAppOption
		if *flags.waDBDSN != "" {
			opts = append(opts, notify.WithDBDSN(*flags.waDBDSN))
		}
		if *flags.qrOutput != "" {
			opts = append(opts, notify.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			opts = append(opts, notify.WithNumericCode())
		}
		c, err := notify.NewWhatsAppClient(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return c, c.Disconnect, nil
	default:
		return nil, nil, fmt.Errorf("unknown notifier %q (want none, whatsapp or twilio)", *flags.notifier)
	}
}

func run(flags Flags) error {
	if err := scheduler.ValidateSpec(*flags.sweepSchedule); err != nil {
		return err
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	settings, err := config.Load(*flags.settingsFile)
	if err != nil {
		return err
	}

	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sender, closeSender, err := buildSender(ctx, flags)
	if err != nil {
		return err
	}
	defer closeSender()

	registry := coach.NewRegistry(st,
		coach.WithProactivityDefaults(settings.Proactivity),
		coach.WithFeedbackDefaults(settings.Feedback))

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	sweeper := coach.NewSweeper(registry, st, sched)
	if err := sweeper.Start(ctx, *flags.sweepSchedule); err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher(sender, st)
	outbox := store.NewOutboxSender(st, dispatcher.Send, 0)
	if err := outbox.RecoverStaleMessages(); err != nil {
		return err
	}
	go outbox.Run(ctx)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(st, registry, sweeper, apiOpts...)

	slog.Info("Bootstrapping ChatMaestro", "state_dir", *flags.stateDir, "notifier", *flags.notifier, "sweep", *flags.sweepSchedule)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("API shutdown failed", "error", err)
		return err
	}
	return nil
}
