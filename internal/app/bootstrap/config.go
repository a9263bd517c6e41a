// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/cohortsync/internal/app/cohort/notify"
	"github.com/dalemusser/cohortsync/internal/app/system/mailer"
	"github.com/dalemusser/cohortsync/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for cohortsync.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, notify_mode, etc.
//   - Environment variables: COHORTSYNC_MONGO_URI, COHORTSYNC_NOTIFY_MODE, etc.
//   - Command-line flags: --mongo_uri, --notify_mode, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "cohortsync", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	// API tokens
	{Name: "hooks_token", Default: "", Desc: "Bearer token the commerce platform sends to /hooks (blank rejects all)"},
	{Name: "admin_token", Default: "", Desc: "Bearer token for the /groups admin API (blank rejects all)"},
	{Name: "rate_limit_per_minute", Default: 600, Desc: "Requests per client IP per minute on /hooks and /groups (0 disables)"},

	// Propagation
	{Name: "deactivate_on_status_change", Default: false, Desc: "Demote enrollments when a group leaves published or an order leaves completed"},
	{Name: "reconcile_parallelism", Default: 4, Desc: "Groups reconciled concurrently by an order event or the reconcile job"},
	{Name: "reconcile_schedule", Default: "@every 1h", Desc: "Cron schedule for the reconcile job (blank disables)"},
	{Name: "reconcile_window", Default: "24h", Desc: "Reconcile groups updated within this window"},
	{Name: "reconcile_timeout", Default: "10m", Desc: "Upper bound on one reconcile run"},

	// Notifications
	{Name: "notify_mode", Default: "sync", Desc: "Notification delivery: 'sync', 'queue', or 'off'"},
	{Name: "site_name", Default: "Cohort Sync", Desc: "Site name used in notification emails"},
	{Name: "base_url", Default: "http://localhost:3000", Desc: "Base URL for links in notification emails"},
	{Name: "queue_poll_interval", Default: "10s", Desc: "Delivery worker poll interval (queue mode)"},
	{Name: "queue_batch_size", Default: 50, Desc: "Max notifications sent per worker tick"},
	{Name: "queue_max_attempts", Default: 5, Desc: "Send attempts before a queued notification is marked failed"},
	{Name: "queue_retention", Default: "720h", Desc: "Keep delivered notifications this long"},

	// Mail transport
	{Name: "mail_transport", Default: "smtp", Desc: "Mail transport: 'smtp', 'resend', 'sendgrid', or 'log'"},
	{Name: "mail_smtp_host", Default: "localhost", Desc: "SMTP server host"},
	{Name: "mail_smtp_port", Default: 1025, Desc: "SMTP server port"},
	{Name: "mail_smtp_user", Default: "", Desc: "SMTP username"},
	{Name: "mail_smtp_pass", Default: "", Desc: "SMTP password"},
	{Name: "resend_api_key", Default: "", Desc: "Resend API key (mail_transport=resend)"},
	{Name: "sendgrid_api_key", Default: "", Desc: "SendGrid API key (mail_transport=sendgrid)"},
	{Name: "mail_from", Default: "noreply@example.com", Desc: "From email address"},
	{Name: "mail_from_name", Default: "Cohort Sync", Desc: "From display name"},

	// Audit logging
	{Name: "audit_log_sync", Default: "all", Desc: "Sync event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_hook", Default: "all", Desc: "Hook event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_admin", Default: "all", Desc: "Admin event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_retention", Default: "0s", Desc: "Prune audit events older than this (0 keeps everything)"},

	// Tracing
	{Name: "otel_endpoint", Default: "", Desc: "OTLP/HTTP collector endpoint (blank disables tracing)"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, COHORTSYNC_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "COHORTSYNC", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	if n := timeouts.ConfigureFromEnv(); n > 0 {
		logger.Info("timeouts configured from environment", zap.Int("count", n))
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		HooksToken: appValues.String("hooks_token"),
		AdminToken: appValues.String("admin_token"),

		RateLimitPerMinute: appValues.Int("rate_limit_per_minute"),

		DeactivateOnStatusChange: appValues.Bool("deactivate_on_status_change"),
		ReconcileParallelism:     appValues.Int("reconcile_parallelism"),
		ReconcileSchedule:        appValues.String("reconcile_schedule"),
		ReconcileWindow:          appValues.Duration("reconcile_window", 24*time.Hour),
		ReconcileTimeout:         appValues.Duration("reconcile_timeout", 10*time.Minute),

		NotifyMode:        strings.ToLower(strings.TrimSpace(appValues.String("notify_mode"))),
		SiteName:          appValues.String("site_name"),
		BaseURL:           appValues.String("base_url"),
		QueuePollInterval: appValues.Duration("queue_poll_interval", 10*time.Second),
		QueueBatchSize:    appValues.Int("queue_batch_size"),
		QueueMaxAttempts:  appValues.Int("queue_max_attempts"),
		QueueRetention:    appValues.Duration("queue_retention", 30*24*time.Hour),

		MailTransport:  strings.ToLower(strings.TrimSpace(appValues.String("mail_transport"))),
		MailSMTPHost:   appValues.String("mail_smtp_host"),
		MailSMTPPort:   appValues.Int("mail_smtp_port"),
		MailSMTPUser:   appValues.String("mail_smtp_user"),
		MailSMTPPass:   appValues.String("mail_smtp_pass"),
		ResendAPIKey:   appValues.String("resend_api_key"),
		SendGridAPIKey: appValues.String("sendgrid_api_key"),
		MailFrom:       appValues.String("mail_from"),
		MailFromName:   appValues.String("mail_from_name"),

		AuditLogSync:   appValues.String("audit_log_sync"),
		AuditLogHook:   appValues.String("audit_log_hook"),
		AuditLogAdmin:  appValues.String("audit_log_admin"),
		AuditRetention: appValues.Duration("audit_retention", 0),

		OTelEndpoint: appValues.String("otel_endpoint"),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// Missing tokens only warn: the matching routes then reject every request.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if appCfg.MongoDatabase == "" {
		return fmt.Errorf("mongo_database is required")
	}

	switch appCfg.NotifyMode {
	case notify.ModeSync, notify.ModeQueue, notify.ModeOff:
	default:
		return fmt.Errorf("notify_mode must be sync, queue, or off (got %q)", appCfg.NotifyMode)
	}

	if appCfg.NotifyMode != notify.ModeOff {
		switch appCfg.MailTransport {
		case mailer.TransportSMTP, "":
			if appCfg.MailSMTPHost == "" {
				return fmt.Errorf("mail_transport smtp requires mail_smtp_host")
			}
		case mailer.TransportResend:
			if appCfg.ResendAPIKey == "" {
				return fmt.Errorf("mail_transport resend requires resend_api_key")
			}
		case mailer.TransportSendGrid:
			if appCfg.SendGridAPIKey == "" {
				return fmt.Errorf("mail_transport sendgrid requires sendgrid_api_key")
			}
		case mailer.TransportLog:
		default:
			return fmt.Errorf("unknown mail_transport %q", appCfg.MailTransport)
		}
		if appCfg.MailFrom == "" {
			return fmt.Errorf("mail_from is required when notifications are enabled")
		}
	}

	if appCfg.ReconcileParallelism < 1 {
		return fmt.Errorf("reconcile_parallelism must be at least 1")
	}
	if appCfg.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate_limit_per_minute must not be negative")
	}
	if appCfg.QueueMaxAttempts < 1 {
		return fmt.Errorf("queue_max_attempts must be at least 1")
	}
	if appCfg.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(appCfg.ReconcileSchedule); err != nil {
			return fmt.Errorf("invalid reconcile_schedule: %w", err)
		}
	}

	if appCfg.HooksToken == "" {
		logger.Warn("hooks_token is not set; commerce hooks will reject every request")
	}
	if appCfg.AdminToken == "" {
		logger.Warn("admin_token is not set; the admin API will reject every request")
	}
	return nil
}
