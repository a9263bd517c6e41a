// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration loaded from files, env
// (COHORTSYNC_*) and flags.
type AppConfig struct {
	// MongoDB
	MongoURI         string
	MongoDatabase    string
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Bearer tokens for the commerce hooks and the admin API.
	HooksToken string
	AdminToken string

	// Requests per client IP per minute on /hooks and /groups; 0 disables.
	RateLimitPerMinute int

	// Propagation
	DeactivateOnStatusChange bool
	ReconcileParallelism     int
	ReconcileSchedule        string
	ReconcileWindow          time.Duration
	ReconcileTimeout         time.Duration

	// Notifications
	NotifyMode        string // sync, queue, off
	SiteName          string
	BaseURL           string
	QueuePollInterval time.Duration
	QueueBatchSize    int
	QueueMaxAttempts  int
	QueueRetention    time.Duration

	// Mail transport
	MailTransport  string // smtp, resend, sendgrid, log
	MailSMTPHost   string
	MailSMTPPort   int
	MailSMTPUser   string
	MailSMTPPass   string
	ResendAPIKey   string
	SendGridAPIKey string
	MailFrom       string
	MailFromName   string

	// Audit logging: all, db, log, off
	AuditLogSync   string
	AuditLogHook   string
	AuditLogAdmin  string
	AuditRetention time.Duration

	// OpenTelemetry collector endpoint; blank disables tracing.
	OTelEndpoint string
}
