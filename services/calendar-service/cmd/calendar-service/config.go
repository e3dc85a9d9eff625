package main

import (
	"time"

	otelx "github.com/fitdesk/leadcal/libs/otel"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/calsync"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/consumer"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/events"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/hours"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/outbox"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/reminders"
)

// Config is read from CALENDAR_-prefixed variables; every key also accepts its bare name
// (PORT, DATABASE_URL, KAFKA_BROKERS, ...).
type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"calendar-service"`
	Port        string `envconfig:"PORT" default:"8090"`
	GRPCPort    string `envconfig:"GRPC_PORT" default:"9090"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`

	RedisAddr         string        `envconfig:"REDIS_ADDR"`
	RedisPassword     string        `envconfig:"REDIS_PASSWORD"`
	RateLimit         int           `envconfig:"RATE_LIMIT" default:"120"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitFailOpen bool          `envconfig:"RATE_LIMIT_FAIL_OPEN" default:"true"`
	CORSOrigins       []string      `envconfig:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`

	LeadsAPIURL     string        `envconfig:"LEADS_API_URL"`
	LeadsAPITimeout time.Duration `envconfig:"LEADS_API_TIMEOUT" default:"3s"`
	LeadCacheSize   int           `envconfig:"LEAD_CACHE_SIZE" default:"4096"`
	InboxSize       int           `envconfig:"INBOX_CACHE_SIZE" default:"10000"`

	SMTPHost        string `envconfig:"SMTP_HOST" default:"mailpit"`
	SMTPPort        string `envconfig:"SMTP_PORT" default:"1025"`
	SMTPFrom        string `envconfig:"SMTP_FROM" default:"agenda@fitdesk.local"`
	SMSWebhookURL   string `envconfig:"SMS_WEBHOOK_URL"`
	SMSWebhookToken string `envconfig:"SMS_WEBHOOK_TOKEN"`

	SyncDefaultProvider string            `envconfig:"SYNC_DEFAULT_PROVIDER" default:"google"`
	SyncProviders       []string          `envconfig:"SYNC_PROVIDERS" default:"google,outlook,apple"`
	SyncWebhooks        map[string]string `envconfig:"SYNC_WEBHOOKS"`
	SyncWebhookToken    string            `envconfig:"SYNC_WEBHOOK_TOKEN"`
	SyncTimeout         time.Duration     `envconfig:"SYNC_TIMEOUT" default:"5s"`
	SyncAllowFallback   bool              `envconfig:"SYNC_ALLOW_FALLBACK" default:"true"`

	Hours     hours.WorkingHours
	Events    events.Config
	Reminders reminders.Config
	SyncRetry calsync.RetryConfig
	Outbox    outbox.PublisherConfig
	Consumer  consumer.Config
	Otel      otelx.Config
}
