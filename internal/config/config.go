package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; DATABASE_URL and APP_ENCRYPTION_KEY
// are required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Credential vault secret. Rotating it invalidates every stored
	// integration config.
	EncryptionKey string

	// Businesses served by the scheduler loop in cmd/server.
	BusinessIDs   []int64
	DispatchLimit int

	// Per-run send caps, keyed by channel. Zero means uncapped.
	ChannelRunLimits map[domain.Channel]int

	// Claims older than ClaimLease are treated as abandoned by a crashed run.
	ClaimLease time.Duration

	// Retry policy for failed sends. RetryMaxAttempts <= 1 disables retries.
	RetryMaxAttempts int
	RetryBackoff     []time.Duration

	// Channel providers
	ProviderTimeout time.Duration
	RateLimit       int
	ClickatellURL   string
	TwilioBaseURL   string
	MetaGraphURL    string

	// Delivery log retention
	ExportDir       string
	ExportDays      int
	RetentionDays   int
	DisplayTimezone string

	// Reminder templates
	BusinessName string

	// Background worker poll intervals
	SchedulerInterval  time.Duration
	LeaseSweepInterval time.Duration
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 2)),

		EncryptionKey: os.Getenv("APP_ENCRYPTION_KEY"),

		BusinessIDs:   getInt64List("BUSINESS_IDS", []int64{domain.DefaultBusinessID}),
		DispatchLimit: getInt("DISPATCH_LIMIT", 100),

		ChannelRunLimits: map[domain.Channel]int{
			domain.ChannelEmail:    getInt("EMAIL_RUN_LIMIT", 100),
			domain.ChannelSMS:      getInt("SMS_RUN_LIMIT", 60),
			domain.ChannelWhatsApp: getInt("WHATSAPP_RUN_LIMIT", 60),
		},

		ClaimLease: getDuration("CLAIM_LEASE", 15*time.Minute),

		RetryMaxAttempts: getInt("RETRY_MAX_ATTEMPTS", 1),
		RetryBackoff: []time.Duration{
			getDuration("RETRY_BACKOFF_1", 1*time.Minute),
			getDuration("RETRY_BACKOFF_2", 2*time.Minute),
			getDuration("RETRY_BACKOFF_3", 4*time.Minute),
		},

		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 15*time.Second),
		RateLimit:       getInt("RATE_LIMIT_PER_CHANNEL", 10),
		ClickatellURL:   getEnv("CLICKATELL_URL", "https://platform.clickatell.com/v1/message"),
		TwilioBaseURL:   getEnv("TWILIO_BASE_URL", "https://api.twilio.com/2010-04-01"),
		MetaGraphURL:    getEnv("META_GRAPH_URL", "https://graph.facebook.com/v20.0"),

		ExportDir:       getEnv("EXPORT_DIR", "writable/exports"),
		ExportDays:      getInt("EXPORT_DAYS", 30),
		RetentionDays:   getInt("RETENTION_DAYS", 90),
		DisplayTimezone: getEnv("DISPLAY_TIMEZONE", "UTC"),

		BusinessName: getEnv("BUSINESS_NAME", ""),

		SchedulerInterval:  getDuration("SCHEDULER_INTERVAL", time.Minute),
		LeaseSweepInterval: getDuration("LEASE_SWEEP_INTERVAL", 5*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DatabaseURL, validation.Required.Error("DATABASE_URL is required")),
		validation.Field(&c.EncryptionKey,
			validation.Required.Error("APP_ENCRYPTION_KEY is required"),
			validation.Length(16, 0).Error("APP_ENCRYPTION_KEY must be at least 16 characters")),
		validation.Field(&c.HTTPPort, is.Port),
		validation.Field(&c.BusinessIDs, validation.Required, validation.Each(validation.Min(int64(1)))),
		validation.Field(&c.DispatchLimit, validation.Min(1), validation.Max(500)),
		validation.Field(&c.ClaimLease, validation.Min(time.Minute), validation.By(func(any) error {
			if c.ClaimLease < 2*c.ProviderTimeout {
				return validation.NewError("validation_claim_lease", "must be at least twice PROVIDER_TIMEOUT")
			}
			return nil
		})),
		validation.Field(&c.RetryMaxAttempts, validation.Min(1), validation.Max(10)),
		validation.Field(&c.RateLimit, validation.Min(1)),
		validation.Field(&c.SchedulerInterval, validation.Min(time.Second)),
		validation.Field(&c.LeaseSweepInterval, validation.Min(time.Second)),
		validation.Field(&c.DisplayTimezone, validation.By(func(any) error {
			_, err := time.LoadLocation(c.DisplayTimezone)
			return err
		})),
	)
}

// Location returns the zone reminder dates and times are rendered in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getInt64List(key string, defaultVal []int64) []int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []int64
	for _, part := range strings.Split(v, ",") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return defaultVal
		}
		out = append(out, n)
	}
	return out
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
