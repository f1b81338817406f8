package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// YesNo parses the "YES"/"NO" switches used by the mail relay settings.
// Anything other than a case-insensitive "YES" (or "true"/"1") is false.
type YesNo bool

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (b *YesNo) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "yes", "y", "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver         string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"./database/migrations"`
	MongoURI       string `env:"MONGO_URI"`
	MongoDatabase  string `env:"MONGO_DATABASE" envDefault:"bulkmailer"`
}

// MailConfig selects and configures the outbound mail transport.
type MailConfig struct {
	Driver    string `env:"MAIL_DRIVER" envDefault:"smtp"`
	FromEmail string `env:"FROM_EMAIL"`

	// SMTP relay
	MailHub       string `env:"MAILHUB"`
	AuthUser      string `env:"AUTHUSER"`
	AuthPass      string `env:"AUTHPASS"`
	UseTLS        YesNo  `env:"USETLS"`
	SkipTLSVerify YesNo  `env:"SKIP_TLS_VERIFY"`

	// Amazon SES
	AWSRegion string `env:"AWS_REGION"`

	// Resend
	ResendAPIKey string `env:"RESEND_API_KEY"`

	// Postmark
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
}

// Config holds all application configurations
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	StaticDir      string `env:"STATIC_DIR" envDefault:"./web"`
	UploadDir      string `env:"UPLOAD_DIR" envDefault:"./uploads"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`

	DailyMailLimit      int           `env:"DAILY_MAIL_LIMIT" envDefault:"2000"`
	Timezone            string        `env:"TIMEZONE" envDefault:"UTC"`
	DispatchConcurrency int           `env:"DISPATCH_CONCURRENCY" envDefault:"1"`
	SourcePolicy        string        `env:"ADDRESS_SOURCE_POLICY" envDefault:"overwrite"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Store StoreConfig
	Mail  MailConfig
}

// LoadConfig reads configuration from the environment, loading a .env file first if present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables directly.")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location resolves the configured time zone used for "today" windows.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks that the selected drivers have what they need.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case "mongo":
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo store"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver))
	}

	switch c.Mail.Driver {
	case "smtp":
		if c.Mail.MailHub == "" {
			errs = append(errs, errors.New("MAILHUB is required for the smtp transport"))
		}
	case "ses":
		if c.Mail.AWSRegion == "" {
			errs = append(errs, errors.New("AWS_REGION is required for the ses transport"))
		}
	case "resend":
		if c.Mail.ResendAPIKey == "" {
			errs = append(errs, errors.New("RESEND_API_KEY is required for the resend transport"))
		}
	case "postmark":
		if c.Mail.PostmarkServerToken == "" {
			errs = append(errs, errors.New("POSTMARK_SERVER_TOKEN is required for the postmark transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_DRIVER %q", c.Mail.Driver))
	}

	if c.Mail.FromEmail == "" && c.Mail.AuthUser == "" {
		errs = append(errs, errors.New("FROM_EMAIL is required"))
	}

	switch c.SourcePolicy {
	case "overwrite", "first_seen":
	default:
		errs = append(errs, fmt.Errorf("unknown ADDRESS_SOURCE_POLICY %q", c.SourcePolicy))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err))
	}
	if c.DispatchConcurrency < 1 {
		c.DispatchConcurrency = 1
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}

	return errors.Join(errs...)
}

// Sender returns the From address. The relay login doubles as sender when FROM_EMAIL is unset.
func (m MailConfig) Sender() string {
	if m.FromEmail != "" {
		return m.FromEmail
	}
	return m.AuthUser
}
