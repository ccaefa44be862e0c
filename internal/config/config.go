package config

import (
	"errors"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	BaseURL     string `envconfig:"BASE_URL" default:"http://localhost:8080"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	SessionSecret string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"168h"`

	ApprovalTokenTTL time.Duration `envconfig:"APPROVAL_TOKEN_TTL" default:"1h"`
	ResetTokenTTL    time.Duration `envconfig:"RESET_TOKEN_TTL" default:"1h"`

	// StaffAutoApprove controls whether recruiter/partner accounts created
	// by a tenant admin start approved or must pass operator review.
	StaffAutoApprove bool `envconfig:"STAFF_AUTO_APPROVE" default:"true"`

	RateBurst  int `envconfig:"RATE_BURST" default:"20"`
	RatePerSec int `envconfig:"RATE_PER_SEC" default:"10"`

	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom     string `envconfig:"SMTP_FROM"`
	SMTPFromName string `envconfig:"SMTP_FROM_NAME"`
	SMTPTLS      bool   `envconfig:"SMTP_TLS" default:"true"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// .env file is optional, mainly for local development
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if len(cfg.SessionSecret) < 32 {
		return nil, errors.New("SESSION_SECRET must be at least 32 characters")
	}
	return &cfg, nil
}

// SMTPEnabled reports whether an outbound mail transport is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}
