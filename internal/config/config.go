package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	AMQPURL            string        `mapstructure:"AMQP_URL"`
	AMQPExchange       string        `mapstructure:"AMQP_EXCHANGE"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ClinicTimezone     string        `mapstructure:"CLINIC_TIMEZONE"`
	DefaultSlotMinutes int           `mapstructure:"DEFAULT_SLOT_MINUTES"`
	ReminderCron       string        `mapstructure:"REMINDER_CRON"`
	ReminderLead       time.Duration `mapstructure:"REMINDER_LEAD"`
	MigrationsDir      string        `mapstructure:"MIGRATIONS_DIR"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "AMQP_URL", "AMQP_EXCHANGE",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"CLINIC_TIMEZONE", "DEFAULT_SLOT_MINUTES", "REMINDER_CRON", "REMINDER_LEAD",
	"MIGRATIONS_DIR",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("AMQP_EXCHANGE", "teleclinic.appointments")
	v.SetDefault("AUTH_AUDIENCE", "teleclinic-api")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("DEFAULT_SLOT_MINUTES", 30)
	v.SetDefault("REMINDER_CRON", "*/5 * * * *")
	v.SetDefault("REMINDER_LEAD", "24h")
	v.SetDefault("MIGRATIONS_DIR", "migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// The slice decode hook keeps surrounding spaces; split again.
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	// Development falls back to the in-memory store.
	if cfg.DatabaseURL == "" && !cfg.IsDev() {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location loads the clinic time zone. Call Validate first.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT signing key is mandatory.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_SIGNING_KEY must be set when ENV=%q. "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}

	if _, err := time.LoadLocation(c.ClinicTimezone); err != nil {
		return fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	if c.DefaultSlotMinutes <= 0 {
		return fmt.Errorf("DEFAULT_SLOT_MINUTES must be positive, got %d", c.DefaultSlotMinutes)
	}

	if _, err := cron.ParseStandard(c.ReminderCron); err != nil {
		return fmt.Errorf("REMINDER_CRON %q: %w", c.ReminderCron, err)
	}
	if c.ReminderLead <= 0 {
		return fmt.Errorf("REMINDER_LEAD must be positive, got %s", c.ReminderLead)
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	return nil
}
