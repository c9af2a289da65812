// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every environment-derived setting the application needs.
// It is built once in main() and injected into repositories, jobs and
// controllers so that no component reads the environment at call time.
type Config struct {
	Env     string // "production", "development", "dev"
	Port    string
	DBName  string
	BaseURL string // used to build shareable referral links

	// CronSecret authorizes scheduled/manual invocations of background jobs.
	// Required in production; optional elsewhere.
	CronSecret string

	// ReferralsEnabled switches the whole referral subsystem on/off. When
	// off, every referral endpoint answers 503.
	ReferralsEnabled bool

	// JobLockTTL is how long a job lock may sit unrefreshed before a later
	// run is allowed to steal it.
	JobLockTTL time.Duration

	// PayableDelay is the clawback/chargeback window between qualification
	// and payable promotion.
	PayableDelay time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	EmailFrom    string
}

// Load reads the configuration from the environment. godotenv has already
// populated the environment in main() when a .env file is present.
func Load() Config {
	cfg := Config{
		Env:              getEnv("ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DBName:           getEnv("DB_NAME", "memberly"),
		BaseURL:          getEnv("BASE_URL", "https://memberly.app"),
		CronSecret:       os.Getenv("CRON_SECRET"),
		ReferralsEnabled: getEnvBool("REFERRALS_ENABLED", true),
		JobLockTTL:       getEnvDuration("JOB_LOCK_TTL", 30*time.Minute),
		PayableDelay:     getEnvDuration("PAYABLE_DELAY", 7*24*time.Hour),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         getEnvInt("SMTP_PORT", 587),
		SMTPUser:         os.Getenv("SMTP_USER"),
		SMTPPassword:     os.Getenv("SMTP_PASSWORD"),
		EmailFrom:        getEnv("EMAIL_FROM", "payouts@memberly.app"),
	}
	return cfg
}

// Validate fails closed on configuration that must never be missing in
// production. A production deployment without a cron secret would let anyone
// trigger settlement jobs, so startup is refused instead.
func (c Config) Validate() error {
	if c.IsProduction() && c.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET is required when ENV=%s", c.Env)
	}
	return nil
}

// IsProduction reports whether the app runs with production policies.
func (c Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "release"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
