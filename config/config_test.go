package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFailsClosedInProduction(t *testing.T) {
	cfg := Config{Env: "production", CronSecret: ""}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRON_SECRET")
}

func TestValidateAllowsMissingSecretOutsideProduction(t *testing.T) {
	for _, env := range []string{"development", "dev", "staging", ""} {
		cfg := Config{Env: env, CronSecret: ""}
		assert.NoError(t, cfg.Validate(), "env=%q", env)
	}
}

func TestValidatePassesWithSecret(t *testing.T) {
	cfg := Config{Env: "production", CronSecret: "s3cret"}
	assert.NoError(t, cfg.Validate())
}

func TestIsProduction(t *testing.T) {
	assert.True(t, Config{Env: "production"}.IsProduction())
	assert.False(t, Config{Env: "development"}.IsProduction())
	assert.False(t, Config{Env: ""}.IsProduction())
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"ENV", "PORT", "DB_NAME", "CRON_SECRET", "REFERRALS_ENABLED", "JOB_LOCK_TTL", "PAYABLE_DELAY"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memberly", cfg.DBName)
	assert.True(t, cfg.ReferralsEnabled)
	assert.Equal(t, 30*time.Minute, cfg.JobLockTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.PayableDelay)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("CRON_SECRET", "s3cret")
	t.Setenv("REFERRALS_ENABLED", "false")
	t.Setenv("JOB_LOCK_TTL", "10m")
	t.Setenv("PAYABLE_DELAY", "72h")

	cfg := Load()
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "s3cret", cfg.CronSecret)
	assert.False(t, cfg.ReferralsEnabled)
	assert.Equal(t, 10*time.Minute, cfg.JobLockTTL)
	assert.Equal(t, 72*time.Hour, cfg.PayableDelay)
}
