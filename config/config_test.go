package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/config"
	"github.com/hirelane/taskcore/queue"
)

func env(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Queues, len(queue.Names))
	assert.Equal(t, 6, cfg.Runtime.BatchSize)
	assert.True(t, cfg.Runtime.SyncEnabled)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantErr   bool
		errString string
	}{
		{name: "valid config file", path: "testdata/taskcore.yaml"},
		{name: "no file uses defaults", path: ""},
		{name: "non-existent file", path: "testdata/nonexistent.yaml", wantErr: true, errString: "config: read"},
		{name: "malformed yaml", path: "testdata/malformed.yaml", wantErr: true, errString: "config: parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParse_MergesQueuesOntoDefaults(t *testing.T) {
	cfg, err := config.Load("testdata/taskcore.yaml")
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Runtime.PollInterval)
	assert.Equal(t, 4, cfg.Runtime.BatchSize)
	assert.False(t, cfg.Runtime.SyncEnabled)
	assert.Equal(t, taskcore.DefaultConfig().SyncBuffer, cfg.Runtime.SyncBuffer, "unset runtime fields keep defaults")

	analysis, ok := cfg.Policy(queue.Analysis)
	require.True(t, ok)
	assert.Equal(t, 3, analysis.Concurrency)
	assert.Equal(t, 30, analysis.RateLimit.Max)
	assert.Equal(t, time.Minute, analysis.RateLimit.Window)
	assert.Equal(t, 3, analysis.MaxAttempts, "unset queue fields keep defaults")

	email, _ := cfg.Policy(queue.Email)
	assert.Equal(t, 8, email.MaxAttempts)
	assert.Equal(t, 5, email.Concurrency)

	reports, ok := cfg.Policy("reports")
	require.True(t, ok, "new queues are appended")
	assert.Equal(t, 1, reports.Concurrency)

	assert.Equal(t, "postgres", cfg.Broker.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestApplyEnv(t *testing.T) {
	cfg := config.Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"OFFER_EMAIL_CONCURRENCY":          "7",
		"OFFER_EMAIL_RATE_LIMIT_MAX":       "40",
		"OFFER_EMAIL_RATE_LIMIT_WINDOW_MS": "30000",
		"OFFER_EMAIL_MAX_ATTEMPTS":         "9",
		"OFFER_EMAIL_BACKOFF_BASE_MS":      "250",
		"BATCH_SIZE":                       "3",
		"SYNC_ENABLED":                     "false",
		"REDIS_URL":                        "redis://cache:6379",
	}))
	require.NoError(t, err)

	p, _ := cfg.Policy(queue.OfferEmail)
	assert.Equal(t, 7, p.Concurrency)
	assert.Equal(t, 40, p.RateLimit.Max)
	assert.Equal(t, 30*time.Second, p.RateLimit.Window)
	assert.Equal(t, 9, p.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, p.Backoff.BaseDelay)
	assert.Equal(t, 3, cfg.Runtime.BatchSize)
	assert.False(t, cfg.Runtime.SyncEnabled)
	assert.Equal(t, "redis://cache:6379", cfg.Redis.URL)

	email, _ := cfg.Policy(queue.Email)
	assert.Equal(t, config.Default().Queues[1].Concurrency, email.Concurrency, "other queues untouched")
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	cfg := config.Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"EMAIL_CONCURRENCY": "many",
		"SYNC_ENABLED":      "perhaps",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMAIL_CONCURRENCY")
	assert.Contains(t, err.Error(), "SYNC_ENABLED")

	email, _ := cfg.Policy(queue.Email)
	assert.Equal(t, 5, email.Concurrency)
}

func TestLoad_EnvFile(t *testing.T) {
	// godotenv never overrides variables that are already set.
	for _, k := range []string{"BATCH_SIZE", "EMAIL_CONCURRENCY"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := config.Load("", filepath.Join("testdata", "test.env"), filepath.Join("testdata", "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Runtime.BatchSize)
	email, _ := cfg.Policy(queue.Email)
	assert.Equal(t, 9, email.Concurrency)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"budget over ceiling", func(c *config.Config) {
			c.Runtime.ExternalCallCeiling = 5 // 2 × 6 = 12
		}, "external call budget exceeded"},
		{"zero concurrency", func(c *config.Config) { c.Queues[0].Concurrency = 0 }, "concurrency must be >= 1"},
		{"unknown broker", func(c *config.Config) { c.Broker.Driver = "kafka" }, "unknown broker driver"},
		{"postgres without dsn", func(c *config.Config) { c.Primary.Driver = config.PrimaryPostgres }, "needs a dsn"},
		{"bad level", func(c *config.Config) { c.Logging.Level = "chatty" }, "unknown level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
