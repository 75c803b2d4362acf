package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/provider-outreach/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"

database:
  url: "postgres://outreach@localhost/outreach?sslmode=disable"
  max_open_conns: 20

discovery:
  places_api_key: "places-key"
  tier_c_timeout_seconds: 12
  safety_factor: 2

scoring:
  weights:
    category: 0.5
    distance: 0.3
    budget: 0.1
    reputation: 0.1

outreach:
  public_base_url: "https://outreach.example.com"
  channel_limits:
    email:
      concurrency: 4
      per_second: 10
      burst: 5
  window_limits:
    sms:
      per_minute: 30
      per_day: 1000
  templates:
    sms_body: "Job: {{ job.category }}"

campaign:
  min_score: 55
  window_hours:
    emergency: 2
  initial_channels: [email]
  max_resends: 0
  poll_interval_seconds: 10
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.Equal(t, 3, cfg.Database.MaxIdleConns)

	assert.True(t, cfg.Discovery.TierCEnabled())
	assert.Equal(t, 12*time.Second, cfg.Discovery.TierCTimeout())
	assert.Equal(t, 2.0, cfg.Discovery.SafetyFactor)
	assert.Equal(t, 0.5, cfg.Scoring.Weights.Category)

	assert.Equal(t, 4, cfg.Outreach.ChannelLimits[domain.ChannelEmail].Concurrency)
	assert.Equal(t, 30, cfg.Outreach.WindowLimits[domain.ChannelSMS].PerMinute)
	assert.Equal(t, "Job: {{ job.category }}", cfg.Outreach.Templates.SMSBody)

	assert.Equal(t, 10*time.Second, cfg.Campaign.PollInterval())

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, 55.0, p.MinScore)
	assert.Equal(t, 2*time.Hour, p.Windows[domain.UrgencyEmergency])
	assert.Equal(t, 24*time.Hour, p.Windows[domain.UrgencyUrgent])
	assert.Equal(t, []domain.Channel{domain.ChannelEmail}, p.InitialChannels)
	assert.Equal(t, 0, p.MaxResends, "explicit zero disables resends")
	assert.Equal(t, 2, p.MaxOvertime)
}

func TestLoadDefaults(t *testing.T) {
	configPath := writeConfig(t, "{}\n")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "us-west-2", cfg.AWS.Region)
	assert.Equal(t, "us-west-2", cfg.SES.Region)
	assert.Equal(t, "Ignite Jobs", cfg.Outreach.SenderName)
	assert.False(t, cfg.Discovery.TierCEnabled())
	assert.Equal(t, 30*time.Second, cfg.Discovery.TierCTimeout())
	assert.Equal(t, 24*time.Hour, cfg.Geocode.CacheTTL())
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime())
	assert.Equal(t, "outreach", cfg.Archive.Prefix)

	rp := cfg.Outreach.RetryPolicy()
	assert.Equal(t, 3, rp.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, rp.BaseDelay)
	assert.Equal(t, 10*time.Second, rp.MaxDelay)
	assert.Equal(t, 15*time.Second, cfg.Outreach.DispatcherConfig().SendTimeout)

	sc := cfg.Campaign.SchedulerConfig()
	assert.Equal(t, 30*time.Second, sc.PollInterval)
	assert.Equal(t, 50, sc.BatchSize)
	assert.Equal(t, 2*time.Minute, sc.EvaluateTimeout)
	assert.Equal(t, 15*time.Second, cfg.Database.StatementTimeout())

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Len(t, p.Milestones, 4)
	assert.Equal(t, 40.0, p.MinScore)
	assert.Equal(t, 2, p.MaxResends)
}

func TestPolicyRejectsBadValues(t *testing.T) {
	t.Run("unknown urgency", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "campaign:\n  window_hours:\n    someday: 5\n"))
		require.NoError(t, err)
		_, err = cfg.Policy()
		assert.ErrorContains(t, err, "someday")
	})

	t.Run("milestones out of order", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, `
campaign:
  milestones:
    - {at: 0.5, expected: 0.4}
    - {at: 0.25, expected: 0.6}
`))
		require.NoError(t, err)
		_, err = cfg.Policy()
		assert.ErrorContains(t, err, "campaign policy")
	})
}

func TestLoadFromEnv(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 8080
tracking:
  webhook_secret: "from-file"
`)

	t.Setenv("PORT", "9191")
	t.Setenv("DATABASE_URL", "postgres://env@db/outreach")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("PLACES_API_KEY", "env-places-key")
	t.Setenv("SMS_API_KEY", "env-sms-key")
	t.Setenv("TRACKING_QUEUE_URL", "https://sqs.us-west-2.amazonaws.com/123/outreach-responses")
	t.Setenv("WEBHOOK_SECRET", "from-env")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "postgres://env@db/outreach", cfg.Database.URL)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
	assert.Equal(t, "env-places-key", cfg.Discovery.PlacesAPIKey)
	assert.Equal(t, "env-sms-key", cfg.SMS.APIKey)
	assert.Equal(t, "https://sqs.us-west-2.amazonaws.com/123/outreach-responses", cfg.Tracking.QueueURL)
	assert.Equal(t, "from-env", cfg.Tracking.WebhookSecret)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestGetHost(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("SERVER_HOST", "")
	c := ServerConfig{Host: "localhost", Port: 8080}
	assert.Equal(t, "localhost:8080", c.Addr())

	t.Setenv("AWS_EXECUTION_ENV", "AWS_ECS_FARGATE")
	assert.Equal(t, "0.0.0.0", c.GetHost())
}
