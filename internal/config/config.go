package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/provider-outreach/internal/campaign"
	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/outreach"
	"github.com/ignite/provider-outreach/internal/pkg/retry"
	"github.com/ignite/provider-outreach/internal/scoring"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	AWS       AWSConfig       `yaml:"aws"`
	SES       SESConfig       `yaml:"ses"`
	SMS       SMSConfig       `yaml:"sms"`
	WebForm   WebFormConfig   `yaml:"web_form"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Geocode   GeocodeConfig   `yaml:"geocode"`
	Bedrock   BedrockConfig   `yaml:"bedrock"`
	Geo       GeoConfig       `yaml:"geo"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Outreach  OutreachConfig  `yaml:"outreach"`
	Campaign  CampaignConfig  `yaml:"campaign"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Tracking  TrackingConfig  `yaml:"tracking"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// AllowedOrigins feed the CORS middleware; empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr is host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the PostgreSQL connection. An empty URL runs the
// service on the in-memory store.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	// StatementTimeoutSeconds bounds every query server-side.
	StatementTimeoutSeconds int `yaml:"statement_timeout_seconds"`
}

func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

func (c DatabaseConfig) StatementTimeout() time.Duration {
	return time.Duration(c.StatementTimeoutSeconds) * time.Second
}

// RedisConfig enables distributed locks, send quotas and the geocode cache.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type AWSConfig struct {
	Region string `yaml:"region"`
}

// SESConfig holds the email channel settings
type SESConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	FromName         string `yaml:"from_name"`
	FromEmail        string `yaml:"from_email"`
	ReplyDomain      string `yaml:"reply_domain"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// SMSConfig holds the SMS gateway settings
type SMSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	From              string `yaml:"from"`
	StatusCallbackURL string `yaml:"status_callback_url"`
}

type WebFormConfig struct {
	Enabled   bool    `yaml:"enabled"`
	UserAgent string  `yaml:"user_agent"`
	HostRPS   float64 `yaml:"host_rps"`
	HostBurst int     `yaml:"host_burst"`
}

// DiscoveryConfig covers the tier matchers and the places provider used for
// Tier-C.
type DiscoveryConfig struct {
	PlacesBaseURL      string  `yaml:"places_base_url"`
	PlacesAPIKey       string  `yaml:"places_api_key"`
	PageSize           int     `yaml:"page_size"`
	MaxPages           int     `yaml:"max_pages"`
	TierCTimeoutSecs   int     `yaml:"tier_c_timeout_seconds"`
	EnrichConcurrency  int     `yaml:"enrich_concurrency"`
	EnrichRPS          float64 `yaml:"enrich_rps"`
	SafetyFactor       float64 `yaml:"safety_factor"`
	HTTPTimeoutSeconds int     `yaml:"http_timeout_seconds"`
	MaxRetries         int     `yaml:"max_retries"`
}

// TierCTimeout bounds one external discovery call
func (c DiscoveryConfig) TierCTimeout() time.Duration {
	return time.Duration(c.TierCTimeoutSecs) * time.Second
}

func (c DiscoveryConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// TierCEnabled reports whether live external discovery is configured.
func (c DiscoveryConfig) TierCEnabled() bool {
	return c.PlacesAPIKey != ""
}

type GeocodeConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	CacheTTLMinutes int    `yaml:"cache_ttl_minutes"`
}

func (c GeocodeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c GeocodeConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// BedrockConfig enables LLM extraction of specialties from provider sites.
type BedrockConfig struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
	ModelID string `yaml:"model_id"`
}

type GeoConfig struct {
	RadiusStages []float64 `yaml:"radius_stages"`
}

type ScoringConfig struct {
	Weights      scoring.Weights `yaml:"weights"`
	HalfDistance float64         `yaml:"half_distance_miles"`
	MaxDistance  float64         `yaml:"max_distance_miles"`
}

// OutreachConfig holds message composition, throttling and dispatch settings.
type OutreachConfig struct {
	PublicBaseURL  string                                    `yaml:"public_base_url"`
	SenderName     string                                    `yaml:"sender_name"`
	SenderPhone    string                                    `yaml:"sender_phone"`
	Templates      outreach.Templates                        `yaml:"templates"`
	ChannelLimits  map[domain.Channel]outreach.ChannelLimit  `yaml:"channel_limits"`
	WindowLimits   map[domain.Channel]outreach.WindowLimit   `yaml:"window_limits"`
	MaxAttempts    int                                       `yaml:"max_attempts"`
	RetryBaseMs    int                                       `yaml:"retry_base_ms"`
	RetryMaxMs     int                                       `yaml:"retry_max_ms"`
	SendTimeoutSec int                                       `yaml:"send_timeout_seconds"`
	Parallelism    int                                       `yaml:"parallelism"`
}

func (c OutreachConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSec) * time.Second
}

// RetryPolicy builds the per-send retry policy.
func (c OutreachConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   time.Duration(c.RetryBaseMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.RetryMaxMs) * time.Millisecond,
	}
}

// DispatcherConfig converts to the dispatcher's settings.
func (c OutreachConfig) DispatcherConfig() outreach.DispatcherConfig {
	return outreach.DispatcherConfig{
		Retry:       c.RetryPolicy(),
		SendTimeout: c.SendTimeout(),
		Parallelism: c.Parallelism,
	}
}

// CampaignConfig holds the lifecycle policy and the check-in scheduler.
type CampaignConfig struct {
	Milestones           []campaign.Milestone       `yaml:"milestones"`
	WindowHours          map[domain.Urgency]float64 `yaml:"window_hours"`
	MinScore             float64                    `yaml:"min_score"`
	TierShares           map[domain.Tier]float64    `yaml:"tier_shares"`
	InitialChannels      []domain.Channel           `yaml:"initial_channels"`
	ResendCooldownMins   int                        `yaml:"resend_cooldown_minutes"`
	MaxResends           *int                       `yaml:"max_resends"`
	MaxOvertime          *int                       `yaml:"max_overtime"`
	OvertimeIntervalMins int                        `yaml:"overtime_interval_minutes"`
	AsyncDispatch        bool                       `yaml:"async_dispatch"`
	PollIntervalSeconds  int                        `yaml:"poll_interval_seconds"`
	BatchSize            int                        `yaml:"batch_size"`
	Parallelism          int                        `yaml:"parallelism"`
	EvaluateTimeoutSecs  int                        `yaml:"evaluate_timeout_seconds"`
}

// PollInterval returns the scheduler tick as a duration
func (c CampaignConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c CampaignConfig) SchedulerConfig() campaign.SchedulerConfig {
	return campaign.SchedulerConfig{
		PollInterval:    c.PollInterval(),
		BatchSize:       c.BatchSize,
		Parallelism:     c.Parallelism,
		EvaluateTimeout: time.Duration(c.EvaluateTimeoutSecs) * time.Second,
	}
}

// Policy overlays the configured values on campaign.DefaultPolicy.
func (c *Config) Policy() (campaign.Policy, error) {
	p := campaign.DefaultPolicy()
	cc := c.Campaign
	if len(cc.Milestones) > 0 {
		p.Milestones = cc.Milestones
	}
	for u, h := range cc.WindowHours {
		if !u.Valid() {
			return campaign.Policy{}, fmt.Errorf("campaign.window_hours: unknown urgency %q", u)
		}
		p.Windows[u] = time.Duration(h * float64(time.Hour))
	}
	if cc.MinScore > 0 {
		p.MinScore = cc.MinScore
	}
	if len(cc.TierShares) > 0 {
		p.TierShares = cc.TierShares
	}
	if len(cc.InitialChannels) > 0 {
		p.InitialChannels = cc.InitialChannels
	}
	if len(c.Geo.RadiusStages) > 0 {
		p.RadiusStages = c.Geo.RadiusStages
	}
	if cc.ResendCooldownMins > 0 {
		p.ResendCooldown = time.Duration(cc.ResendCooldownMins) * time.Minute
	}
	if cc.MaxResends != nil {
		p.MaxResends = *cc.MaxResends
	}
	if cc.MaxOvertime != nil {
		p.MaxOvertime = *cc.MaxOvertime
	}
	if cc.OvertimeIntervalMins > 0 {
		p.OvertimeInterval = time.Duration(cc.OvertimeIntervalMins) * time.Minute
	}
	p.AsyncDispatch = cc.AsyncDispatch
	if err := p.Validate(); err != nil {
		return campaign.Policy{}, fmt.Errorf("campaign policy: %w", err)
	}
	return p, nil
}

// ArchiveConfig selects where closed campaign summaries are written. S3
// wins when a bucket is set; otherwise LocalDir, otherwise no archive.
// DynamoTable adds a per-job index of archived campaigns.
type ArchiveConfig struct {
	S3Bucket     string `yaml:"s3_bucket"`
	Prefix       string `yaml:"prefix"`
	LocalDir     string `yaml:"local_dir"`
	DynamoTable  string `yaml:"dynamo_table"`
	IndexTTLDays int    `yaml:"index_ttl_days"`
}

// IndexTTL returns the index entry lifetime; zero keeps entries forever.
func (a ArchiveConfig) IndexTTL() time.Duration {
	return time.Duration(a.IndexTTLDays) * 24 * time.Hour
}

// TrackingConfig holds callback ingestion settings. With a queue URL the
// API publishes callbacks to SQS and the worker applies them.
type TrackingConfig struct {
	QueueURL      string `yaml:"queue_url"`
	WebhookSecret string `yaml:"webhook_secret"`
	// ConsumeInServer runs the SQS consumer inside the API process.
	ConsumeInServer bool `yaml:"consume_in_server"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 3
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-west-2"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = cfg.AWS.Region
	}
	if cfg.SES.FromName == "" {
		cfg.SES.FromName = "Ignite Jobs"
	}
	if cfg.WebForm.UserAgent == "" {
		cfg.WebForm.UserAgent = "IgniteOutreach/1.0"
	}
	if cfg.WebForm.HostRPS == 0 {
		cfg.WebForm.HostRPS = 0.5
	}
	if cfg.WebForm.HostBurst == 0 {
		cfg.WebForm.HostBurst = 1
	}
	if cfg.Discovery.PlacesBaseURL == "" {
		cfg.Discovery.PlacesBaseURL = "https://places.googleapis.com"
	}
	if cfg.Discovery.PageSize == 0 {
		cfg.Discovery.PageSize = 20
	}
	if cfg.Discovery.MaxPages == 0 {
		cfg.Discovery.MaxPages = 3
	}
	if cfg.Discovery.TierCTimeoutSecs == 0 {
		cfg.Discovery.TierCTimeoutSecs = 30
	}
	if cfg.Discovery.EnrichConcurrency == 0 {
		cfg.Discovery.EnrichConcurrency = 4
	}
	if cfg.Discovery.EnrichRPS == 0 {
		cfg.Discovery.EnrichRPS = 1
	}
	if cfg.Discovery.HTTPTimeoutSeconds == 0 {
		cfg.Discovery.HTTPTimeoutSeconds = 10
	}
	if cfg.Discovery.MaxRetries == 0 {
		cfg.Discovery.MaxRetries = 3
	}
	if cfg.Geocode.BaseURL == "" {
		cfg.Geocode.BaseURL = "https://maps.googleapis.com"
	}
	if cfg.Geocode.TimeoutSeconds == 0 {
		cfg.Geocode.TimeoutSeconds = 5
	}
	if cfg.Geocode.CacheTTLMinutes == 0 {
		cfg.Geocode.CacheTTLMinutes = 24 * 60
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = cfg.AWS.Region
	}
	if cfg.Outreach.SenderName == "" {
		cfg.Outreach.SenderName = cfg.SES.FromName
	}
	if cfg.Outreach.MaxAttempts == 0 {
		cfg.Outreach.MaxAttempts = 3
	}
	if cfg.Outreach.RetryBaseMs == 0 {
		cfg.Outreach.RetryBaseMs = 500
	}
	if cfg.Outreach.RetryMaxMs == 0 {
		cfg.Outreach.RetryMaxMs = 10000
	}
	if cfg.Outreach.SendTimeoutSec == 0 {
		cfg.Outreach.SendTimeoutSec = 15
	}
	if cfg.Outreach.Parallelism == 0 {
		cfg.Outreach.Parallelism = 8
	}
	if cfg.Campaign.PollIntervalSeconds == 0 {
		cfg.Campaign.PollIntervalSeconds = 30
	}
	if cfg.Campaign.BatchSize == 0 {
		cfg.Campaign.BatchSize = 50
	}
	if cfg.Campaign.Parallelism == 0 {
		cfg.Campaign.Parallelism = 4
	}
	if cfg.Campaign.EvaluateTimeoutSecs == 0 {
		cfg.Campaign.EvaluateTimeoutSecs = 120
	}
	if cfg.Database.StatementTimeoutSeconds == 0 {
		cfg.Database.StatementTimeoutSeconds = 15
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "outreach"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	} else if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SES_FROM_EMAIL"); v != "" {
		cfg.SES.FromEmail = v
	}
	if v := os.Getenv("SMS_BASE_URL"); v != "" {
		cfg.SMS.BaseURL = v
	}
	if v := os.Getenv("SMS_API_KEY"); v != "" {
		cfg.SMS.APIKey = v
	}
	if v := os.Getenv("SMS_FROM"); v != "" {
		cfg.SMS.From = v
	}
	if v := os.Getenv("PLACES_API_KEY"); v != "" {
		cfg.Discovery.PlacesAPIKey = v
	}
	if v := os.Getenv("GEOCODE_API_KEY"); v != "" {
		cfg.Geocode.APIKey = v
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.Outreach.PublicBaseURL = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
	}
	if v := os.Getenv("ARCHIVE_DYNAMO_TABLE"); v != "" {
		cfg.Archive.DynamoTable = v
	}
	if v := os.Getenv("TRACKING_QUEUE_URL"); v != "" {
		cfg.Tracking.QueueURL = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Tracking.WebhookSecret = v
	}

	return cfg, nil
}
