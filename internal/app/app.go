// Package app assembles the outreach engine from configuration. The server
// and worker binaries share it so both run the same campaign service.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/provider-outreach/internal/api"
	"github.com/ignite/provider-outreach/internal/campaign"
	"github.com/ignite/provider-outreach/internal/channel"
	"github.com/ignite/provider-outreach/internal/config"
	"github.com/ignite/provider-outreach/internal/geo"
	"github.com/ignite/provider-outreach/internal/matching"
	"github.com/ignite/provider-outreach/internal/metrics"
	"github.com/ignite/provider-outreach/internal/outreach"
	"github.com/ignite/provider-outreach/internal/pkg/distlock"
	"github.com/ignite/provider-outreach/internal/pkg/httpretry"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
	"github.com/ignite/provider-outreach/internal/provider/bedrock"
	"github.com/ignite/provider-outreach/internal/provider/geocode"
	"github.com/ignite/provider-outreach/internal/provider/places"
	"github.com/ignite/provider-outreach/internal/provider/webenrich"
	"github.com/ignite/provider-outreach/internal/repository/memory"
	"github.com/ignite/provider-outreach/internal/repository/postgres"
	"github.com/ignite/provider-outreach/internal/scoring"
	"github.com/ignite/provider-outreach/internal/storage"
	"github.com/ignite/provider-outreach/internal/tracking"
)

// RecordStore is everything the service, matchers, health checks and
// metrics need from the record store.
type RecordStore interface {
	campaign.Store
	matching.RegistryStore
	matching.HistoryStore
	api.StoreChecker
}

// App holds the wired components. Optional pieces are nil when not
// configured.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Redis     *redis.Client
	Store     RecordStore
	Service   *campaign.Service
	Scheduler *campaign.Scheduler
	Registry  *prometheus.Registry
	SQS       *sqs.Client

	log *logger.Logger
}

// New connects to the configured backends and builds the campaign service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, log: logger.Named("app")}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	var attempts outreach.AttemptStore
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolConfig{
			MaxOpenConns:     cfg.Database.MaxOpenConns,
			MaxIdleConns:     cfg.Database.MaxIdleConns,
			ConnMaxLifetime:  cfg.Database.ConnMaxLifetime(),
			StatementTimeout: cfg.Database.StatementTimeout(),
		})
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Store = postgres.NewCampaignRepo(db)
		attempts = postgres.NewAttemptRepo(db)
		a.log.Info("using postgres record store")
	} else {
		mem := memory.New()
		a.Store, attempts = mem, mem
		a.log.Warn("DATABASE_URL not set, using in-memory record store")
	}

	a.Redis = connectRedis(ctx, cfg.Redis.URL, a.log)

	var geocoder geo.Geocoder
	if cfg.Geocode.APIKey != "" {
		client := httpretry.NewRetryClient(&http.Client{Timeout: cfg.Geocode.Timeout()}, cfg.Discovery.MaxRetries)
		geocoder = geocode.New(cfg.Geocode.BaseURL, cfg.Geocode.APIKey, cfg.Geocode.Timeout(), client)
		if a.Redis != nil {
			geocoder = geo.NewCachedGeocoder(geocoder, a.Redis, cfg.Geocode.CacheTTL())
		}
	}

	discovery, err := a.discovery(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	scorer, err := scoring.NewEngine(cfg.Scoring.Weights, cfg.Scoring.HalfDistance, cfg.Scoring.MaxDistance)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("scoring: %w", err)
	}

	tracker := outreach.NewTracker(attempts)
	dispatcher, err := a.dispatcher(ctx, tracker)
	if err != nil {
		a.Close()
		return nil, err
	}

	var locks distlock.KeyedLocker = distlock.NewLocalKeyed()
	if a.Redis != nil {
		locks = distlock.NewRedisKeyed(a.Redis, "outreach:lock:", 2*time.Minute)
	}

	archiver, err := a.archiver(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Service, err = campaign.NewService(campaign.Deps{
		Store:      a.Store,
		Discovery:  discovery,
		Scorer:     scorer,
		Tracker:    tracker,
		Dispatcher: dispatcher,
		Geocoder:   geocoder,
		Locks:      locks,
		Archiver:   archiver,
		Policy:     policy,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	var leader distlock.DistLock
	if a.Redis != nil || a.DB != nil {
		leader = distlock.NewLock(a.Redis, a.DB, "outreach:scheduler:leader", cfg.Campaign.PollInterval()*3)
	}
	a.Scheduler = campaign.NewScheduler(a.Service, leader, cfg.Campaign.SchedulerConfig())

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(a.Registry, a.Store)

	if cfg.Tracking.QueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load aws config for sqs: %w", err)
		}
		a.SQS = sqs.NewFromConfig(awsCfg)
	}

	return a, nil
}

func connectRedis(ctx context.Context, url string, log *logger.Logger) *redis.Client {
	if url == "" {
		log.Info("redis not configured, using in-process locks and no send quotas")
		return nil
	}
	var client *redis.Client
	if opts, err := redis.ParseURL(url); err == nil {
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{Addr: url})
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis connection failed, continuing without it", "error", err)
		client.Close()
		return nil
	}
	log.Info("redis connected")
	return client
}

func (a *App) discovery(ctx context.Context) (*matching.Discovery, error) {
	cfg := a.Config.Discovery
	var external matching.Matcher
	if cfg.TierCEnabled() {
		retrying := httpretry.NewRetryClient(&http.Client{Timeout: cfg.HTTPTimeout()}, cfg.MaxRetries)
		provider := places.New(places.Config{
			BaseURL:  cfg.PlacesBaseURL,
			APIKey:   cfg.PlacesAPIKey,
			PageSize: cfg.PageSize,
			MaxPages: cfg.MaxPages,
		}, retrying)

		enrichers := []matching.Enricher{
			webenrich.New(&http.Client{Timeout: cfg.HTTPTimeout()}, webenrich.NewHostLimiter(cfg.EnrichRPS, 2)),
		}
		if a.Config.Bedrock.Enabled {
			b, err := bedrock.New(ctx, a.Config.Bedrock.Region, a.Config.Bedrock.ModelID)
			if err != nil {
				return nil, fmt.Errorf("bedrock enricher: %w", err)
			}
			enrichers = append(enrichers, b)
		}
		external = matching.NewExternalMatcher(provider, matching.ExternalOptions{
			Timeout:           cfg.TierCTimeout(),
			EnrichConcurrency: cfg.EnrichConcurrency,
		}, enrichers...)
		a.log.Info("tier-c discovery enabled", "source", provider.Name(), "enrichers", len(enrichers))
	}
	d := matching.NewDiscovery(matching.NewRegistryMatcher(a.Store), matching.NewHistoryMatcher(a.Store), external)
	if cfg.SafetyFactor > 0 {
		d.SafetyFactor = cfg.SafetyFactor
	}
	return d, nil
}

func (a *App) dispatcher(ctx context.Context, tracker *outreach.Tracker) (*outreach.Dispatcher, error) {
	cfg := a.Config
	senderPhone := cfg.Outreach.SenderPhone
	if senderPhone == "" {
		senderPhone = cfg.SMS.From
	}
	composer, err := outreach.NewComposer(outreach.ComposerConfig{
		PublicBaseURL: cfg.Outreach.PublicBaseURL,
		ReplyDomain:   cfg.SES.ReplyDomain,
		SenderName:    cfg.Outreach.SenderName,
		SenderEmail:   cfg.SES.FromEmail,
		SenderPhone:   senderPhone,
		Templates:     cfg.Outreach.Templates,
	})
	if err != nil {
		return nil, fmt.Errorf("message templates: %w", err)
	}

	var senders []outreach.Sender
	if cfg.SES.Enabled {
		ses, err := channel.NewSESSender(ctx, channel.SESConfig{
			Region:           cfg.SES.Region,
			AccessKey:        cfg.SES.AccessKey,
			SecretKey:        cfg.SES.SecretKey,
			FromName:         cfg.SES.FromName,
			FromEmail:        cfg.SES.FromEmail,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, fmt.Errorf("ses sender: %w", err)
		}
		senders = append(senders, ses)
	}
	if cfg.SMS.Enabled {
		senders = append(senders, channel.NewSMSSender(channel.SMSConfig{
			BaseURL:           cfg.SMS.BaseURL,
			APIKey:            cfg.SMS.APIKey,
			From:              cfg.SMS.From,
			StatusCallbackURL: cfg.SMS.StatusCallbackURL,
		}, nil))
	}
	if cfg.WebForm.Enabled {
		senders = append(senders, channel.NewWebFormSender(nil,
			webenrich.NewHostLimiter(cfg.WebForm.HostRPS, cfg.WebForm.HostBurst), cfg.WebForm.UserAgent))
	}
	if len(senders) == 0 {
		a.log.Warn("no outreach channels enabled, attempts will fail as unsupported")
	}

	var quota outreach.Quota
	if a.Redis != nil && len(cfg.Outreach.WindowLimits) > 0 {
		quota = outreach.NewRedisQuota(a.Redis, cfg.Outreach.WindowLimits)
	}
	limiter := outreach.NewLimiter(cfg.Outreach.ChannelLimits, quota)

	return outreach.NewDispatcher(tracker, composer, limiter, campaign.NewGate(a.Store),
		cfg.Outreach.DispatcherConfig(), senders...), nil
}

func (a *App) archiver(ctx context.Context) (campaign.Archiver, error) {
	cfg := a.Config.Archive
	var primary campaign.Archiver
	switch {
	case cfg.S3Bucket != "":
		arch, err := storage.NewS3Archive(ctx, cfg.S3Bucket, cfg.Prefix, a.Config.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("s3 archive: %w", err)
		}
		primary = arch
	case cfg.LocalDir != "":
		arch, err := storage.NewLocalArchive(cfg.LocalDir, cfg.Prefix)
		if err != nil {
			return nil, fmt.Errorf("local archive: %w", err)
		}
		primary = arch
	}
	if cfg.DynamoTable == "" || primary == nil {
		return primary, nil
	}
	index, err := storage.NewDynamoIndex(ctx, cfg.DynamoTable, cfg.Prefix, a.Config.AWS.Region, cfg.IndexTTL())
	if err != nil {
		return nil, fmt.Errorf("dynamo index: %w", err)
	}
	return storage.Tee{primary, index}, nil
}

// Sink returns where callbacks go: the SQS queue when configured,
// otherwise straight into the service.
func (a *App) Sink() tracking.Sink {
	if a.SQS != nil {
		return tracking.NewPublisher(a.SQS, a.Config.Tracking.QueueURL)
	}
	return tracking.NewDirect(a.Service)
}

// Consumer returns the SQS response consumer, or nil without a queue.
func (a *App) Consumer() *tracking.Consumer {
	if a.SQS == nil {
		return nil
	}
	return tracking.NewConsumer(a.SQS, a.Service, tracking.ConsumerConfig{QueueURL: a.Config.Tracking.QueueURL})
}

// Close waits for background dispatches and releases connections.
func (a *App) Close() {
	if a.Service != nil {
		a.Service.Wait()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
