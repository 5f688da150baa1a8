package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/acme/campaign-engine/internal/api/handlers"
	"github.com/acme/campaign-engine/internal/config"
	"github.com/acme/campaign-engine/internal/infra/db"
	"github.com/acme/campaign-engine/internal/infra/redis"
	"github.com/acme/campaign-engine/internal/metrics"
	"github.com/acme/campaign-engine/internal/queue"
	"github.com/acme/campaign-engine/internal/repository"
	pgrepo "github.com/acme/campaign-engine/internal/repository/postgres"
	scyllarepo "github.com/acme/campaign-engine/internal/repository/scylla"
	"github.com/acme/campaign-engine/internal/scheduler"
	callsvc "github.com/acme/campaign-engine/internal/service/call"
	campaignsvc "github.com/acme/campaign-engine/internal/service/campaign"
	"github.com/acme/campaign-engine/internal/service/contacts"
	"github.com/acme/campaign-engine/internal/service/lease"
	"github.com/acme/campaign-engine/internal/service/replenish"
	"github.com/acme/campaign-engine/internal/telephony"
	"github.com/acme/campaign-engine/internal/telephony/livekit"
	telephonyMock "github.com/acme/campaign-engine/internal/telephony/mock"
	"github.com/acme/campaign-engine/internal/worker/status"
	"github.com/acme/campaign-engine/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		publisher    *queue.EventPublisher
		adapter      telephony.Adapter
	}
}

type repositories struct {
	Campaigns    repository.CampaignRepository
	Calls        repository.CallRepository
	Queue        repository.QueueRepository
	Contacts     repository.ContactRepository
	PhoneNumbers repository.PhoneNumberRepository
	Attempts     repository.AttemptStore
	Stats        repository.CampaignStatisticsRepository
}

type services struct {
	Campaign    *campaignsvc.Service
	Resolver    *contacts.Resolver
	Replenisher *replenish.Replenisher
	Processor   *callsvc.Processor
}

// Build loads configuration and connects every backing store.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env, &logger.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, err
	}

	container := &Container{Config: cfg, Logger: lg, Metrics: metrics.New()}

	container.Postgres, err = db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	container.Scylla, err = db.NewScylla(cfg.Scylla)
	if err != nil {
		_ = container.Close(ctx)
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	container.Redis, err = redis.NewClient(ctx, cfg.Redis)
	if err != nil {
		_ = container.Close(ctx)
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	container.Kafka, err = queue.NewKafka(cfg.Kafka)
	if err != nil {
		_ = container.Close(ctx)
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Campaigns:    pgrepo.NewCampaignRepository(c.Postgres.DB()),
			Calls:        pgrepo.NewCallRepository(c.Postgres.DB()),
			Queue:        pgrepo.NewQueueRepository(c.Postgres.DB()),
			Contacts:     pgrepo.NewContactRepository(c.Postgres.DB()),
			PhoneNumbers: pgrepo.NewPhoneNumberRepository(c.Postgres.DB()),
			Attempts:     scyllarepo.NewAttemptStore(c.Scylla.Session()),
			Stats:        pgrepo.NewCampaignStatisticsRepository(c.Postgres.DB()),
		}

		c.components.publisher = queue.NewEventPublisher(c.Kafka)
		c.components.adapter = c.newAdapter()

		engine := c.Config.Engine
		bridge := c.Config.CallBridge
		svc := &services{
			Campaign: campaignsvc.NewService(repos.Campaigns, repos.Calls, repos.Attempts, repos.Stats),
			Resolver: contacts.NewResolver(repos.Contacts),
		}
		svc.Replenisher = replenish.New(
			svc.Campaign,
			repos.Calls,
			repos.Queue,
			svc.Resolver,
			c.Metrics,
			c.Logger.Named("replenish"),
			replenish.Options{LowWaterMark: engine.LowWaterMark},
		)
		svc.Processor = callsvc.NewProcessor(callsvc.Deps{
			Campaigns: repos.Campaigns,
			Calls:     repos.Calls,
			Queue:     repos.Queue,
			Numbers:   repos.PhoneNumbers,
			Adapter:   c.components.adapter,
			Attempts:  repos.Attempts,
			Events:    c.components.publisher,
			Metrics:   c.Metrics,
			Logger:    c.Logger.Named("processor"),
		}, callsvc.Options{
			BatchSize:      engine.BatchSize,
			DispatchDelay:  engine.DispatchDelay,
			RequestTimeout: bridge.RequestTimeout,
			AgentName:      bridge.AgentName,
			RequireTrunk:   engine.RequireTrunk,
		})

		c.components.repositories = repos
		c.components.services = svc
	})
}

func (c *Container) newAdapter() telephony.Adapter {
	if c.Config.CallBridge.ProviderName == "mock" {
		c.Logger.Warn("using mock telephony provider")
		return telephonyMock.NewProvider(c.Config.CallBridge)
	}
	return livekit.NewAdapter(c.Config.CallBridge)
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Scheduler builds the engine loop guarded by the Redis tick lease.
func (c *Container) Scheduler() *scheduler.Scheduler {
	c.initComponents()
	cfg := c.Config.Scheduler
	tickLease := lease.New(c.Redis.Inner(), cfg.LockKeyPrefix, cfg.LockTTL)
	return scheduler.New(scheduler.Deps{
		Lease:       tickLease,
		Campaigns:   c.components.repositories.Campaigns,
		Lifecycle:   c.components.services.Campaign,
		Replenisher: c.components.services.Replenisher,
		Drainer:     c.components.services.Processor,
		Metrics:     c.Metrics,
		Logger:      c.Logger.Named("scheduler"),
	}, scheduler.Options{
		TickInterval:       cfg.TickInterval,
		FetchLimit:         cfg.FetchLimit,
		ErrorThreshold:     cfg.ErrorThreshold,
		LeaseRenewInterval: tickLease.TTL() / 3,
	})
}

// StatusWorker builds the call event consumer.
func (c *Container) StatusWorker() *status.Worker {
	c.initComponents()
	reader := c.Kafka.EventReader("status")
	return status.New(reader, c.components.repositories.Stats, c.Metrics, c.Logger.Named("status"))
}

// HandlerSet builds HTTP handlers with dependencies.
func (c *Container) HandlerSet() *handlers.HandlerSet {
	c.initComponents()
	checks := map[string]handlers.HealthCheck{
		"postgres": c.Postgres.Ping,
		"redis":    c.Redis.Ping,
		"scylla":   c.Scylla.Ping,
		"kafka":    c.Kafka.Ping,
	}
	return handlers.NewHandlerSet(c.components.services.Campaign, checks, c.Logger)
}

// MetricsServer builds the standalone /metrics listener used by processes
// without an HTTP API.
func (c *Container) MetricsServer() *metrics.Server {
	return metrics.NewServer(c.Metrics, c.Config.Metrics.Port, c.Logger.Named("metrics"))
}

// EnsureTopics ensures the call event topic exists.
func (c *Container) EnsureTopics(ctx context.Context) error {
	return c.Kafka.EnsureEventTopic(ctx)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.components.publisher != nil {
		if err := c.components.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	return errors.Join(errs...)
}
