// Package app assembles the service graph shared by the API and worker
// binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"msgcenter/internal/config"
	"msgcenter/internal/db"
	"msgcenter/internal/directory"
	"msgcenter/internal/dispatch"
	"msgcenter/internal/messaging"
	"msgcenter/internal/models"
	"msgcenter/internal/queue"
	"msgcenter/internal/quota"
	"msgcenter/internal/records"
	"msgcenter/internal/resolver"
	"msgcenter/internal/scheduler"
	"msgcenter/internal/storage"
	"msgcenter/internal/templates"
)

type App struct {
	Users     *directory.Service
	Templates *templates.Service
	Records   records.Store
	Messaging *messaging.Service
	Storage   storage.Storage
	Scheduler *scheduler.Machine
	// Queue is nil with the memory backend.
	Queue *queue.Manager

	db      *gorm.DB
	redis   *storage.RedisStorage
	closers []func() error
	log     zerolog.Logger
}

func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	dirStore, tplStore, recStore, err := a.relational(ctx, cfg)
	if err != nil {
		return nil, err
	}

	policy, err := quota.ParsePolicy(cfg.Quotas)
	if err != nil {
		return nil, fmt.Errorf("quotas: %w", err)
	}
	var counter quota.Counter = quota.NewMemoryCounter()

	var locker scheduler.Locker
	switch cfg.StorageBackend {
	case config.BackendRedis:
		rs, err := storage.NewRedisStorage(cfg.RedisURL, log)
		if err != nil {
			return nil, err
		}
		a.redis = rs
		a.closers = append(a.closers, rs.Close)
		a.Storage = rs
		locker = storage.NewRedisLocker(rs.Client(), cfg.LockTTL)
		counter = quota.NewRedisCounter(rs.Client())

		qm, err := queue.NewManager(cfg.AMQPURL, log)
		if err != nil {
			return nil, err
		}
		a.Queue = qm
		a.closers = append(a.closers, qm.Close)
	default:
		a.Storage = storage.NewMemoryStorage()
		locker = storage.NewKeyedMutex()
	}

	router := dispatch.NewRouter(dispatch.RouterConfig{
		RatePerSec: cfg.ChannelRate,
		Burst:      1,
		Timeout:    cfg.DispatchTimeout,
	}, log)
	for _, ch := range []models.Channel{models.ChannelEmail, models.ChannelSMS, models.ChannelLark} {
		if cfg.DeliveryMode == config.DeliveryQueue {
			router.Handle(ch, dispatch.NewQueueSender(a.Queue))
		} else {
			router.Handle(ch, dispatch.NewLogSender(log))
		}
	}

	a.Users = directory.NewService(dirStore, log)
	a.Templates = templates.NewService(tplStore, templates.NewEngine(), log)
	a.Records = recStore
	var msgOpts []messaging.Option
	if !policy.Empty() {
		msgOpts = append(msgOpts, messaging.WithQuota(quota.NewLimiter(policy, counter, log)))
	}
	a.Messaging = messaging.NewService(resolver.New(dirStore), a.Templates, router, recStore, log, msgOpts...)

	opts := []scheduler.Option{
		scheduler.WithDispatchTimeout(cfg.DispatchTimeout),
		scheduler.WithDispatchGrace(cfg.DispatchGrace),
		scheduler.WithLogger(log),
	}
	if a.Queue != nil {
		opts = append(opts, scheduler.OnCreate(a.publishSoon))
	}
	a.Scheduler = scheduler.New(a.Storage, locker, a.Messaging, opts...)

	ok = true
	return a, nil
}

func (a *App) relational(ctx context.Context, cfg *config.Config) (directory.Store, templates.Store, records.Store, error) {
	if cfg.DatabaseURL == "" {
		a.log.Info().Msg("DATABASE_URL not set, keeping users, templates and records in memory")
		return directory.NewMemoryStore(), templates.NewMemoryStore(), records.NewMemoryStore(), nil
	}

	gdb, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	a.db = gdb
	a.closers = append(a.closers, func() error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if err := db.Migrate(ctx, gdb); err != nil {
		return nil, nil, nil, err
	}
	return directory.NewGormStore(gdb), templates.NewGormStore(gdb), records.NewGormStore(gdb), nil
}

// publishSoon puts schedules due within the broker's delay window on the
// delay line so they fire close to their time; the rest wait for the
// scanner.
func (a *App) publishSoon(ctx context.Context, msg *models.ScheduledMessage) {
	if _, err := a.Queue.PublishDelayed(ctx, queue.TaskFor(msg)); err != nil {
		a.log.Warn().Err(err).Str("schedule_id", msg.ScheduleID).Msg("failed to publish schedule, scanner will pick it up")
	}
}

// Health pings the database and Redis when they are in use.
func (a *App) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if a.db != nil {
		sqlDB, err := a.db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Client().Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
