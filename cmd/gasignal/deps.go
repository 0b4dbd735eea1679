package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/gasignal/internal/cache"
	"github.com/ajitpratap0/gasignal/internal/config"
	"github.com/ajitpratap0/gasignal/internal/db"
	"github.com/ajitpratap0/gasignal/internal/runner"
	"github.com/ajitpratap0/gasignal/internal/signals"
)

// dependencies holds the optional backends a run can use
type dependencies struct {
	redis      *redis.Client
	cache      *cache.ResultCache
	publisher  *signals.Publisher
	database   *db.DB
	recordRuns bool
}

// connect opens every backend the configuration enables
func connect(ctx context.Context, cfg *config.Config) (*dependencies, error) {
	deps := &dependencies{recordRuns: cfg.Database.RecordRuns}

	if cfg.Redis.Enabled {
		deps.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		deps.cache = cache.NewResultCache(deps.redis, time.Duration(cfg.Redis.TTL)*time.Second)
		log.Info().Str("addr", cfg.Redis.GetRedisAddr()).Msg("Result cache enabled")
	}

	if cfg.NATS.Enabled {
		pub, err := signals.NewPublisher(signals.PublisherConfig{
			NATSURL: cfg.NATS.URL,
			Prefix:  cfg.NATS.Prefix,
		})
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.publisher = pub
	}

	if cfg.DatabaseEnabled() {
		database, err := db.New(ctx, cfg.Database.GetDSN())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		deps.database = database

		if cfg.Database.Migrate {
			if _, err := database.Migrate(ctx); err != nil {
				deps.Close()
				return nil, err
			}
		}
	}

	return deps, nil
}

// historyDB returns the database when run recording is enabled
func (d *dependencies) historyDB() *db.DB {
	if d.recordRuns {
		return d.database
	}
	return nil
}

func (d *dependencies) runnerOptions() []runner.Option {
	var opts []runner.Option
	if d.cache != nil {
		opts = append(opts, runner.WithCache(d.cache))
	}
	if d.publisher != nil {
		opts = append(opts, runner.WithPublisher(d.publisher))
	}
	if h := d.historyDB(); h != nil {
		opts = append(opts, runner.WithHistory(db.NewRunRepository(h)))
	}
	return opts
}

// Close releases every open backend
func (d *dependencies) Close() {
	if d.publisher != nil {
		d.publisher.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.database != nil {
		d.database.Close()
	}
}
