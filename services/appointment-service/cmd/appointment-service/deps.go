package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carmatch/meetguard/libs/auth"
	"github.com/carmatch/meetguard/libs/config"
	"github.com/carmatch/meetguard/libs/db"
	"github.com/carmatch/meetguard/libs/httpx"
	"github.com/carmatch/meetguard/libs/kafkax"
	"github.com/carmatch/meetguard/libs/runtime"
	"github.com/carmatch/meetguard/services/appointment-service/internal/appointment"
	"github.com/carmatch/meetguard/services/appointment-service/internal/conversation"
	"github.com/carmatch/meetguard/services/appointment-service/internal/notify"
	"github.com/carmatch/meetguard/services/appointment-service/internal/outbox"
	"github.com/carmatch/meetguard/services/appointment-service/internal/storage"
	"github.com/carmatch/meetguard/services/appointment-service/migrations"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

type dependencies struct {
	pool         *db.Pool
	redis        *redis.Client
	kafka        *kafka.Writer
	outboxWriter outbox.MessageWriter
	store        appointment.Store
	convs        conversation.Lookup
	dispatcher   notify.Dispatcher
	readyChecks  []runtime.ReadyCheck
}

var newRedisClient = redis.NewClient

func openDependencies(ctx context.Context, logger *slog.Logger) (_ *dependencies, err error) {
	d := &dependencies{}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	if len(brokers) > 0 {
		d.kafka = kafkax.NewWriter(brokers)
		d.outboxWriter = d.kafka
		d.readyChecks = append(d.readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		d.redis = newRedisClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		rdb := d.redis
		d.readyChecks = append(d.readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	switch driver := config.String("STORE_DRIVER", "postgres"); driver {
	case "postgres":
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return nil, err
		}
		pool, err := db.Open(ctx, dbURL, db.Options{
			MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
			MinConns: int32(config.Int("DB_MIN_CONNS", 1)),
		})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		d.pool = pool
		if config.Bool("DB_AUTO_MIGRATE", false) {
			if err := db.Migrate(ctx, pool, migrations.Files); err != nil {
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("migrations applied")
		}
		d.store = storage.NewPostgresStore(pool, outbox.NewRepository())
		d.convs = conversation.NewPostgresLookup(pool)
		d.readyChecks = append(d.readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	case "memory":
		logger.Warn("using in-memory appointment store; data is lost on restart")
		d.store = storage.NewMemoryStore()
		d.convs = conversation.NewStatic()
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", driver)
	}

	if seed := config.String("CONVERSATIONS_SEED", ""); seed != "" {
		static, err := conversation.LoadStaticFile(seed)
		if err != nil {
			return nil, err
		}
		d.convs = static
		if config.Bool("CONVERSATIONS_SEED_WATCH", true) {
			runtime.Go(logger, "conversations-seed-watch", func() {
				if err := static.Watch(ctx, seed, logger); err != nil {
					logger.Warn("conversations seed watch stopped", "err", err)
				}
			})
		}
	}

	dispatcher, err := newDispatcher(d, logger)
	if err != nil {
		return nil, err
	}
	d.dispatcher = dispatcher
	return d, nil
}

func newDispatcher(d *dependencies, logger *slog.Logger) (notify.Dispatcher, error) {
	switch driver := config.String("NOTIFY_DRIVER", "kafka"); driver {
	case "kafka":
		if d.kafka == nil {
			logger.Warn("NOTIFY_DRIVER=kafka without KAFKA_BROKERS; notifications are only logged")
			return notify.NewLogDispatcher(logger), nil
		}
		return notify.NewKafkaDispatcher(d.kafka), nil
	case "webhook":
		url, err := config.RequiredString("PUSH_WEBHOOK_URL")
		if err != nil {
			return nil, err
		}
		return notify.NewWebhookDispatcher(url, config.String("PUSH_WEBHOOK_TOKEN", "")), nil
	case "log":
		return notify.NewLogDispatcher(logger), nil
	default:
		return nil, fmt.Errorf("unknown NOTIFY_DRIVER %q", driver)
	}
}

func (d *dependencies) Close() {
	if d.kafka != nil {
		_ = d.kafka.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	d.pool.Close()
}

// rateLimiter counts per authenticated user, shared through Redis when it is
// configured and per process otherwise.
func rateLimiter(d *dependencies, logger *slog.Logger) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	key := func(r *http.Request) string {
		if id := r.Header.Get(auth.UserIDHeader); id != "" {
			return "user:" + id
		}
		return "ip:" + httpx.ClientIP(r)
	}
	if d.redis != nil {
		rl := httpx.NewRedisRateLimiter(d.redis, limit, time.Minute, "meetguard:rl", key)
		return rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
	}
	return httpx.NewRateLimiter(limit, time.Minute, key).Middleware()
}

func minutesList(key, fallback string, logger *slog.Logger) []time.Duration {
	var out []time.Duration
	for _, part := range config.List(key, fallback) {
		mins, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || mins <= 0 {
			logger.Warn("invalid minutes value", "key", key, "value", part)
			continue
		}
		out = append(out, time.Duration(mins)*time.Minute)
	}
	return out
}
