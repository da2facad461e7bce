package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/Easycoder-lin/CHU-sub000/internal/api"
	"github.com/Easycoder-lin/CHU-sub000/internal/cache"
	"github.com/Easycoder-lin/CHU-sub000/internal/config"
	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/messaging"
	"github.com/Easycoder-lin/CHU-sub000/internal/metrics"
	"github.com/Easycoder-lin/CHU-sub000/internal/middleware"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
	"github.com/Easycoder-lin/CHU-sub000/internal/store"
	"github.com/Easycoder-lin/CHU-sub000/internal/ws"
)

func main() {
	cfg := config.Load()
	log := config.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(promReg)

	products := cfg.ProductSet()
	reg := engine.NewRegistry(
		engine.WithProducts(products...),
		engine.WithDefaultProduct(cfg.DefaultProduct),
		engine.WithLogger(log.WithField("component", "engine")),
	)

	if cfg.SeedEnabled {
		if err := reg.Seed(engine.DefaultSeed(models.ProductIDs(products), time.Now())); err != nil {
			log.WithError(err).Fatal("seed books")
		}
		log.WithField("products", len(products)).Info("books seeded")
	}

	breakers := middleware.NewCircuitBreakerManager()
	backends := map[string]api.Pinger{}
	observers := []messaging.Observer{metrics.NewRecorder(appMetrics, reg)}

	var snapshots api.SnapshotLoader
	if cfg.RedisEnabled {
		redisCache, err := cache.NewRedisCache(ctx, cfg)
		if err != nil {
			log.WithError(err).Warn("redis cache not available")
		} else {
			defer redisCache.Close()
			log.Info("redis cache connected")

			backends["redis"] = redisCache
			snapshots = redisCache
			mirror := cache.NewMirror(redisCache, reg, log.WithField("component", "mirror"), appMetrics).
				UseGuard(breakers.Breaker("redis", nil))
			observers = append(observers, mirror)

			if cfg.SnapshotIntervalSec > 0 {
				snapMgr := cache.NewSnapshotManager(redisCache, reg,
					time.Duration(cfg.SnapshotIntervalSec)*time.Second, log.WithField("component", "snapshot"))
				go snapMgr.Run(ctx)
				defer snapMgr.Stop()
			}
		}
	}

	var dedup messaging.Deduplicator
	if cfg.PostgresEnabled {
		pg, err := store.NewPostgresStore(ctx, cfg.GetPostgresDSN())
		if err != nil {
			log.WithError(err).Warn("postgres store not available")
		} else {
			defer pg.Close()
			log.Info("postgres store connected")

			if err := store.NewMigrator(pg.GetDB()).Migrate(ctx); err != nil {
				log.WithError(err).Fatal("run migrations")
			}
			seeded, err := store.NewProductStore(pg.GetDB()).SeedProducts(ctx, products)
			if err != nil {
				log.WithError(err).Warn("seed products")
			} else if seeded > 0 {
				log.WithField("count", seeded).Info("products seeded")
			}

			backends["postgres"] = pg
			sink := store.NewSink(pg, log.WithField("component", "sink"), appMetrics).
				UseGuard(breakers.Breaker("postgres", nil))
			observers = append(observers, sink)

			dedupStore := store.NewDedupStore(pg.GetDB(), store.DefaultDedupConfig(), log.WithField("component", "dedup"))
			defer dedupStore.Stop()
			dedup = dedupStore
		}
	}

	mq := &messagingStack{}
	if cfg.RabbitMQEnabled {
		mq = startMessaging(cfg, reg, dedup, appMetrics, log)
		if mq.publisher != nil {
			observers = append(observers, mq.publisher)
		}
	}

	var hub *ws.Hub
	if cfg.WSEnabled {
		hub = ws.NewHub(ws.DefaultHubConfig(), reg, log.WithField("component", "ws"), appMetrics)
		go hub.Run()
		defer hub.Stop()
		observers = append(observers, hub)
	}

	dispatcher := messaging.NewDispatcher(cfg.WorkerCount, 1024, log.WithField("component", "dispatcher"))
	dispatcher.Attach(reg, observers...)
	mq.startInbound(cfg.RabbitMQExchange, log.WithField("component", "rabbitmq"))

	deps := api.Deps{
		Registry:  reg,
		Log:       log.WithField("component", "http"),
		Metrics:   appMetrics,
		Gatherer:  promReg,
		Hub:       hub,
		Backends:  backends,
		Breakers:  breakers,
		Snapshots: snapshots,
		RateLimiter: middleware.NewRateLimiter(&middleware.RateLimitConfig{
			RequestsPerSecond: float64(cfg.RateLimitRPS),
			Burst:             cfg.RateLimitBurst,
			Enabled:           cfg.RateLimitRPS > 0,
		}),
	}
	if cfg.AuthEnabled {
		if cfg.JWTSecret == "" {
			log.Fatal("AUTH_ENABLED requires JWT_SECRET")
		}
		deps.Auth = middleware.NewAuthMiddleware(middleware.DefaultAuthConfig(cfg.JWTSecret))
	}
	if cfg.SettlementAPIKey != "" {
		deps.SettlerKeys = middleware.NewAPIKeyAuth(&middleware.APIKeyInfo{
			Key:     cfg.SettlementAPIKey,
			Service: "settlement",
			Scopes:  []string{"settlement"},
		})
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	api.RegisterRoutes(router, deps)

	srv := &http.Server{
		Addr:              cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":     cfg.ServerPort,
			"products": len(products),
			"default":  reg.DefaultProduct(),
		}).Info("seat order book listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}

	// Nothing may reach the registry once the dispatcher is closed.
	mq.stopInbound()
	dispatcher.Close()
	mq.closeOutbound()
}

type messagingStack struct {
	publisher *messaging.Publisher
	consumer  *messaging.Consumer
	dlq       *messaging.DLQHandler
}

// startInbound begins consuming settlement outcomes. It runs after the
// registry callbacks are attached so no compensation goes unobserved.
func (s *messagingStack) startInbound(exchange string, log logrus.FieldLogger) {
	if s.consumer == nil {
		return
	}
	if err := s.consumer.Start(exchange); err != nil {
		log.WithError(err).Warn("start settlement consumer")
		return
	}
	log.Info("settlement consumer started")
}

func (s *messagingStack) stopInbound() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	if s.dlq != nil {
		s.dlq.Stop()
	}
}

func (s *messagingStack) closeOutbound() {
	if s.publisher != nil {
		s.publisher.Close()
	}
}

// startMessaging connects the event publisher and the settlement consumer.
// Either one failing leaves the engine running without it.
func startMessaging(cfg *config.Config, reg *engine.Registry, dedup messaging.Deduplicator, m *metrics.Metrics, log *logrus.Logger) *messagingStack {
	mqLog := log.WithField("component", "rabbitmq")
	stack := &messagingStack{}

	publisher, err := messaging.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, mqLog, m)
	if err != nil {
		mqLog.WithError(err).Warn("publisher not available")
	} else {
		mqLog.Info("publisher connected")
		stack.publisher = publisher
	}

	dlq, err := messaging.NewDLQHandler(cfg.RabbitMQURL, cfg.RabbitMQExchange, cfg.SettlementQueue, mqLog)
	if err != nil {
		mqLog.WithError(err).Warn("dead letter handler not available")
	} else {
		stack.dlq = dlq
		if err := dlq.Start(); err != nil {
			mqLog.WithError(err).Warn("start dead letter handler")
		}
	}

	consumer, err := messaging.NewConsumer(cfg.RabbitMQURL, cfg.SettlementQueue, cfg.WorkerCount, reg, mqLog, m)
	if err != nil {
		mqLog.WithError(err).Warn("settlement consumer not available")
		return stack
	}
	if dedup != nil {
		consumer.UseDeduplicator(dedup)
	}
	stack.consumer = consumer
	return stack
}
