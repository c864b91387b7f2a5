package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/ariefcatur/go-marketplace-orders/internal/notify"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/postgres"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	service := cfg.ServiceName + "-notifier"
	logger := logging.MustNew(service, cfg.Env)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("invalid_config", zap.String("reason", "KAFKA_BROKERS is required for the notifier"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		logger.Fatal("db_connect_failed", zap.Error(err))
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		defer rdb.Close()
	} else {
		logger.Warn("dedup_disabled", zap.String("reason", "REDIS_ADDR not set"))
	}

	hub := notify.NewHub(logger)
	handler := &notify.EventHandler{
		Dispatcher: &notify.Dispatcher{Settings: &orders.UsersRepo{DB: db}, Pusher: hub, Metrics: m, Log: logger},
		Redis:      rdb,
		Service:    service,
		Log:        logger,
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.AllTopics, cfg.NotifierWorkers, logger)

	router := httpx.NewRouter(httpx.RouterOptions{Log: logger, Metrics: m, Gatherer: reg})
	router.Get("/ws", hub.ServeWS)
	srv := &http.Server{Addr: cfg.NotifierAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("notifier_consuming",
			zap.String("group", cfg.NotifierGroup),
			zap.Strings("topics", orders.AllTopics),
			zap.Int("workers", cfg.NotifierWorkers),
		)
		return cons.Start(gctx, handler.HandleMessage)
	})
	g.Go(func() error {
		logger.Info("http_listening", zap.String("addr", cfg.NotifierAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("notifier_exit", zap.Error(err))
	}
}
