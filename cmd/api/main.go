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
	"github.com/ariefcatur/go-marketplace-orders/internal/gateway"
	"github.com/ariefcatur/go-marketplace-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/memory"
	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/ariefcatur/go-marketplace-orders/internal/notify"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/postgres"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.MustNew(cfg.ServiceName, cfg.Env)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid_config", zap.Error(err))
	}
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// storage
	var (
		ledger    orders.Ledger
		catalog   orders.Catalog
		purchases orders.Purchases
		settings  notify.SettingsStore
	)
	switch cfg.Store {
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			logger.Fatal("db_connect_failed", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			logger.Fatal("db_schema_failed", zap.Error(err))
		}
		users := &orders.UsersRepo{DB: db}
		ledger, catalog, purchases, settings = &orders.Repo{DB: db}, &orders.ReservationRepo{DB: db}, users, users
	default:
		logger.Warn("using_in_memory_store")
		users := memory.NewUsers()
		ledger, catalog, purchases, settings = memory.NewLedger(), memory.NewCatalog(), users, users
	}

	// redis is optional: it backs the cross-instance lock and create idempotency
	var (
		rdb   *redis.Client
		locks orders.Locker = orders.NewLocalLocker()
	)
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		locks = &redisx.Locker{RDB: rdb, TTL: cfg.OrderLockTTL, Log: logger}
	}

	gw := gateway.New(gateway.Config{
		BaseURL:    cfg.GatewayBaseURL,
		KeyID:      cfg.GatewayKeyID,
		KeySecret:  cfg.GatewayKeySecret,
		Timeout:    cfg.GatewayTimeout,
		MaxRetries: cfg.GatewayMaxRetries,
	}, logger, m)

	router := httpx.NewRouter(httpx.RouterOptions{
		Log:       logger,
		Metrics:   m,
		Gatherer:  reg,
		RateRPS:   cfg.RateLimitRPS,
		RateBurst: cfg.RateLimitBurst,
	})

	// events go to Kafka for the notifier service, or to an in-process queue
	// with the websocket hub mounted here
	var (
		events   orders.Publisher
		shutdown func()
	)
	if len(cfg.KafkaBrokers) > 0 {
		prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger, m)
		prod.Start(ctx)
		events = prod
		shutdown = func() { prod.Close(); prod.WaitClosed() }
	} else {
		hub := notify.NewHub(logger)
		d := &notify.Dispatcher{Settings: settings, Pusher: hub, Metrics: m, Log: logger}
		q := notify.NewQueue(1024, d.Handle, logger, m)
		q.Start(ctx)
		events = q
		shutdown = func() { q.Close(); q.Wait() }
		router.Get("/ws", hub.ServeWS)
	}

	engine := orders.NewEngine(orders.Deps{
		Ledger:    ledger,
		Catalog:   catalog,
		Gateway:   gw,
		Purchases: purchases,
		Events:    events,
		Locks:     locks,
		Metrics:   m,
	}, orders.Settings{
		GatewayKeyID:   cfg.GatewayKeyID,
		GatewaySecret:  cfg.GatewayKeySecret,
		Currency:       cfg.GatewayCurrency,
		DeliveryWindow: cfg.DeliveryEstimate,
		Producer:       cfg.ServiceName,
	})

	oh := &httpx.OrdersHandler{Engine: engine, Production: cfg.Production()}
	if rdb != nil {
		oh.Idempotency = &redisx.Idempotency{RDB: rdb}
	}
	oh.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http_listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting_down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		// no more publishers once the server is down
		shutdown()
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error("server_exit", zap.Error(err))
	}
}
