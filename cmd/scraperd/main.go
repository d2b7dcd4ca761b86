package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/shakerg/ShopperPlus/internal/cache"
	"github.com/shakerg/ShopperPlus/internal/config"
	"github.com/shakerg/ShopperPlus/internal/extract"
	"github.com/shakerg/ShopperPlus/internal/fetcher"
	"github.com/shakerg/ShopperPlus/internal/notify"
	"github.com/shakerg/ShopperPlus/internal/proxy"
	"github.com/shakerg/ShopperPlus/internal/scheduler"
	"github.com/shakerg/ShopperPlus/internal/service"
	"github.com/shakerg/ShopperPlus/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	rdb, err := cache.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	logger.Info("connected to redis")

	notifier, err := notify.NewRabbitMQ(notify.Config{
		URL:        cfg.RabbitMQ.URL,
		Exchange:   cfg.RabbitMQ.Exchange,
		RoutingKey: cfg.RabbitMQ.RoutingKey,
		QueueName:  cfg.RabbitMQ.QueueName,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer notifier.Close()

	// Initialize stores
	productStore := postgres.NewProductStore(db)
	historyStore := postgres.NewPriceHistoryStore(db)
	jobStore := postgres.NewScrapeJobStore(db)
	watchlistStore := postgres.NewWatchlistStore(db)
	txManager := postgres.NewTransactionManager(db)

	productCache := cache.New(rdb, cache.TTLs{
		Price:  cfg.Cache.PriceTTL,
		Meta:   cfg.Cache.MetaTTL,
		Domain: cfg.Cache.DomainTTL,
	}, logger)

	circuit, err := proxy.New(proxy.Config{
		Host:             cfg.Proxy.Host,
		Port:             cfg.Proxy.Port,
		ControlPort:      cfg.Proxy.ControlPort,
		ControlPassword:  cfg.Proxy.ControlPassword,
		RotationRequests: cfg.Proxy.RotationRequests,
		Timeout:          cfg.Scrape.FetchTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to build proxy circuit", "error", err)
		os.Exit(1)
	}

	pageFetcher := fetcher.New(circuit, productCache, fetcher.Config{
		DomainDelay:     cfg.Scrape.DomainDelay,
		FallbackTimeout: cfg.Scrape.FallbackTimeout,
	}, logger)

	scrapeService := service.NewScrapeService(
		jobStore,
		productStore,
		historyStore,
		watchlistStore,
		pageFetcher,
		extract.Parser{},
		productCache,
		notifier,
		txManager,
		logger,
		cfg.Scrape,
	)

	sched := scheduler.New(scrapeService, scheduler.Config{
		QueueInterval: cfg.Scrape.QueueInterval,
		SweepInterval: cfg.Scrape.SweepInterval,
	}, logger)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting scraper worker",
		"queue_interval", cfg.Scrape.QueueInterval,
		"max_concurrency", cfg.Scrape.MaxConcurrency,
		"proxy", cfg.Proxy.Host,
	)

	if err := sched.Start(ctx); err != nil {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()

	// Let the in-flight chunk drain before the deferred closes tear down
	// shared connections.
	sched.Stop()
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
