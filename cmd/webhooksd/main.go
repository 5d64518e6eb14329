package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	webhooks "github.com/goliatone/go-webhooks"
	"github.com/goliatone/go-webhooks/adapters/gocommand"
	"github.com/goliatone/go-webhooks/adapters/gologger"
	promadapter "github.com/goliatone/go-webhooks/adapters/prometheus"
	webhookcommand "github.com/goliatone/go-webhooks/command"
	"github.com/goliatone/go-webhooks/core"
	webhookmigrations "github.com/goliatone/go-webhooks/migrations"
	sqlstore "github.com/goliatone/go-webhooks/store/sql"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
)

var (
	configPath  = flag.String("config", os.Getenv("WEBHOOKS_CONFIG"), "path to a YAML or JSON config file")
	logLevel    = flag.String("log-level", "info", "log level: trace, debug, info, warn or error")
	logFormat   = flag.String("log-format", "json", "log format: json, console or pretty")
	adminPrefix = flag.String("admin-prefix", "/admin", "path prefix for the delivery log API")
)

func main() {
	flag.Parse()
	root := newRootLogger(*logLevel, *logFormat, os.Stdout)
	logger := root.GetLogger("webhooksd")

	if err := run(root); err != nil {
		logger.Error("webhooksd stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(provider glog.LoggerProvider) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := core.ResolveConfig(ctx,
		core.NewCfgxConfigProvider(fileConfigLoader{path: *configPath}),
		core.GoOptionsResolver{},
		envOverrides(),
	)
	if err != nil {
		return err
	}

	bridge := gologger.NewBridge(cfg.ServiceName, provider, nil)
	telemetry := bridge.Telemetry("daemon", nil)

	persistenceCfg := sqlstore.PersistenceConfig{Database: cfg.Database, ServiceName: cfg.ServiceName}
	client, err := sqlstore.OpenPersistence(persistenceCfg)
	if err != nil {
		return err
	}
	defer client.Close()

	dialect := persistenceCfg.Dialect()
	if _, err := webhookmigrations.Register(ctx, func(_ context.Context, name string, _ string, fsys fs.FS) error {
		if name == dialect {
			client.RegisterSQLMigrations(fsys)
		}
		return nil
	}, webhookmigrations.WithValidationTargets(dialect)); err != nil {
		return err
	}
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("webhooksd: migrate: %w", err)
	}

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return err
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithWebhookCache(cacheService))
	if err != nil {
		return err
	}

	recorder := promadapter.NewRecorder(prometheus.NewRegistry(), promadapter.WithNamespace("webhooks"))
	engine, err := webhooks.New(cfg,
		webhooks.WithLoggerProvider(bridge.Provider),
		webhooks.WithLogger(bridge.Logger),
		webhooks.WithMetricsRecorder(recorder),
		webhooks.WithWebhookStore(factory.WebhookStore()),
		webhooks.WithDeliveryLogStore(factory.DeliveryLogStore()),
	)
	if err != nil {
		return err
	}

	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := adapter.MirrorToQueue(jobqueuecommand.NewRegistry()); err != nil {
		return err
	}
	subs, err := gocommand.RegisterWebhookHandlers(adapter, gocommand.WebhookHandlers{
		Dispatcher:   engine.Dispatcher(),
		DeliveryLogs: engine.DeliveryLogs(),
		Registry:     engine.Registry(),
		Events:       engine.Registry(),
	})
	if err != nil {
		return err
	}
	defer subs.Unsubscribe()
	if err := adapter.Initialize(); err != nil {
		return err
	}
	bridge.Logger.Info("webhook commands registered", "types", adapter.Types())

	scheduler := cron.New()
	if cfg.Retention.Enabled {
		maxAge := cfg.Retention.MaxAgeDays
		if _, err := scheduler.AddFunc(cfg.Retention.Schedule, func() {
			purgeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			err := gocommand.Dispatch(purgeCtx, webhookcommand.PurgeDeliveryLogsMessage{MaxAgeDays: maxAge})
			if err != nil {
				telemetry.LogError(purgeCtx, "delivery log retention purge failed", map[string]any{"error": err.Error()})
				return
			}
			telemetry.LogInfo(purgeCtx, "delivery log retention purge finished", map[string]any{"max_age_days": maxAge})
		}); err != nil {
			return fmt.Errorf("webhooksd: schedule retention purge: %w", err)
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	router := mux.NewRouter()
	router.Handle(cfg.HTTP.MetricsPath, recorder.Handler()).Methods(http.MethodGet)
	engine.RegisterRoutes(router, *adminPrefix)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		telemetry.LogInfo(ctx, "webhooksd listening", map[string]any{
			"addr":           cfg.HTTP.Addr,
			"trigger_prefix": cfg.HTTP.TriggerPrefix,
			"dialect":        dialect,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	telemetry.LogInfo(context.Background(), "webhooksd shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
