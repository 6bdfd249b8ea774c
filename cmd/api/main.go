package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/referral-service/internal/api/http"
	"github.com/spec-kit/referral-service/internal/api/http/handlers"
	"github.com/spec-kit/referral-service/internal/auth"
	"github.com/spec-kit/referral-service/internal/config"
	"github.com/spec-kit/referral-service/internal/events"
	"github.com/spec-kit/referral-service/internal/notify"
	"github.com/spec-kit/referral-service/internal/observability"
	"github.com/spec-kit/referral-service/internal/persistence"
	"github.com/spec-kit/referral-service/internal/repository"
	"github.com/spec-kit/referral-service/internal/service"
	"github.com/spec-kit/referral-service/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}

	if cfg.Postgres.RunMigrations {
		db, err := pg.SQLDB()
		if err != nil {
			logger.Fatal("failed to open migration handle", zap.Error(err))
		}
		if err := persistence.RunMigrations(ctx, db, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		_ = db.Close()
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	providerRepo := repository.NewProviderRepository(pool)
	contactRepo := repository.NewProviderContactRepository(pool)
	eventRepo := repository.NewTicketEventRepository(pool)
	transactor := repository.NewTransactor(pool)

	dispatcher := events.NewInMemoryDispatcher()
	notificationService := service.NewNotificationService(service.NotificationDependencies{
		Dispatcher:  dispatcher,
		ContactRepo: contactRepo,
		Notifier:    newNotifier(cfg.Notification, logger),
		Emitter:     newEmitter(cfg.Notification, logger),
		Logger:      logger.Named("notifications"),
		Config:      cfg.Notification,
	})

	forwardingDeps := service.ForwardingDependencies{
		TicketRepo:   ticketRepo,
		ProviderRepo: providerRepo,
		ContactRepo:  contactRepo,
		EventRepo:    eventRepo,
		Transactor:   transactor,
		SiteID:       cfg.App.SiteID,
		Metrics:      metrics,
		Logger:       logger.Named("forwarding"),
	}

	workerDone := closedChan()
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if cfg.Outbox.Enabled {
		guard, err := worker.NewDeliveryGuard(redis.Client, cfg.Outbox.IdempotencyTTL)
		if err != nil {
			logger.Fatal("failed to init delivery guard", zap.Error(err))
		}
		outbox, err := worker.NewOutboxWorker(worker.OutboxWorkerParams{
			Transactor: transactor,
			Dispatcher: dispatcher,
			Guard:      guard,
			Metrics:    metrics,
			Logger:     logger,
			Config:     cfg.Outbox,
		})
		if err != nil {
			logger.Fatal("failed to init outbox worker", zap.Error(err))
		}
		forwardingDeps.SideEffects = notificationService.Kinds()
		forwardingDeps.Waker = outbox
		workerDone = worker.StartNotificationWorker(workerCtx, notificationService, outbox, logger)
	} else {
		logger.Warn("outbox disabled, routing side effects will not be delivered")
	}

	forwardingService := service.NewForwardingService(forwardingDeps)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL())

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Tickets:        handlers.NewTicketsHandler(forwardingService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Gatherer:       registry,
	})

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	err = app.ShutdownWithTimeout(shutdownTimeout)
	stopWorker()
	select {
	case <-workerDone:
	case <-time.After(shutdownTimeout):
		logger.Warn("outbox worker did not stop in time")
	}
	err = multierr.Append(err, redis.Close())
	pg.Close()
	if err != nil {
		logger.Error("shutdown completed with errors", zap.Error(err))
		return
	}
	logger.Info("shutdown complete")
}

func newNotifier(cfg config.NotificationConfig, logger *zap.Logger) notify.Notifier {
	if cfg.EmailEnabled() {
		return notify.NewSMTPNotifier(cfg)
	}
	logger.Info("smtp not configured, logging notifications")
	return notify.NewLogNotifier(logger)
}

func newEmitter(cfg config.NotificationConfig, logger *zap.Logger) notify.WebhookEmitter {
	if cfg.WebhookEnabled() {
		return notify.NewHTTPEmitter(cfg)
	}
	logger.Info("webhook url not configured, logging webhooks")
	return notify.NewLogEmitter(logger)
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
