package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/safetyhub/escalation-engine/internal/config"
	"github.com/safetyhub/escalation-engine/internal/directory"
	"github.com/safetyhub/escalation-engine/internal/dispatcher"
	"github.com/safetyhub/escalation-engine/internal/engine"
	"github.com/safetyhub/escalation-engine/internal/handler"
	"github.com/safetyhub/escalation-engine/internal/incident"
	"github.com/safetyhub/escalation-engine/internal/infra/postgresql"
	"github.com/safetyhub/escalation-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/safetyhub/escalation-engine/internal/infra/redis"
	"github.com/safetyhub/escalation-engine/internal/observability"
	"github.com/safetyhub/escalation-engine/internal/queue"
	"github.com/safetyhub/escalation-engine/internal/repository"
	"github.com/safetyhub/escalation-engine/internal/sender"
	"github.com/safetyhub/escalation-engine/internal/template"
	"github.com/safetyhub/escalation-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer mq.Close()

	publisher := queue.NewRabbitMQPublisher(mq)
	consumer := queue.NewRabbitMQConsumer(mq, cfg.WorkerConcurrency, logger)

	webhookSender, err := sender.NewWebhookSender(cfg.WebhookGatewayURL)
	if err != nil {
		logger.Fatal("webhook sender initialization failed", zap.Error(err))
	}

	incidentClient, err := incident.NewHTTPClient(cfg.IncidentAPIURL)
	if err != nil {
		logger.Fatal("incident client initialization failed", zap.Error(err))
	}

	userDirectory, err := directory.LoadFile(cfg.DirectoryFile)
	if err != nil {
		logger.Fatal("directory load failed", zap.Error(err))
	}

	templates, err := template.LoadFile(cfg.TemplatesFile)
	if err != nil {
		logger.Fatal("template load failed", zap.Error(err))
	}

	ruleRepo := repository.NewRuleRepository(db)
	historyRepo := repository.NewEscalationHistoryRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	if err := repository.SeedRules(context.Background(), ruleRepo, cfg.RulesFile, logger); err != nil {
		logger.Fatal("rule seed failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	disp, err := dispatcher.NewDispatcher(
		notificationRepo,
		userDirectory,
		templates,
		publisher,
		webhookSender,
		cfg.SendTimeout(),
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	disp.SetMetrics(metrics)

	eng, err := engine.NewEngine(
		ruleRepo,
		historyRepo,
		disp,
		incidentClient,
		incidentClient,
		cfg.WorkerConcurrency,
		cfg.SweepInterval(),
		logger,
	)
	if err != nil {
		logger.Fatal("engine initialization failed", zap.Error(err))
	}
	eng.SetMetrics(metrics)

	workers, err := dispatcher.NewWorkerPool(disp, consumer, limiter, logger)
	if err != nil {
		logger.Fatal("worker pool initialization failed", zap.Error(err))
	}
	workers.SetMetrics(metrics)

	scheduler, err := dispatcher.NewScheduler(disp, cfg.ScanInterval(), logger)
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}
	scheduler.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterEscalationRoutes(app, eng, historyRepo, ruleRepo); err != nil {
		logger.Fatal("escalation route registration failed", zap.Error(err))
	}
	if err := handler.RegisterNotificationRoutes(app, notificationRepo, disp); err != nil {
		logger.Fatal("notification route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("escalation engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	group.Go(func() error {
		return eng.Run(groupCtx)
	})
	group.Go(func() error {
		return workers.Run(groupCtx)
	})
	group.Go(func() error {
		return scheduler.Run(groupCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		logger.Error("shutdown with error", zap.Error(err))
	}
	logger.Info("escalation engine stopped")
}
