package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"support-service/config"
	"support-service/internal/api"
	"support-service/internal/broker"
	"support-service/internal/llm"
	"support-service/internal/nlu"
	"support-service/internal/redisclient"
	"support-service/internal/service"
	"support-service/internal/store"
	"support-service/internal/util"
	"support-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting support service")

	tp, err := util.InitTracer("support-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx := context.Background()

	repo, ready, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open repository", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer closeRepo()

	var (
		locker  service.Locker = service.NewLocalLocker()
		idem    service.IdempotencyStore
		claimer worker.Claimer
	)
	if cfg.Redis.Enabled() {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, using in-process locks", zap.Error(err))
		} else {
			defer redisClient.Close()
			logger.Info("Redis connected")
			locker = service.NewRedisLocker(redisClient)
			idem = redisClient
			claimer = redisClient
			ready = withCheck(ready, redisClient.Ping)
		}
	}

	notifier := worker.NewLogNotifier()

	var (
		publisher service.EventPublisher
		reminders worker.ReminderPublisher = worker.NewDirectReminders(notifier)
	)
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSupport)
		defer producer.Close()
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicSupport))

		eventPublisher := broker.NewEventPublisher(producer)
		publisher = eventPublisher
		reminders = eventPublisher
	}

	chat := llm.NewChatClient(cfg.Classifier.BaseURL, cfg.Classifier.APIKey, cfg.Classifier.Model, cfg.Classifier.Timeout)
	vision := llm.NewVisionClient(cfg.Vision.BaseURL, cfg.Vision.APIKey, cfg.Vision.Model, cfg.Vision.Timeout)

	engine := service.NewResolutionEngine(repo, locker, publisher, service.EngineConfig{
		WalletCreditAmount:       cfg.Business.WalletCreditAmount,
		RefundCreditAmount:       cfg.Business.RefundCreditAmount,
		PersistAutoResolvedCases: cfg.Business.PersistAutoResolvedCases,
	})
	supportService := service.NewSupportService(repo,
		nlu.NewClassifier(chat),
		nlu.NewGenerator(repo, chat, cfg.Classifier.MaxTokens),
		engine,
		cfg.Business.DefaultCustomerID,
	)
	validationService := service.NewValidationService(vision, engine)
	scheduler := service.NewSubscriptionScheduler(repo, publisher, idem, service.SchedulerConfig{
		ReferenceMonth: cfg.Business.LegacyReferenceMonth,
		IdempotencyTTL: cfg.Business.SubscriptionIdempotency,
	})

	sweep := worker.NewReminderSweep(scheduler, reminders, claimer, cfg.Business.ReminderSweepSchedule)
	if err := sweep.Start(); err != nil {
		logger.Fatal("Failed to start reminder sweep", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var notificationWorker *worker.NotificationWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSupport, cfg.Kafka.ConsumerGroup)
		notificationWorker = worker.NewNotificationWorker(consumer, notifier)
		go func() {
			if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Notification worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(supportService, validationService, scheduler, engine, api.Options{
		AdminJWTSecret:    cfg.Admin.JWTSecret,
		DefaultCustomerID: cfg.Business.DefaultCustomerID,
		Ready:             ready,
	})
	handler.SetupRoutes(router)

	if cfg.Admin.JWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set, admin routes are unauthenticated")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	sweep.Stop()
	workerCancel()
	if notificationWorker != nil {
		_ = notificationWorker.Stop()
	}

	logger.Info("Server exited")
}

// withCheck extends a readiness probe with another dependency check
func withCheck(probe, check func(context.Context) error) func(context.Context) error {
	if probe == nil {
		return check
	}
	return func(ctx context.Context) error {
		if err := probe(ctx); err != nil {
			return err
		}
		return check(ctx)
	}
}

// openRepository returns the configured repository, a readiness probe and a close func
func openRepository(ctx context.Context, cfg *config.Config) (store.Repository, func(context.Context) error, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		db, err := store.NewStore(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Migrate(ctx, cfg.Business.LegacyReferenceMonth); err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("failed to migrate: %w", err)
		}
		util.GetLogger().Info("Database connected")
		ready := func(ctx context.Context) error {
			return db.GetDB().PingContext(ctx)
		}
		return db, ready, func() { db.Close() }, nil

	case "memory", "":
		mem, err := store.LoadMemoryStore(cfg.Store.DataDir, cfg.Business.LegacyReferenceMonth)
		if err != nil {
			return nil, nil, nil, err
		}
		util.GetLogger().Info("Memory store loaded", zap.String("dir", cfg.Store.DataDir))
		return mem, nil, func() {}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
