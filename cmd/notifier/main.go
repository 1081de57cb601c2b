package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/canteen/internal/alert"
	"github.com/lalithlochan/canteen/internal/api"
	"github.com/lalithlochan/canteen/internal/circuitbreaker"
	"github.com/lalithlochan/canteen/internal/config"
	"github.com/lalithlochan/canteen/internal/db"
	"github.com/lalithlochan/canteen/internal/dispatch"
	"github.com/lalithlochan/canteen/internal/keys"
	"github.com/lalithlochan/canteen/internal/metrics"
	"github.com/lalithlochan/canteen/internal/observ"
	"github.com/lalithlochan/canteen/internal/push"
	"github.com/lalithlochan/canteen/internal/redis"
	"github.com/lalithlochan/canteen/internal/sns"
	"github.com/lalithlochan/canteen/internal/sqs"
	"github.com/lalithlochan/canteen/internal/subscription"
	"github.com/lalithlochan/canteen/internal/targeting"
	"github.com/lalithlochan/canteen/internal/templates"
	"github.com/lalithlochan/canteen/internal/validate"
	"github.com/lalithlochan/canteen/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger("canteen-notifier", cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting canteen notifier",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Bool("force_high_urgency", cfg.ForceHighUrgency),
	)

	ctx := context.Background()

	alerts := newAlerter(ctx, cfg, logger)

	// Signing keys
	km, err := keys.NewManager(keys.Config{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Email:      cfg.VAPIDEmail,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialise vapid keys: %w", err)
	}
	metrics.SetDegraded("keys", km.Generated())
	if km.Generated() {
		notify(ctx, alerts, logger, "ephemeral VAPID keys in use",
			"The notifier generated a VAPID key pair at startup. Copy the public and private key "+
				"from the service log into VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY before the next "+
				"restart, otherwise every existing subscription stops receiving notifications.")
	}

	// Redis: subscription persistence, idempotency, rate limiting
	redisClient, err := redis.New(ctx, redis.Config{
		URL:       cfg.RedisURL,
		Host:      cfg.RedisHost,
		Port:      cfg.RedisPort,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		KeyPrefix: cfg.RedisKeyPrefix,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, subscriptions kept in memory and idempotency disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var (
		subStore    subscription.Store
		idempotency *redis.IdempotencyService
		rateLimiter *redis.RateLimiter
		checks      = map[string]api.Pinger{}
	)
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = redisClient
		subStore = redis.NewSubscriptionStore(redisClient, logger)
		idempotency = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateLimitWindow,
		})
	}

	registry := subscription.NewRegistry(subStore, logger)
	if n, err := registry.Load(ctx); err != nil {
		logger.Warn("failed to restore subscriptions", zap.Error(err))
	} else {
		logger.Info("subscriptions restored", zap.Int("count", n))
	}
	metrics.SetSubscriptions(registry.Stats().Total)

	// PostgreSQL: templates and user directory
	var (
		templateRepo templates.Repository
		customRepo   templates.CustomRepository = templates.NewMemoryCustomRepository()
		directory    targeting.Directory
	)
	database, err := db.New(ctx, db.Config{
		URL:      cfg.DatabaseURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		logger.Warn("database unavailable, templates fall back to defaults and targeted sends are disabled",
			zap.Error(err),
			zap.String("host", cfg.DBHost),
		)
	} else {
		defer database.Close()
		checks["postgres"] = database
		repo := db.NewTemplateRepository(database, logger)
		templateRepo = repo
		customRepo = repo
		directory = db.NewDirectory(database, logger)
	}

	templateStore := templates.NewStore(templateRepo, logger)
	templateStore.Init(ctx)
	metrics.SetDegraded("templates", templateStore.Degraded())
	if templateStore.Degraded() {
		notify(ctx, alerts, logger, "notification templates degraded",
			"The template store could not reach PostgreSQL and is serving built-in defaults. "+
				"Template edits made now will be lost on restart.")
	}
	customStore := templates.NewCustomStore(customRepo, logger)

	// Push transport guarded by per-host breakers
	sender := circuitbreaker.NewProtectedSender(
		push.NewWebPushSender(km, push.Config{
			TTL:        cfg.PushTTL,
			MaxRetries: 2,
		}, logger),
		circuitbreaker.NewGroup(circuitbreaker.DefaultConfig(), logger),
		logger,
	)

	var auditor dispatch.Auditor
	if cfg.SNSAuditTopicARN != "" {
		snsClient, err := sns.NewClient(ctx, cfg.AWSRegion)
		if err != nil {
			logger.Warn("sns unavailable, dispatch auditing disabled", zap.Error(err))
		} else {
			auditor = sns.NewPublisher(snsClient, cfg.SNSAuditTopicARN)
		}
	}

	dispatcher := dispatch.New(dispatch.Deps{
		Subscriptions: registry,
		Templates:     templateStore,
		Custom:        customStore,
		Resolver:      targeting.NewResolver(directory),
		Keys:          km,
		Sender:        sender,
		Auditor:       auditor,
	}, dispatch.Config{
		ForceHighUrgency: cfg.ForceHighUrgency,
		SendTimeout:      cfg.PushSendTimeout,
		MaxConcurrency:   cfg.PushMaxConcurrency,
	}, logger)

	// Order events
	var orders api.OrderQueue
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerDone := make(chan struct{})
	close(workerDone)

	if cfg.SQSOrderQueueURL != "" {
		sqsClient, err := sqs.NewClient(ctx, cfg.AWSRegion)
		if err != nil {
			logger.Warn("sqs unavailable, order updates are dispatched inline", zap.Error(err))
		} else {
			orders = sqs.NewProducer(sqsClient, cfg.SQSOrderQueueURL, logger)

			w := worker.New(sqs.NewConsumer(sqsClient, cfg.SQSOrderQueueURL, logger), dispatcher, worker.Config{
				BatchSize: 10,
			}, logger)

			workerDone = make(chan struct{})
			go func() {
				defer close(workerDone)
				w.Start(workerCtx)
			}()
		}
	}

	v, err := validate.New()
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}

	handler := api.NewHandler(api.Deps{
		Keys:          km,
		Subscriptions: registry,
		Templates:     templateStore,
		Custom:        customStore,
		Dispatcher:    dispatcher,
		Validator:     v,
		Orders:        orders,
		Breakers:      sender.Group(),
		Idempotency:   idempotency,
		Checks:        checks,
	}, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, rateLimiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		workerCancel()

		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		select {
		case <-workerDone:
		case <-ctx.Done():
			logger.Warn("order event worker did not stop in time")
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

func newAlerter(ctx context.Context, cfg *config.Config, logger *zap.Logger) alert.Notifier {
	if cfg.OperatorAlertEmail == "" || cfg.SESFromEmail == "" {
		return alert.NewLogNotifier(logger)
	}

	client, err := alert.NewSESClient(ctx, cfg.AWSRegion)
	if err != nil {
		logger.Warn("ses unavailable, operator alerts are logged only", zap.Error(err))
		return alert.NewLogNotifier(logger)
	}
	return alert.NewSESNotifier(client, cfg.SESFromEmail, cfg.OperatorAlertEmail, logger)
}

func notify(ctx context.Context, n alert.Notifier, logger *zap.Logger, subject, body string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := n.Notify(ctx, subject, body); err != nil {
		logger.Warn("failed to send operator alert", zap.Error(err), zap.String("subject", subject))
	}
}
