package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/adapter/ai/answering"
	"github.com/seu-repo/siga-mi/internal/adapter/avatar"
	"github.com/seu-repo/siga-mi/internal/adapter/cache"
	"github.com/seu-repo/siga-mi/internal/adapter/external/report"
	"github.com/seu-repo/siga-mi/internal/adapter/external/tier"
	"github.com/seu-repo/siga-mi/internal/adapter/http/fiber/handlers"
	"github.com/seu-repo/siga-mi/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/siga-mi/internal/adapter/queue"
	"github.com/seu-repo/siga-mi/internal/adapter/storage/postgres"
	redisstore "github.com/seu-repo/siga-mi/internal/adapter/storage/redis"
	"github.com/seu-repo/siga-mi/internal/adapter/vault"
	wsAdapter "github.com/seu-repo/siga-mi/internal/adapter/websocket"
	"github.com/seu-repo/siga-mi/internal/infrastructure/circuitbreaker"
	"github.com/seu-repo/siga-mi/internal/observability/telemetry"
	"github.com/seu-repo/siga-mi/internal/ports"
	"github.com/seu-repo/siga-mi/internal/service/auth"
	"github.com/seu-repo/siga-mi/internal/service/dialogue"
	"github.com/seu-repo/siga-mi/internal/service/escalation"
	"github.com/seu-repo/siga-mi/internal/service/health"
	"github.com/seu-repo/siga-mi/internal/service/translation"
	"github.com/seu-repo/siga-mi/pkg/config"
)

const (
	serviceName    = "siga-mi"
	serviceVersion = "v1.0.0"
)

func main() {
	// 1. Initialize Logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	logger.Info("Starting SIGA-MI",
		zap.String("service", serviceName),
		zap.String("version", serviceVersion),
	)

	// 2. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// 3. Initialize OpenTelemetry (Distributed Tracing)
	tracerProvider, err := telemetry.InitTracer(serviceName)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// 4. Pull secrets from Vault when enabled; env/config otherwise
	if cfg.Vault.Enabled {
		secrets, err := vault.NewSecretManager(cfg.Vault.Address, cfg.Vault.Token)
		if err != nil {
			logger.Fatal("Failed to connect to Vault", zap.Error(err))
		}
		if url, err := secrets.GetDatabaseCredentials(); err == nil {
			cfg.Database.URL = url
		}
		if key, err := secrets.GetAnsweringAPIKey(); err == nil {
			cfg.Answering.APIKey = key
		}
		if secret, err := secrets.GetJWTSecret(); err == nil {
			cfg.JWT.Secret = secret
		}
		logger.Info("Secrets loaded from Vault", zap.String("address", cfg.Vault.Address))
	}

	// 5. Initialize PostgreSQL Connection Pool
	db, err := postgres.NewConnection(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("Failed to get underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := postgres.RunMigrations(db); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// 6. Initialize Redis (cache + session snapshots). The cache degrades to
	// in-memory when Redis is unreachable; session snapshots do not.
	var appCache ports.Cache
	appCache, err = cache.NewRedisCache(cfg.Redis.URL, logger)
	if err != nil {
		logger.Warn("Redis unavailable, falling back to in-memory cache", zap.Error(err))
		appCache = cache.NewLocalCache(time.Minute, logger)
	}
	defer appCache.Close()

	sessionStore, err := redisstore.NewSessionStore(cfg.Redis.URL, cfg.Redis.SessionTTL, logger)
	if err != nil {
		logger.Fatal("Failed to create session store", zap.Error(err))
	}

	// 7. Initialize Message Queue
	messageQueue, err := newQueue(cfg.Queue, logger)
	if err != nil {
		logger.Fatal("Failed to connect to message queue", zap.Error(err))
	}
	defer messageQueue.Close()

	// 8. Initialize Repositories
	userRepo := postgres.NewUserRepository(db, logger)
	transcriptRepo := postgres.NewTranscriptRepository(db, logger)
	translationRepo := postgres.NewTranslationRepository(db, logger)

	// 9. Initialize Services. Outbound collaborators share one breaker
	// registry so /health/breakers sees them all.
	breakers := circuitbreaker.NewManager(logger)
	serviceCalls := circuitbreaker.NewServiceClient(breakers, logger)

	translator := translation.NewService(translationRepo, logger)
	authService := auth.NewService(userRepo, appCache, cfg.JWT.Secret, logger)
	tierAuthority := tier.NewStripeAuthority(cfg.Stripe.SecretKey, userRepo, cfg.Stripe.TierQuotas, cfg.Stripe.DefaultQuota, logger)
	reportRenderer := report.NewRenderer(cfg.Report.BaseURL, cfg.Report.APIKey, cfg.Report.Timeout, breakers, logger)
	escalationService := escalation.NewService(
		cfg.Escalation.SendGridAPIKey,
		cfg.Escalation.FromEmail,
		cfg.Escalation.FromName,
		cfg.Escalation.SupportEmail,
		serviceCalls,
		logger,
	)
	answeringClient := answering.NewClient(cfg.Answering.BaseURL, cfg.Answering.APIKey, cfg.Answering.Timeout, logger)

	// 10. Initialize Avatar Subsystem Client
	var avatarClient ports.AvatarClient
	var liveAvatar *avatar.LiveClient
	if cfg.Avatar.Enabled {
		liveAvatar = avatar.NewLiveClient(cfg.Avatar.URL, cfg.Avatar.Token, logger)
		avatarClient = liveAvatar
	} else {
		avatarClient = avatar.NewNoopClient()
		logger.Info("Avatar subsystem disabled, speech requests will be dropped")
	}

	// 11. Initialize WebSocket Hub (event sink for session updates)
	wsHub := wsAdapter.NewHub(logger)
	go wsHub.Run()

	// 12. Initialize Dialogue Orchestrator
	dialogueService := dialogue.NewService(
		sessionStore,
		answeringClient,
		avatarClient,
		reportRenderer,
		tierAuthority,
		escalationService,
		translator,
		wsHub,
		messageQueue,
		dialogue.Config{
			IdleDuration:  cfg.Dialogue.IdleDuration,
			WarningWindow: cfg.Dialogue.WarningWindow,
			AskTimeout:    cfg.Dialogue.AskTimeout,
			DefaultQuota:  cfg.Dialogue.DefaultQuota,
		},
		logger,
	)

	if liveAvatar != nil {
		liveAvatar.SetListener(dialogueService)
		connectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := circuitbreaker.RetryWithBackoff(connectCtx, 3, time.Second, func() error {
			dialCtx, dialCancel := context.WithTimeout(connectCtx, 10*time.Second)
			defer dialCancel()
			return liveAvatar.Connect(dialCtx)
		})
		cancel()
		if err != nil {
			logger.Warn("Avatar subsystem unreachable, continuing without speech", zap.Error(err))
		}
		defer liveAvatar.Close()
	}

	// 13. Health Checks
	healthService := health.NewService(&health.Config{
		Version: serviceVersion,
		DB:      sqlDB,
	}, logger)
	healthService.RegisterChecker("cache", func(ctx context.Context) health.CheckResult {
		start := time.Now()
		result := health.CheckResult{Name: "cache", Timestamp: time.Now()}
		if err := appCache.Ping(); err != nil {
			result.Status = health.StatusUnhealthy
			result.Message = err.Error()
		} else {
			result.Status = health.StatusHealthy
			result.Message = "connection ok"
		}
		result.Duration = time.Since(start)
		return result
	})
	healthService.RegisterChecker("circuit_breakers", func(ctx context.Context) health.CheckResult {
		start := time.Now()
		result := health.CheckResult{Name: "circuit_breakers", Timestamp: time.Now()}
		result.Status = health.StatusHealthy
		result.Message = "all closed"
		for name, cb := range breakers.GetAll() {
			if cb.State() == circuitbreaker.StateOpen {
				result.Status = health.StatusDegraded
				result.Message = "open: " + name
			}
		}
		result.Duration = time.Since(start)
		return result
	})

	// 14. Initialize Fiber HTTP Server
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		ServerHeader:          serviceName,
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	// Global Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(middleware.NewCORS(cfg.CORS))
	if cfg.RateLimiting.Enabled {
		app.Use(middleware.RateLimit(cfg.RateLimiting.MaxRequests, cfg.RateLimiting.Window))
	}
	if cfg.CircuitBreaker.Enabled {
		app.Use(middleware.CircuitBreaker())
	}

	health.NewFiberHandler(healthService).RegisterRoutes(app)

	// Breaker states for operators; complements the liveness endpoints.
	app.Get("/health/breakers", func(c *fiber.Ctx) error {
		return c.JSON(breakers.Status())
	})

	// Metrics endpoint for Prometheus
	app.Get("/metrics", func(c *fiber.Ctx) error {
		handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
		handler(c.Context())
		return nil
	})

	// API v1 Routes
	v1 := app.Group("/api/v1")

	// Auth routes (public)
	authHandler := handlers.NewAuthHandler(authService, logger)
	v1.Post("/auth/login", authHandler.Login)
	v1.Post("/auth/register", authHandler.Register)
	v1.Post("/auth/refresh", authHandler.RefreshToken)
	v1.Post("/auth/guest", authHandler.Guest)

	// Protected routes (guest tokens included)
	authRequired := middleware.AuthRequired(authService)
	protected := v1.Group("", authRequired)
	protected.Get("/auth/me", authHandler.Me)

	chatHandler := handlers.NewChatHandler(dialogueService, logger)
	protected.Post("/chat/session", chatHandler.StartSession)
	protected.Delete("/chat/session", chatHandler.ResetSession)
	protected.Post("/chat/input", chatHandler.Dispatch)
	protected.Post("/chat/extend", chatHandler.ExtendIdle)
	protected.Post("/chat/language", chatHandler.SwitchLanguage)

	// WebSocket conversation stream
	chatStreamHandler := wsAdapter.NewChatStreamHandler(dialogueService, wsHub, logger)
	wsAdapter.SetupChatRoutes(app, chatStreamHandler, authRequired)

	// 15. Start Background Workers
	go startBackgroundWorkers(messageQueue, sessionStore, transcriptRepo, logger)

	// 16. Start HTTP Server
	go func() {
		logger.Info("Starting HTTP Server", zap.Int("port", cfg.HTTP.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			logger.Fatal("HTTP Server failed", zap.Error(err))
		}
	}()

	// 17. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	dialogueService.Shutdown()

	logger.Info("Server exited gracefully")
}

func newQueue(cfg config.QueueConfig, logger *zap.Logger) (queue.MessageQueue, error) {
	switch cfg.Driver {
	case "rabbitmq":
		return queue.NewRabbitMQQueue(cfg.URL, logger)
	default:
		return queue.NewNATSQueue(cfg.URL, logger)
	}
}

// startBackgroundWorkers consumes the dialogue events other components react
// to asynchronously.
func startBackgroundWorkers(mq queue.MessageQueue, sessions ports.SessionStore, transcripts ports.TranscriptRepository, logger *zap.Logger) {
	logger.Info("Starting background workers")

	// Archive the transcript when a session times out; the Redis snapshot
	// eventually expires, the Postgres copy does not.
	mq.Subscribe(dialogue.SubjectSessionExpired, func(msg []byte) error {
		var payload struct {
			CallerID string `json:"caller_id"`
		}
		if err := json.Unmarshal(msg, &payload); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		session, err := sessions.Load(ctx, payload.CallerID)
		if err != nil || session == nil {
			return err
		}
		return transcripts.SaveMessages(ctx, session.ID, session.Transcript)
	})

	mq.Subscribe(dialogue.SubjectReportRequested, func(msg []byte) error {
		logger.Info("Report requested", zap.ByteString("payload", msg))
		return nil
	})

	mq.Subscribe(dialogue.SubjectEscalationRequested, func(msg []byte) error {
		logger.Info("Escalation requested", zap.ByteString("payload", msg))
		return nil
	})
}
