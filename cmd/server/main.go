package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/wordai/api/internal/artifact"
	"github.com/wordai/api/internal/auth"
	"github.com/wordai/api/internal/client"
	"github.com/wordai/api/internal/config"
	"github.com/wordai/api/internal/db"
	"github.com/wordai/api/internal/handler"
	"github.com/wordai/api/internal/jobs"
	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/metering"
	"github.com/wordai/api/internal/metrics"
	"github.com/wordai/api/internal/middleware"
	"github.com/wordai/api/internal/service"
	"github.com/wordai/api/internal/tasks"
	ws "github.com/wordai/api/internal/websocket"
	"github.com/wordai/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logging.New(cfg.Server)
	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not available")
	}

	artifacts, ledger, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open storage")
	}
	defer closeStores()

	validate := jobs.NewValidator()
	jobStore := jobs.NewStore(redisClient, jobs.DefaultRegistry(validate),
		jobs.WithRetention(time.Duration(cfg.Worker.RetentionHours)*time.Hour))

	gate := metering.NewGate(
		metering.NewPriceTable(cfg.Metering.Prices),
		ledger,
		metering.NewFreeTier(redisClient, cfg.Metering.FreeDailyLimit, cfg.Metering.FreeJobTypes),
		log,
	)

	// Object storage is optional; artifacts then keep their upstream URLs.
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(ctx, &cfg.R2)
		if err != nil {
			log.Warn().Err(err).Msg("R2 client not initialized")
		} else {
			storage = r2Client
		}
	} else {
		log.Info().Msg("R2 storage not configured")
	}

	hub := ws.NewHub(redisClient, log)

	var wg sync.WaitGroup
	if cfg.Server.RunsWorker() {
		startWorker(ctx, &wg, cfg, log, jobStore, artifacts, gate, hub)
	}

	if !cfg.Server.RunsAPI() {
		<-ctx.Done()
		log.Info().Msg("shutting down worker...")
		wg.Wait()
		return
	}

	wg.Add(2)
	go func() { defer wg.Done(); hub.Run(ctx) }()
	go func() { defer wg.Done(); hub.Relay(ctx) }()

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var verifier auth.TokenVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(ctx, &cfg.Zitadel)
		if err != nil {
			log.Warn().Err(err).Msg("JWKS verifier not initialized")
		} else {
			defer jwksVerifier.Close()
			verifier = jwksVerifier
		}
	}
	authenticator := auth.NewAuthenticator(verifier, cfg.JWT.Secret)

	var identity, wsIdentity fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		log.Info().Msg("gateway mode enabled, using header-based auth")
		identity = middleware.GatewayAuth()
		wsIdentity = identity
	} else {
		identity = middleware.Authenticate(authenticator)
		wsIdentity = middleware.AuthenticateQuery(authenticator)
	}

	router := &handler.Router{
		Identity:      identity,
		WSIdentity:    wsIdentity,
		RateLimiter:   middleware.NewRateLimiter(redisClient, log),
		SubmitPerHour: cfg.RateLimit.SubmitPerHour,
		StatusPerMin:  cfg.RateLimit.StatusPerMin,
		Jobs:          handler.NewJobHandler(service.NewJobService(jobStore, gate, log), log),
		Artifacts:     handler.NewArtifactHandler(service.NewArtifactService(artifacts, storage, log), validate, log),
		Points:        handler.NewPointsHandler(gate, log),
		Payments:      handler.NewPaymentHandler(service.NewPaymentService(gate, cfg.Payment, log), validate, log),
		Auth:          handler.NewAuthHandler(authenticator),
		Health:        handler.NewHealthHandler(redisClient),
		Hub:           hub,
		Metrics:       adaptor.HTTPHandler(promhttp.Handler()),
	}

	app := newApp(cfg, log)
	router.Register(app)

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Str("mode", cfg.Server.Mode).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Error().Err(err).Msg("server error")
		stop()
	}
	wg.Wait()
}

func newApp(cfg *config.Config, log *zerolog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler(log),
		BodyLimit:    4 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestContext())

	logFormat := "[${time}] ${status} - ${latency} ${method} ${path} ${locals:requestid}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${locals:requestid}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health" || c.Path() == "/metrics"
		},
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	return app
}

// openStores returns the artifact store and ledger for the configured
// driver, plus a function releasing them.
func openStores(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (artifact.Store, metering.Ledger, func(), error) {
	if cfg.Storage.Driver != config.StoragePostgres {
		log.Warn().Msg("using in-memory artifact store and ledger; data is lost on restart")
		return artifact.NewMemoryStore(), metering.NewMemoryLedger(), func() {}, nil
	}

	pool, err := db.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	log.Info().Msg("postgres storage ready")
	return artifact.NewPostgresStore(pool), metering.NewPostgresLedger(pool), pool.Close, nil
}

func startWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg *config.Config,
	log *zerolog.Logger,
	jobStore *jobs.Store,
	artifacts artifact.Store,
	gate *metering.Gate,
	hub *ws.Hub,
) {
	handlers := tasks.New(tasks.Deps{
		Artifacts: artifacts,
		AI:        client.NewAIClient(&cfg.AI),
		TTS:       client.NewTTSClient(&cfg.TTS),
		Render:    client.NewRenderClient(&cfg.Render),
		Content:   client.NewContentClient(&cfg.Content),
		Retry: worker.RetryPolicy{
			Retries: cfg.Worker.HandlerRetries,
			Backoff: time.Duration(cfg.Worker.RetryBackoffMs) * time.Millisecond,
		},
	}, log)

	exec := worker.NewExecutor(jobStore, gate, log, worker.WithNotifier(hub))
	handlers.Register(exec)

	pool := worker.NewPool(jobStore, exec, worker.PoolConfig{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: time.Duration(cfg.Worker.PollIntervalMs) * time.Millisecond,
	}, log)

	reaper := worker.NewReaper(jobStore,
		time.Duration(cfg.Worker.StaleAfterSec)*time.Second, cfg.Worker.MaxAttempts, log)
	settlements := worker.NewSettlements(jobStore, gate, log)
	maintenance := worker.NewMaintenance(cfg, reaper, settlements, log)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := maintenance.Run(ctx); err != nil {
			log.Error().Err(err).Msg("maintenance stopped")
		}
	}()
}

func customErrorHandler(log *zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		var e *fiber.Error
		if errors.As(err, &e) {
			code = e.Code
			message = e.Message
		} else {
			logging.With(c.UserContext(), log).Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
		}

		return c.Status(code).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    "SERVICE_ERROR",
				"message": message,
			},
		})
	}
}
