package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lynnbot/assistant-server-go/internal/agent"
	"github.com/lynnbot/assistant-server-go/internal/config"
	"github.com/lynnbot/assistant-server-go/internal/database"
	"github.com/lynnbot/assistant-server-go/internal/errtrack"
	"github.com/lynnbot/assistant-server-go/internal/feishu"
	"github.com/lynnbot/assistant-server-go/internal/handler"
	"github.com/lynnbot/assistant-server-go/internal/jobs"
	"github.com/lynnbot/assistant-server-go/internal/llm"
	"github.com/lynnbot/assistant-server-go/internal/metrics"
	"github.com/lynnbot/assistant-server-go/internal/middleware"
	"github.com/lynnbot/assistant-server-go/internal/redis"
	"github.com/lynnbot/assistant-server-go/internal/repository"
	"github.com/lynnbot/assistant-server-go/internal/service"
)

// OAuth pages are opened by hand, so a small per-IP budget is plenty.
const (
	oauthRateLimit  = 20
	oauthRateWindow = time.Minute
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load timezone")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	applied, err := db.Migrate(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}
	cancel()
	log.Info().Ints("migrations", applied).Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	tracker, err := errtrack.New(cfg.SentryDSN, cfg.Environment)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize error tracker")
	}
	defer tracker.Flush(2 * time.Second)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(reg)

	llmClient, err := llm.NewClient(context.Background(), llm.Config{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create model client")
	}

	feishuClient := feishu.NewClient(cfg.FeishuBaseURL, config.FeishuHTTPTimeout, feishu.WithRateLimit(cfg.FeishuRateLimitPerSec))

	credentialRepo := repository.NewCredentialRepository(db.DB, cfg.TokenEncryptionKey)
	turnRepo := repository.NewTurnRepository(db.DB)
	knowledgeRepo := repository.NewKnowledgeRepository(db.DB)

	vault := service.NewCredentialVault(feishuClient, credentialRepo, cfg.FeishuAppID, cfg.FeishuAppSecret)
	decoder := service.NewPayloadDecoder(cfg.FeishuEncryptKey, cfg.FeishuVerificationToken)
	memory := service.NewMemoryStore(turnRepo)
	calendar := service.NewCalendarTools(vault, feishuClient, loc, cfg.AuthLinkURL())
	knowledgeClient := service.NewKnowledgeClient(cfg.RetrieverURL(), cfg.ServiceToken, config.KnowledgeHTTPTimeout)
	retriever := service.NewRetriever(knowledgeRepo, llmClient)
	replier := service.NewReplySender(vault, feishuClient)
	deduper := service.NewDeduplicator(redisClient.Client, cfg.DedupTTL())
	rateLimiter := service.NewRateLimiter(redisClient.Client)
	oauthService := service.NewOAuthService(feishuClient, vault, redisClient.Client, cfg.FeishuAppID, cfg.OAuthRedirectURL())

	assistant := agent.New(agent.Deps{
		Model:   llmClient,
		Memory:  memory,
		Tools:   agent.NewRegistry(agent.DefaultTools(knowledgeClient, calendar, cfg.CalendarWriteTools)...),
		Replier: replier,
		Deduper: deduper,
		Limiter: rateLimiter,
		Metrics: appMetrics,
		Tracker: tracker,
	}, agent.Options{
		Location:      loc,
		UserRateLimit: cfg.UserRateLimitPerMin,
	})

	baseCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	dispatcher := agent.NewDispatcher(baseCtx, assistant)

	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	signatureMiddleware := middleware.NewFeishuSignatureMiddleware(cfg.FeishuEncryptKey)
	serviceAuthMiddleware := middleware.NewServiceAuthMiddleware(cfg.ServiceToken)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(cfg.IsProduction())
	oauthRateLimitMiddleware := middleware.NewIPRateLimitMiddleware(rateLimiter, oauthRateLimit, oauthRateWindow, "oauth")

	webhookHandler := handler.NewWebhookHandler(decoder, dispatcher, appMetrics)
	oauthHandler := handler.NewOAuthHandler(oauthService)
	knowledgeHandler := handler.NewKnowledgeHandler(retriever)
	healthHandler := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"database": db.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Method(http.MethodGet, "/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", appMetrics.Handler())

	r.With(signatureMiddleware.Handler).Post(config.WebhookPath, webhookHandler.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		r.Use(oauthRateLimitMiddleware.Handler)
		r.Get(config.OAuthAuthorizePath, oauthHandler.Authorize)
		r.Get(config.OAuthCallbackPath, oauthHandler.Callback)
	})

	r.With(serviceAuthMiddleware.Handler).Post(config.KnowledgeRetrievePath, knowledgeHandler.Retrieve)

	cleanupJob := jobs.NewCleanupJob(credentialRepo, config.CredentialMaxAge, config.CredentialSweepInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerRequestTimeout + 5*time.Second,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr()).
			Str("model", llmClient.Model()).
			Str("timezone", loc.String()).
			Bool("calendarWriteTools", cfg.CalendarWriteTools).
			Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Int64("inFlight", dispatcher.InFlight()).Msg("waiting for agent runs")
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Int64("inFlight", dispatcher.InFlight()).Msg("agent runs still in flight at shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
