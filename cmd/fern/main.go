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

	"github.com/Gobusters/ectoenv"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/pkg/airtable"
	"github.com/Ramsey-B/fern/pkg/conditional"
	"github.com/Ramsey-B/fern/pkg/credentials"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/notifications"
	fernredis "github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/submissions"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/webhooks"
)

// version is set at build time
var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, zapLogger, err := logging.New(cfg.AppName, cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    cfg.AppName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Enabled:        cfg.OTLPEnabled,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		OTLPProtocol:   cfg.OTLPProtocol,
		OTLPInsecure:   cfg.OTLPInsecure,
	})
	if err != nil {
		logger.WithError(err).Error("failed to initialize tracing")
		log.Fatalf("failed to initialize tracing: %v", err)
	}

	var (
		rawDB       *sqlx.DB
		db          database.DB
		redisClient *fernredis.Client
		producer    *events.Producer
		sweeper     *webhooks.Sweeper
		checker     *health.Checker
		e           *echo.Echo
	)

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)

	boot.AddDependency(&startup.Dependency{
		Name: "database",
		StartFn: func(ctx context.Context) error {
			dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
				cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName,
				cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode)

			var err error
			rawDB, err = sqlx.ConnectContext(ctx, cfg.DatabaseDriver, dsn)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}

			rawDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
			rawDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
			rawDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

			db = database.NewDatabaseInstance(rawDB, logger)
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if rawDB == nil {
				return nil
			}
			return rawDB.Close()
		},
	})

	boot.AddDependency(&startup.Dependency{
		Name:  "migrations",
		Needs: []string{"database"},
		StartFn: func(ctx context.Context) error {
			driver, err := postgres.WithInstance(rawDB.DB, &postgres.Config{})
			if err != nil {
				return fmt.Errorf("failed to create migration driver: %w", err)
			}

			migrations := database.NewMigrationService(logger, &database.MigrationConfig{
				MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
				Version:             uint(cfg.DatabaseMigrationVersion),
				AutoRollback:        cfg.DatabaseMigrationAutoRollback,
			})
			return migrations.Migrate(cfg.DatabaseName, driver)
		},
	})

	boot.AddDependency(&startup.Dependency{
		Name: "redis",
		StartFn: func(ctx context.Context) error {
			var err error
			redisClient, err = fernredis.NewClient(fernredis.Config{
				Host:     cfg.RedisHost,
				Port:     cfg.RedisPort,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, logger)
			return err
		},
		StopFn: func(ctx context.Context) error {
			if redisClient == nil {
				return nil
			}
			return redisClient.Close()
		},
	})

	boot.AddDependency(&startup.Dependency{
		Name: "kafka",
		StartFn: func(ctx context.Context) error {
			producer = events.NewProducer(events.ParseConfig(cfg.KafkaBrokers, cfg.KafkaEventsTopic), logger)
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if producer == nil {
				return nil
			}
			return producer.Close()
		},
	})

	boot.AddDependency(&startup.Dependency{
		Name:  "http",
		Needs: []string{"database", "migrations", "redis", "kafka"},
		StartFn: func(ctx context.Context) error {
			credentialRepo := repositories.NewCredentialRepository(db, logger)
			formRepo := repositories.NewFormRepository(db, logger)
			submissionRepo := repositories.NewSubmissionRepository(db, logger)
			subscriptionRepo := repositories.NewSubscriptionRepository(db, logger)

			httpClient := httpclient.NewClient(httpclient.Config{}, logger)
			airtableClient := airtable.NewClient(airtable.Config{
				BaseURL:      cfg.AirtableBaseURL,
				AuthBaseURL:  cfg.AirtableAuthBaseURL,
				ClientID:     cfg.AirtableClientID,
				ClientSecret: cfg.AirtableClientSecret,
				RedirectURI:  cfg.PublicBaseURL + "/oauth/callback",
				Scopes:       cfg.AirtableScopes,
			}, httpClient, logger)

			credentialStore := credentials.NewStore(credentialRepo, airtableClient, logger)
			evaluator := conditional.NewEvaluator(logger)
			pipeline := submissions.NewPipeline(evaluator, logger)
			submissionService := submissions.NewService(pipeline, formRepo, submissionRepo,
				credentialStore, airtableClient, producer, logger)

			locker := fernredis.NewLocker(redisClient, "lock:")
			verifiers := fernredis.NewVerifierStore(redisClient, 10*time.Minute)
			limiter := fernredis.NewRateLimiter(redisClient, "ratelimit:")
			publicRateLimit := middleware.RateLimit(limiter, logger, cfg.SubmitRateLimit, cfg.SubmitRateWindow)

			manager := webhooks.NewManager(subscriptionRepo, formRepo, credentialStore,
				airtableClient, producer, cfg.PublicBaseURL+"/webhooks/notifications", logger)
			sweeper = webhooks.NewSweeper(manager, subscriptionRepo, locker, webhooks.SweeperConfig{
				Interval:         cfg.SweepInterval,
				RenewalThreshold: cfg.SweepRenewalThreshold,
				ItemTimeout:      cfg.SweepItemTimeout,
			}, logger)

			processor := notifications.NewProcessor(subscriptionRepo, submissionRepo, producer, locker, logger)

			checker = health.NewChecker(db, redisClient, producer, version)

			e = echo.New()
			e.HideBanner = true
			e.HTTPErrorHandler = middleware.Error(logger)
			e.Use(echomw.Recover())
			e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
				AllowOrigins: cfg.AllowOrigins,
				AllowMethods: cfg.AllowMethods,
			}))
			e.Use(otelecho.Middleware(cfg.AppName))
			e.Use(middleware.Context())
			e.Use(middleware.Logger(logger))

			e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
			checker.RegisterRoutes(e)

			api := e.Group("/api/v1")
			if cfg.AuthEnabled {
				api.Use(middleware.Authentication(logger, cfg.AuthIssuerURL, cfg.AuthClientID))
			}

			oauthHandler := handlers.NewOAuthHandler(airtableClient, credentialStore, verifiers, cfg.FrontendBaseURL, logger)
			oauthHandler.RegisterAuthorize(api)
			oauthHandler.RegisterCallback(e)

			handlers.NewFormHandler(formRepo, manager, logger).RegisterRoutes(api)

			submissionHandler := handlers.NewSubmissionHandler(submissionService, submissionRepo, formRepo)
			submissionHandler.RegisterRoutes(api)
			submissionHandler.RegisterPublic(e, publicRateLimit)

			handlers.NewSubscriptionHandler(manager).RegisterRoutes(api)
			handlers.NewWebhookHandler(processor, logger).RegisterPublic(e, publicRateLimit)

			e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
			e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
			e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
			e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
			e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

			go func() {
				if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
					logger.WithError(err).Error("http server stopped unexpectedly")
				}
			}()

			return nil
		},
		StopFn: func(ctx context.Context) error {
			if e == nil {
				return nil
			}
			return e.Shutdown(ctx)
		},
	})

	boot.AddDependency(&startup.Dependency{
		Name:  "sweeper",
		Needs: []string{"http"},
		StartFn: func(ctx context.Context) error {
			if !cfg.SweeperEnabled {
				logger.Info("renewal sweeper disabled")
				return nil
			}
			return sweeper.Start(ctx)
		},
		StopFn: func(ctx context.Context) error {
			if sweeper == nil || !sweeper.IsRunning() {
				return nil
			}
			return sweeper.Stop(ctx)
		},
	})

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("startup failed")
		log.Fatalf("startup failed: %v", err)
	}

	checker.SetReady(true)
	logger.Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if checker != nil {
		checker.SetReady(false)
	}
	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Error("failed to flush traces")
	}

	logger.Info("goodbye")
}
