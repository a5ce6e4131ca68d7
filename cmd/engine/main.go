// Package main is the entry point for the mastery engine API server.
//
// The server ingests graded attempts, maintains per-(student, skill)
// mastery profiles, and serves adaptive next-item selections. It owns
// the write pipeline; periodic recalibration and replay sweeps run in
// the separate worker binary.
//
// The architecture follows Clean Architecture and DDD:
// - Domain: estimation entities with no external dependencies
// - Application: command and query handlers (CQRS)
// - Infrastructure: persistence, messaging, external clients
// - Interface: HTTP endpoints
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/skillforge/mastery-engine/config"
	"github.com/skillforge/mastery-engine/internal/application/command"
	"github.com/skillforge/mastery-engine/internal/application/eventhandler"
	"github.com/skillforge/mastery-engine/internal/application/query"
	"github.com/skillforge/mastery-engine/internal/calibration"
	"github.com/skillforge/mastery-engine/internal/domain/item"
	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/domain/skill"
	"github.com/skillforge/mastery-engine/internal/infrastructure/external/content"
	"github.com/skillforge/mastery-engine/internal/infrastructure/messaging"
	"github.com/skillforge/mastery-engine/internal/infrastructure/persistence/postgres"
	"github.com/skillforge/mastery-engine/internal/infrastructure/persistence/redis"
	httpserver "github.com/skillforge/mastery-engine/internal/interface/http"
	"github.com/skillforge/mastery-engine/internal/interface/http/handlers"
	"github.com/skillforge/mastery-engine/internal/pipeline"
	"github.com/skillforge/mastery-engine/internal/selector"
	"github.com/skillforge/mastery-engine/internal/tracer"
	"github.com/skillforge/mastery-engine/pkg/clock"
	"github.com/skillforge/mastery-engine/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting mastery engine",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.Bool("debug", cfg.App.Debug),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database")
	dbConn, err := postgres.NewConnection(ctx, postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Database,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. MIGRATIONS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("running database migrations")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache      *redis.Cache
		profileCache    profile.Cache
		exposureTracker item.ExposureTracker
	)

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis")
		redisCache, err = redis.NewCache(redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			// Redis only accelerates reads; the engine serves without it.
			log.Warn("failed to connect to Redis, caching disabled", logger.Err(err))
			redisCache = nil
		} else {
			defer redisCache.Close()
			profileCache = redis.NewProfileCache(redisCache)
			exposureTracker = redis.NewExposureTracker(redisCache)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	skillRepo := postgres.NewSkillRepository(dbConn)
	itemRepo := postgres.NewItemRepository(dbConn)
	attemptLog := postgres.NewAttemptLog(dbConn)
	profileStore := postgres.NewProfileStore(dbConn)
	committer := postgres.NewCommitter(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. EVENT BUS
	// With Redis present the bus spans instances over Pub/Sub so
	// cache invalidations reach every replica. Without it events stay
	// process-local.
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log

	var eventBus shared.EventBus
	if redisCache != nil {
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         redis.NewPubSub(redisCache),
			LocalBusConfig: busConfig,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to build event bus: %w", err)
		}
		eventBus = redisBus
		defer func() {
			_ = redisBus.Close()
		}()
	} else {
		localBus := messaging.NewInMemoryEventBus(busConfig)
		eventBus = localBus
		defer func() {
			_ = localBus.Close()
		}()
	}

	dispatcher := messaging.NewDispatcher(messaging.DispatcherConfig{
		EventBus:            eventBus,
		DeadLetterQueueSize: 100,
		Logger:              log,
	})
	if err := registerEventHandlers(dispatcher, profileCache, log); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. SKILL GRAPH
	// A cycle introduced by a bad registration fails here, not at
	// serving time.
	// ─────────────────────────────────────────────────────────────────────────
	skills, err := skillRepo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load skills: %w", err)
	}
	graph, err := skill.NewGraph(skills)
	if err != nil {
		return fmt.Errorf("failed to build skill graph: %w", err)
	}
	log.Info("skill graph loaded", logger.Int("skills", graph.Size()))

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ESTIMATION PIPELINE
	// ─────────────────────────────────────────────────────────────────────────
	seq, err := tracer.NewSequenceTracer(nil, 0, cfg.Engine.Saturation)
	if err != nil {
		return fmt.Errorf("failed to build sequence tracer: %w", err)
	}

	pipe, err := pipeline.New(
		graph, itemRepo, attemptLog, profileStore, committer,
		seq, eventBus, clock.System{},
		pipeline.Config{
			InferenceTimeout: cfg.Engine.InferenceTimeout,
			Saturation:       cfg.Engine.Saturation,
			FusionGate: func(studentID shared.StudentID) bool {
				return cfg.Features.SequenceFusionEnabled(&config.FeatureContext{StudentID: studentID.String()})
			},
		},
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer pipe.Close()

	sel, err := selector.New(graph, profileStore, itemRepo, exposureTracker,
		selector.Config{
			MasteryFloor:   cfg.Selector.MasteryFloor,
			MasteryCeiling: cfg.Selector.MasteryCeiling,
			TargetSuccess:  cfg.Selector.TargetSuccess,
			BandLow:        cfg.Selector.BandLow,
			BandHigh:       cfg.Selector.BandHigh,
		},
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to build selector: %w", err)
	}

	calibrator, err := calibration.NewCalibrator(itemRepo, attemptLog, profileStore, eventBus,
		calibration.FitConfig{
			Epsilon:       cfg.Calibration.Epsilon,
			MaxIterations: cfg.Calibration.MaxIterations,
			Damping:       cfg.Calibration.Damping,
			MinResponses:  cfg.Calibration.MinResponses,
		},
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to build calibrator: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. CONTENT SERVICE CLIENT (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var contentService item.ContentService
	var contentClient *content.Client
	if !cfg.Content.Disabled && cfg.Content.BaseURL != "" {
		clientConfig := content.DefaultClientConfig(cfg.Content.BaseURL)
		clientConfig.APIKey = cfg.Content.APIKey
		clientConfig.Timeout = cfg.Content.RequestTimeout
		clientConfig.RateLimiterConfig.RequestsPerSecond = cfg.Content.RequestsPerSecond
		clientConfig.RateLimiterConfig.BurstSize = cfg.Content.BurstSize
		clientConfig.RetryConfig.MaxRetries = cfg.Content.MaxRetries
		clientConfig.RetryConfig.InitialBackoff = cfg.Content.RetryBaseDelay
		clientConfig.RetryConfig.MaxBackoff = cfg.Content.RetryMaxDelay
		clientConfig.CircuitBreakerConfig.FailureThreshold = cfg.Content.CircuitBreakerThreshold
		clientConfig.CircuitBreakerConfig.Timeout = cfg.Content.CircuitBreakerTimeout
		clientConfig.CircuitBreakerConfig.HalfOpenMaxRetries = cfg.Content.CircuitBreakerHalfOpenMax
		clientConfig.Logger = log
		clientConfig.Debug = cfg.App.Debug

		contentClient = content.NewClient(clientConfig)
		contentService = contentClient
		log.Info("content service client ready", logger.String("base_url", cfg.Content.BaseURL))
	} else {
		log.Info("content service disabled, views carry metadata only")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	submitAttempt := command.NewSubmitAttemptHandler(pipe)
	recomputeMastery := command.NewRecomputeMasteryHandler(pipe, profileCache, log)
	registerSkill := command.NewRegisterSkillHandler(skillRepo)
	registerItem := command.NewRegisterItemHandler(itemRepo, skillRepo)
	deprecateItem := command.NewDeprecateItemHandler(itemRepo)
	calibrateItems := command.NewCalibrateItemsHandler(calibrator)

	getProfile := query.NewGetProfileHandler(graph, profileStore, profileCache, cfg.Redis.ProfileTTL, log)
	nextItem := query.NewNextItemHandler(sel, exposureTracker, contentService, log)
	calibrationReport := query.NewCalibrationReportHandler(itemRepo)

	// ─────────────────────────────────────────────────────────────────────────
	// 12. HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	healthChecker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	healthChecker.AddCheck("database", handlers.NewPingCheck(dbConn))
	if redisCache != nil {
		healthChecker.AddCheck("cache", handlers.NewPingCheck(redisCache))
	}
	if contentClient != nil {
		healthChecker.AddCheck("content_service", handlers.NewReachabilityCheck(contentClient))
	}
	healthChecker.SetDegradedFunc(pipe.Degraded)

	// ─────────────────────────────────────────────────────────────────────────
	// 13. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	httpConfig.RequestTimeout = cfg.HTTP.RequestTimeout
	httpConfig.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	httpConfig.EnableCORS = cfg.HTTP.EnableCORS
	httpConfig.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpConfig.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	httpConfig.AdminAPIKeys = cfg.HTTP.AdminAPIKeys

	server := httpserver.NewServer(httpConfig, httpserver.Dependencies{
		SubmitAttemptHandler:     submitAttempt,
		RecomputeMasteryHandler:  recomputeMastery,
		RegisterSkillHandler:     registerSkill,
		RegisterItemHandler:      registerItem,
		DeprecateItemHandler:     deprecateItem,
		CalibrateItemsHandler:    calibrateItems,
		GetProfileHandler:        getProfile,
		NextItemHandler:          nextItem,
		CalibrationReportHandler: calibrationReport,
		HealthChecker:            healthChecker,
		Logger:                   log,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", logger.String("address", server.Address()))
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 14. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("mastery engine is running", logger.String("address", server.Address()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("service error", logger.Err(err))
		return err
	}

	log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests first; the pipeline drains via defer.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		return err
	}

	log.Info("shutdown completed")
	return nil
}

// registerEventHandlers wires the application event handlers into the
// dispatcher.
func registerEventHandlers(d *messaging.Dispatcher, cache profile.Cache, log *logger.Logger) error {
	masteryChanged := eventhandler.NewOnMasteryChangedHandler(cache, log)
	recalibrated := eventhandler.NewOnItemRecalibratedHandler(log)
	degraded := eventhandler.NewOnDegradedModeHandler(log)

	registrations := []struct {
		eventType shared.EventType
		name      string
		handler   shared.EventHandler
	}{
		{shared.EventMasteryChanged, "invalidate_profile_cache", masteryChanged.HandleMasteryChanged},
		{shared.EventMasteryRecomputed, "log_mastery_recompute", masteryChanged.HandleMasteryRecomputed},
		{shared.EventItemRecalibrated, "log_item_recalibration", recalibrated.HandleRecalibrated},
		{shared.EventCalibrationCompleted, "log_calibration_run", recalibrated.HandleCalibrationCompleted},
		{shared.EventDegradedModeEntered, "alert_degraded_entered", degraded.HandleEntered},
		{shared.EventDegradedModeExited, "alert_degraded_exited", degraded.HandleExited},
	}

	for _, r := range registrations {
		if err := d.Register(r.eventType, r.name, r.handler); err != nil {
			return err
		}
	}
	return nil
}

// setupLogger builds the process logger from observability settings.
func setupLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	return logger.New(opts)
}
