// Package main is the entry point for the mastery engine worker.
//
// The worker runs the periodic maintenance jobs that the API server
// does not:
// - Nightly IRT recalibration of the item pool
// - Weekly replay sweeps that rebuild mastery profiles from the
//   attempt log
//
// It shares the database and event bus wiring with the server binary
// but exposes no HTTP surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/skillforge/mastery-engine/config"
	"github.com/skillforge/mastery-engine/internal/calibration"
	"github.com/skillforge/mastery-engine/internal/domain/profile"
	"github.com/skillforge/mastery-engine/internal/domain/shared"
	"github.com/skillforge/mastery-engine/internal/domain/skill"
	"github.com/skillforge/mastery-engine/internal/infrastructure/messaging"
	"github.com/skillforge/mastery-engine/internal/infrastructure/persistence/postgres"
	"github.com/skillforge/mastery-engine/internal/infrastructure/persistence/redis"
	"github.com/skillforge/mastery-engine/internal/infrastructure/scheduler"
	"github.com/skillforge/mastery-engine/internal/infrastructure/scheduler/jobs"
	"github.com/skillforge/mastery-engine/internal/pipeline"
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
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	log := logger.New(opts)
	log.Info("starting mastery engine worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE
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

	// The worker runs migrations too so it can be deployed first.
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional, for cache invalidation after replay)
	// ─────────────────────────────────────────────────────────────────────────
	var profileCache profile.Cache
	if !cfg.Redis.Disabled {
		redisCache, err := redis.NewCache(redis.Config{
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
			log.Warn("failed to connect to Redis, replayed profiles will age out of cache", logger.Err(err))
		} else {
			defer redisCache.Close()
			profileCache = redis.NewProfileCache(redisCache)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REPOSITORIES AND EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	skillRepo := postgres.NewSkillRepository(dbConn)
	itemRepo := postgres.NewItemRepository(dbConn)
	attemptLog := postgres.NewAttemptLog(dbConn)
	profileStore := postgres.NewProfileStore(dbConn)
	committer := postgres.NewCommitter(dbConn)

	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	eventBus := messaging.NewInMemoryEventBus(busConfig)
	defer func() {
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ESTIMATION PIPELINE (for replay)
	// ─────────────────────────────────────────────────────────────────────────
	skills, err := skillRepo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load skills: %w", err)
	}
	graph, err := skill.NewGraph(skills)
	if err != nil {
		return fmt.Errorf("failed to build skill graph: %w", err)
	}

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
	// 7. SCHEDULER AND JOBS
	// ─────────────────────────────────────────────────────────────────────────
	schedConfig := scheduler.DefaultSchedulerConfig()
	schedConfig.Logger = log
	sched := scheduler.NewScheduler(schedConfig)

	recalibrateJob := jobs.NewRecalibrateItemsJob(calibrator, log, jobs.RecalibrateItemsConfig{
		Timeout:            cfg.Scheduler.RecalibrateTimeout,
		MaxFlaggedFraction: 0.5,
	})
	recalibrateSchedule, err := scheduler.ParseCronExpression(cfg.Scheduler.RecalibrateCron)
	if err != nil {
		return fmt.Errorf("invalid recalibration cron %q: %w", cfg.Scheduler.RecalibrateCron, err)
	}
	if err := sched.Register(recalibrateJob, recalibrateSchedule); err != nil {
		return fmt.Errorf("failed to register recalibration job: %w", err)
	}

	sweepJob := jobs.NewReplaySweepJob(pipe, attemptLog, profileCache, log, jobs.ReplaySweepConfig{
		Timeout:     cfg.Scheduler.ReplaySweepTimeout,
		MaxFailures: cfg.Scheduler.ReplayMaxFailures,
	})
	sweepSchedule, err := scheduler.ParseCronExpression(cfg.Scheduler.ReplaySweepCron)
	if err != nil {
		return fmt.Errorf("invalid replay sweep cron %q: %w", cfg.Scheduler.ReplaySweepCron, err)
	}
	if err := sched.Register(sweepJob, sweepSchedule); err != nil {
		return fmt.Errorf("failed to register replay sweep job: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("worker is running",
		logger.String("recalibrate_cron", cfg.Scheduler.RecalibrateCron),
		logger.String("replay_sweep_cron", cfg.Scheduler.ReplaySweepCron),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", logger.String("signal", sig.String()))

	log.Info("stopping scheduler, running jobs finish first")
	if err := sched.Stop(); err != nil {
		log.Error("scheduler stop failed", logger.Err(err))
		return err
	}

	log.Info("shutdown completed")
	return nil
}
