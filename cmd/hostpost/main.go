package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hostpost/internal/config"
	"hostpost/internal/constants"
	"hostpost/internal/crypto"
	"hostpost/internal/database"
	"hostpost/internal/oauthstate"
	"hostpost/internal/retry"
	"hostpost/internal/service"
	"hostpost/internal/tracing"
	"hostpost/pkg/circuitbreaker"
	"hostpost/pkg/platforms/facebook"
	"hostpost/pkg/platforms/linkedin"
	"hostpost/pkg/platforms/twitter"
	"hostpost/pkg/platforms/types"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("hostpost %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	// Local deployments keep secrets in a .env file; absence is fine
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("Failed to load .env file: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting hostpost")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// Initialize OpenTelemetry tracing
	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// The cipher fails fast on a missing or weak secret
	cipher, err := crypto.NewTokenCipherFromEnv(logger)
	if err != nil {
		return fmt.Errorf("failed to initialize token cipher: %w", err)
	}

	// Initialize database with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err = backoff.DoWithPredicate(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	}, func(error) bool { return true })
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer func() { _ = db.Close() }()

	publishers := []types.Publisher{
		facebook.NewClient(cfg.Platforms.Facebook, db, cipher, logger),
		twitter.NewClient(cfg.Platforms.Twitter, db, cipher, logger),
		linkedin.NewClient(cfg.Platforms.LinkedIn, db, cipher, logger),
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		MinimumRequests:  uint32(cfg.Breaker.MinimumRequests),
		RecoveryTimeout:  time.Duration(cfg.Breaker.RecoveryTimeoutSec) * time.Second,
		MonitoringPeriod: time.Duration(cfg.Breaker.MonitoringPeriodSec) * time.Second,
	}, logger)

	reconciler := service.NewReconciler(db, cfg.Reconcile.LookaheadMinutes, cfg.Reconcile.GraceMinutes, logger)
	dispatcher := service.NewDispatcher(db, publishers, breaker, service.DispatcherOptions{
		BatchSize:            cfg.Dispatch.BatchSize,
		MaxAttempts:          cfg.Dispatch.MaxAttempts,
		RedeliveryBackoffMin: cfg.Dispatch.RedeliveryBackoffMin,
	}, logger)

	scheduler, err := service.NewScheduler(reconciler, dispatcher, cfg.Reconcile.IntervalMinutes, cfg.Dispatch.IntervalMinutes, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	stateStore := oauthstate.NewStore(cipher, constants.OAuthStateTTLMinutes*time.Minute, config.IsProduction(), logger)

	server := NewServer(cfg, stateStore, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownSec*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("Shutdown complete")
	return nil
}
