package main

import (
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"gatekeeper-backend/internal/config"
	"gatekeeper-backend/internal/jobs"
	"gatekeeper-backend/internal/logger"
	"gatekeeper-backend/internal/messenger"
	"gatekeeper-backend/internal/notify"
	"gatekeeper-backend/internal/repository/postgres"
	"gatekeeper-backend/internal/scheduler"
	"gatekeeper-backend/internal/service"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit ('sweep-pending-requests', 'refresh-administrators', 'all')")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Gatekeeper Cronjob Runner...", "log_level", cfg.Log.Level)

	// Initialize Database
	logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port)
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(); err != nil {
		logger.Error("Failed to ping database", "error", err)
		log.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("Database connection established")

	// Initialize Repositories
	store := postgres.NewStore(db)

	// Initialize Bot API client
	botClient := messenger.NewClient(cfg.Bot.APIBaseURL, cfg.Bot.Token)
	chatCache := messenger.NewChatCache(botClient, time.Duration(cfg.Verification.ChatCacheTTLSeconds)*time.Second)

	notifier := notify.NewManager(
		service.NewPromptSender(botClient, cfg.Bot.Username),
		store.NotifyState,
		time.Duration(cfg.Verification.MinNotifyIntervalSeconds)*time.Second,
		time.Duration(cfg.Verification.SendRetrySeconds)*time.Second,
	)
	defer notifier.Shutdown()

	// The standalone runner never executes sagas, so it passes no engine:
	// the sweep removes orphaned rows but leaves running sagas to the server
	// process.
	communitySvc := service.NewCommunityService(store.Communities, store.Admins, botClient, chatCache)
	jobRunner := jobs.NewJobRunner(store.Store, nil, communitySvc, notifier, cfg)

	// Run a single job and exit if requested
	if *runOnce != "" {
		runSingleJob(jobRunner, *runOnce)
		return
	}

	// Start the scheduler and wait for a shutdown signal
	sched := scheduler.NewScheduler(jobRunner)
	sched.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", "signal", sig.String())

	sched.Stop()
	logger.Info("Gatekeeper Cronjob Runner stopped")
}

func runSingleJob(jobRunner *jobs.JobRunner, name string) {
	switch name {
	case "sweep-pending-requests":
		jobRunner.SweepPendingRequests()
	case "refresh-administrators":
		jobRunner.RefreshAdministrators()
	case "all":
		jobRunner.RunAll()
	default:
		logger.Error("Unknown job", "job", name)
		os.Exit(1)
	}
}
