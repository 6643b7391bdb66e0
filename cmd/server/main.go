package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	httpapi "gatekeeper-backend/internal/api/http"
	"gatekeeper-backend/internal/config"
	"gatekeeper-backend/internal/jobs"
	"gatekeeper-backend/internal/logger"
	"gatekeeper-backend/internal/messenger"
	"gatekeeper-backend/internal/notify"
	"gatekeeper-backend/internal/repository/postgres"
	"gatekeeper-backend/internal/scheduler"
	"gatekeeper-backend/internal/security"
	"gatekeeper-backend/internal/service"
	"gatekeeper-backend/internal/verification"
	"gatekeeper-backend/internal/workflow"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Gatekeeper Backend...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "address", cfg.GetServerAddress())
	logger.Info("Database configuration", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database, "user", cfg.Database.User)

	// Initialize Database
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

	// Initialize Security
	tokenManager := security.NewTokenManager(cfg.Security.TokenSecret)
	encryptor, err := security.NewEncryptor(cfg.Security.EncryptSecret)
	if err != nil {
		logger.Error("Failed to initialize encryptor", "error", err)
		log.Fatalf("Failed to initialize encryptor: %v", err)
	}

	// Initialize Bot API client
	botClient := messenger.NewClient(cfg.Bot.APIBaseURL, cfg.Bot.Token)
	chatCache := messenger.NewChatCache(botClient, time.Duration(cfg.Verification.ChatCacheTTLSeconds)*time.Second)

	// Initialize the notification coalescer
	notifier := notify.NewManager(
		service.NewPromptSender(botClient, cfg.Bot.Username),
		store.NotifyState,
		time.Duration(cfg.Verification.MinNotifyIntervalSeconds)*time.Second,
		time.Duration(cfg.Verification.SendRetrySeconds)*time.Second,
	)
	defer notifier.Shutdown()

	// Initialize the workflow engine and register the verification saga
	engine := workflow.NewEngine(store.Workflow)
	saga := verification.NewSaga(botClient, chatCache, notifier, store.Pending, cfg.Bot.Username,
		workflow.RetryPolicy{
			Limit:   cfg.Verification.NotifyRetryLimit,
			Delay:   time.Duration(cfg.Verification.NotifyRetryDelaySeconds) * time.Second,
			Backoff: workflow.BackoffLinear,
		})
	saga.Register(engine)

	orchestrator := verification.NewOrchestrator(store.Store, store, engine,
		verification.NewAutoPass(botClient, chatCache, cfg.Bot.Username))

	// Initialize Services
	admissionSvc := service.NewAdmissionService(store.Store, store, orchestrator, engine, chatCache)
	communitySvc := service.NewCommunityService(store.Communities, store.Admins, botClient, chatCache)
	statusSvc := service.NewStatusService(store.Store, chatCache, encryptor, time.Hour)

	// Resume sagas interrupted by the previous shutdown
	if err := engine.ResumeAll(context.Background()); err != nil {
		logger.Error("Failed to resume workflows", "error", err)
		log.Fatalf("Failed to resume workflows: %v", err)
	}

	// Start the maintenance scheduler
	jobRunner := jobs.NewJobRunner(store.Store, engine, communitySvc, notifier, cfg)
	sched := scheduler.NewScheduler(jobRunner)
	sched.Start()
	defer sched.Stop()

	// Set up the HTTP server
	handler := httpapi.NewHandler(httpapi.Deps{
		Admission:     admissionSvc,
		Community:     communitySvc,
		Status:        statusSvc,
		API:           botClient,
		Files:         botClient,
		Tokens:        tokenManager,
		Encryptor:     encryptor,
		BotToken:      cfg.Bot.Token,
		BotUsername:   cfg.Bot.Username,
		WebhookSecret: cfg.Bot.WebhookSecret,
	})
	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      handler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "address", cfg.GetServerAddress())
		errCh <- server.ListenAndServe()
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", "signal", fmt.Sprintf("%v", sig))
	case err := <-errCh:
		logger.Error("HTTP server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("Gatekeeper Backend stopped")
}
