package jobs

import (
	"context"
	"time"

	"gatekeeper-backend/internal/config"
	"gatekeeper-backend/internal/logger"
	"gatekeeper-backend/internal/notify"
	"gatekeeper-backend/internal/repository"
	"gatekeeper-backend/internal/service"
	"gatekeeper-backend/internal/workflow"
)

const jobTimeout = 5 * time.Minute

// JobRunner coordinates the scheduled maintenance jobs.
type JobRunner struct {
	repos     repository.Store
	engine    *workflow.Engine
	community service.CommunityService
	notifier  *notify.Manager
	config    *config.Config
}

func NewJobRunner(repos repository.Store, engine *workflow.Engine,
	community service.CommunityService, notifier *notify.Manager,
	cfg *config.Config) *JobRunner {
	return &JobRunner{
		repos:     repos,
		engine:    engine,
		community: community,
		notifier:  notifier,
		config:    cfg,
	}
}

// Config exposes the loaded configuration to the scheduler.
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	logger.Info("Starting job", "job", jobName)
	jobFunc(ctx)
	logger.Info("Job completed", "job", jobName)
}

// RunAll runs every maintenance job once (for manual execution).
func (jr *JobRunner) RunAll() {
	jr.SweepPendingRequests()
	jr.RefreshAdministrators()
}
