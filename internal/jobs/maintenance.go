package jobs

import (
	"context"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/logger"
)

// SweepPendingRequests enforces the rule that a pending row implies a live
// saga. Rows whose saga is persisted as running but not executing in this
// process are relaunched; rows whose saga is gone or finished are removed
// together with any community prompt still naming the applicant.
func (jr *JobRunner) SweepPendingRequests() {
	jr.runWithRecovery("sweep-pending-requests", func(ctx context.Context) {
		rows, err := jr.repos.Pending.ListAll(ctx)
		if err != nil {
			logger.Error("Could not list pending requests", "error", err)
			return
		}

		log := logger.WithComponent("sweep")
		for _, row := range rows {
			inst, err := jr.repos.Workflow.GetInstance(ctx, row.SagaID)
			if err != nil {
				log.Error("Could not load saga instance", "saga", row.SagaID, "error", err)
				continue
			}

			if inst != nil && inst.Status == domain.WorkflowStatusRunning {
				// Liveness is only observable in the process that executes
				// sagas; the standalone runner leaves running rows alone.
				if jr.engine != nil && !jr.engine.IsLive(row.SagaID) {
					log.Warn("Relaunching stalled saga",
						"saga", row.SagaID, "community", row.CommunityID, "applicant", row.ApplicantID)
					if err := jr.engine.Launch(ctx, row.SagaID); err != nil {
						log.Error("Could not relaunch saga", "saga", row.SagaID, "error", err)
					}
				}
				continue
			}

			log.Warn("Removing orphaned pending request",
				"saga", row.SagaID, "community", row.CommunityID, "applicant", row.ApplicantID)
			jr.notifier.Reset(row.CommunityID, row.ApplicantID)
			if err := jr.repos.Pending.Delete(ctx, row.CommunityID, row.ApplicantID); err != nil {
				log.Error("Could not delete orphaned pending request", "error", err)
			}
		}
	})
}

// RefreshAdministrators re-reads every known community's administrator list
// so demotions that never produced a webhook still take effect.
func (jr *JobRunner) RefreshAdministrators() {
	jr.runWithRecovery("refresh-administrators", func(ctx context.Context) {
		ids, err := jr.repos.Communities.ListIDs(ctx)
		if err != nil {
			logger.Error("Could not list communities", "error", err)
			return
		}
		for _, id := range ids {
			if err := jr.community.RefreshAdmins(ctx, id); err != nil {
				logger.WithComponent("refresh-admins").Error("Could not refresh administrator set",
					"community", id, "error", err)
			}
		}
	})
}
