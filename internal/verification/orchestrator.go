package verification

import (
	"context"
	"fmt"
	"time"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/logger"
	"gatekeeper-backend/internal/repository"
	"gatekeeper-backend/internal/workflow"

	"github.com/google/uuid"
)

// Outcome of admitting one request.
type Outcome string

const (
	OutcomeIgnored     Outcome = "ignored"
	OutcomePassed      Outcome = "passed"
	OutcomeSagaStarted Outcome = "saga-started"
)

// AdmitResult reports how an admission request was handled. SagaID and
// Deadline are set only for OutcomeSagaStarted.
type AdmitResult struct {
	Outcome  Outcome
	SagaID   string
	Deadline time.Time
}

// Orchestrator wires an inbound admission request into at most one live
// saga per (community, applicant).
type Orchestrator struct {
	repos    repository.Store
	tx       repository.TxRunner
	engine   *workflow.Engine
	autoPass *AutoPass

	newID func() string
	now   func() time.Time
}

func NewOrchestrator(repos repository.Store, tx repository.TxRunner, engine *workflow.Engine, autoPass *AutoPass) *Orchestrator {
	return &Orchestrator{
		repos:    repos,
		tx:       tx,
		engine:   engine,
		autoPass: autoPass,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Admit classifies the community and either ignores the request, auto-passes
// it, or supersedes any in-flight attempt with a fresh saga. The stale-answer
// erase, the pending-row upsert and the new instance row commit in one
// transaction; a re-applying applicant therefore never observes a mix of old
// and new state.
func (o *Orchestrator) Admit(ctx context.Context, req domain.AdmissionRequest, community *domain.Community) (*AdmitResult, error) {
	log := logger.WithComponent("orchestrator").With("community", req.CommunityID, "applicant", req.ApplicantID)

	switch Classify(community) {
	case DecisionIgnore:
		return &AdmitResult{Outcome: OutcomeIgnored}, nil
	case DecisionAutoPass:
		if err := o.autoPass.Approve(ctx, req, community); err != nil {
			return nil, fmt.Errorf("auto-pass failed: %w", err)
		}
		return &AdmitResult{Outcome: OutcomePassed}, nil
	}

	config := *community.Config
	timeout := time.Duration(config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	sagaID := o.newID()
	deadline := o.now().Add(timeout)

	var supersededSaga string
	err := o.tx.WithinTx(ctx, func(s repository.Store) error {
		// A fresh request invalidates any stale prior answer.
		if err := s.Answers.Delete(ctx, req.CommunityID, req.ApplicantID); err != nil {
			return err
		}
		existing, err := s.Pending.Get(ctx, req.CommunityID, req.ApplicantID)
		if err != nil {
			return err
		}
		if existing != nil {
			supersededSaga = existing.SagaID
		}
		if err := s.Pending.Upsert(ctx, &domain.PendingRequest{
			CommunityID:     req.CommunityID,
			ApplicantID:     req.ApplicantID,
			ApplicantChatID: req.ApplicantChatID,
			ApplicantBio:    req.Bio,
			Date:            o.now(),
			Deadline:        deadline,
			SagaID:          sagaID,
		}); err != nil {
			return err
		}
		return o.engine.Prepare(ctx, s.Workflow, WorkflowName, sagaID, SagaParams{
			CommunityID:     req.CommunityID,
			ApplicantID:     req.ApplicantID,
			ApplicantChatID: req.ApplicantChatID,
			Config:          config,
			Deadline:        deadline,
		})
	})
	if err != nil {
		return nil, err
	}

	if supersededSaga != "" {
		if err := o.engine.Terminate(ctx, supersededSaga); err != nil {
			log.Warn("Could not terminate superseded saga", "saga", supersededSaga, "error", err)
		}
	}
	if err := o.engine.Launch(ctx, sagaID); err != nil {
		return nil, fmt.Errorf("failed to launch saga %s: %w", sagaID, err)
	}
	log.Info("Verification saga started", "saga", sagaID, "deadline", deadline)
	return &AdmitResult{Outcome: OutcomeSagaStarted, SagaID: sagaID, Deadline: deadline}, nil
}
