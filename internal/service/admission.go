package service

import (
	"context"
	"time"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/logger"
	"gatekeeper-backend/internal/messenger"
	"gatekeeper-backend/internal/repository"
	"gatekeeper-backend/internal/verification"
	"gatekeeper-backend/internal/workflow"
)

type admissionService struct {
	repos        repository.Store
	tx           repository.TxRunner
	orchestrator *verification.Orchestrator
	engine       *workflow.Engine
	chats        *messenger.ChatCache
}

func NewAdmissionService(repos repository.Store, tx repository.TxRunner,
	orchestrator *verification.Orchestrator, engine *workflow.Engine,
	chats *messenger.ChatCache) AdmissionService {
	return &admissionService{
		repos:        repos,
		tx:           tx,
		orchestrator: orchestrator,
		engine:       engine,
		chats:        chats,
	}
}

func (s *admissionService) HandleJoinRequest(ctx context.Context, req domain.AdmissionRequest) (*verification.AdmitResult, error) {
	community, err := s.repos.Communities.Get(ctx, req.CommunityID)
	if err != nil {
		return nil, err
	}
	return s.orchestrator.Admit(ctx, req, community)
}

func (s *admissionService) HandleUserAnswered(ctx context.Context, communityID, applicantID int64, answer, details string) (*verification.ValidationResult, error) {
	var (
		result   verification.ValidationResult
		sagaID   string
		question string
	)
	err := s.tx.WithinTx(ctx, func(st repository.Store) error {
		pending, err := st.Pending.Get(ctx, communityID, applicantID)
		if err != nil {
			return err
		}
		community, err := st.Communities.Get(ctx, communityID)
		if err != nil {
			return err
		}
		if pending == nil || community == nil || community.Config == nil {
			// A row without a usable config cannot be resolved; drop it so
			// the applicant can re-apply.
			if pending != nil {
				if err := st.Pending.Delete(ctx, communityID, applicantID); err != nil {
					return err
				}
			}
			return ErrNoPendingRequest
		}

		result = verification.ValidateAnswer(answer, community.Config.AnswerConstraints)
		if !result.OK {
			return nil
		}

		sagaID = pending.SagaID
		question = community.Config.Question
		return st.Answers.Insert(ctx, &domain.AnswerRecord{
			CommunityID: communityID,
			ApplicantID: applicantID,
			Question:    question,
			Answer:      answer,
			Details:     details,
			Date:        time.Now(),
		})
	})
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return &result, nil
	}

	// The answer is already durable; losing the event only means the saga
	// resolves without surfacing it, so delivery failure is not returned to
	// the submitter.
	if err := s.engine.SendEvent(ctx, sagaID, verification.EventApplicantAnswered, verification.AnswerEvent{
		Answer:   answer,
		Details:  details,
		Question: question,
	}); err != nil {
		logger.WithComponent("admission").Error("Could not deliver answer event",
			"saga", sagaID, "community", communityID, "applicant", applicantID, "error", err)
	}
	return &result, nil
}

func (s *admissionService) HandleAdminAction(ctx context.Context, communityID, applicantID int64, action domain.AdminAction) error {
	if !action.Valid() {
		return ErrUnknownAction
	}
	pending, err := s.repos.Pending.Get(ctx, communityID, applicantID)
	if err != nil {
		return err
	}
	if pending == nil {
		return ErrNoPendingRequest
	}

	// The row goes away regardless of delivery: the administrator has
	// decided, and a dangling row would block a later re-application.
	defer func() {
		if err := s.repos.Pending.Delete(ctx, communityID, applicantID); err != nil {
			logger.WithComponent("admission").Error("Could not delete pending request after admin action",
				"community", communityID, "applicant", applicantID, "error", err)
		}
	}()

	return s.engine.SendEvent(ctx, pending.SagaID, verification.EventAdminAction,
		verification.AdminEvent{Action: action})
}

func (s *admissionService) LatestPendingRequest(ctx context.Context, applicantID int64) (*domain.PendingSummary, error) {
	rows, err := s.repos.Pending.ListByApplicant(ctx, applicantID)
	if err != nil {
		return nil, err
	}

	var latest *domain.PendingRequest
	for i := range rows {
		row := rows[i]
		answered, err := s.repos.Answers.Get(ctx, row.CommunityID, applicantID)
		if err != nil {
			return nil, err
		}
		if answered != nil {
			continue
		}
		if latest == nil || row.Date.After(latest.Date) {
			latest = &row
		}
	}
	if latest == nil {
		return nil, nil
	}

	title := "unknown"
	if chat, err := s.chats.GetChat(ctx, latest.CommunityID); err == nil {
		title = messenger.ChatTitle(chat)
	}
	return &domain.PendingSummary{CommunityID: latest.CommunityID, Title: title}, nil
}
