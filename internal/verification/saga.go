package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/logger"
	"gatekeeper-backend/internal/messenger"
	"gatekeeper-backend/internal/notify"
	"gatekeeper-backend/internal/repository"
	"gatekeeper-backend/internal/template"
	"gatekeeper-backend/internal/workflow"
)

// WorkflowName is the saga's registration key in the workflow engine.
const WorkflowName = "verify-applicant"

// Event types a running saga waits on.
const (
	EventApplicantAnswered = "applicant_answered"
	EventAdminAction       = "admin_action"
)

// AnswerEvent is the payload of an applicant's accepted answer. The answer
// has already passed constraint validation before the event is sent.
type AnswerEvent struct {
	Answer   string `json:"answer"`
	Details  string `json:"details"`
	Question string `json:"question"`
}

// AdminEvent is the payload of an administrator's decision.
type AdminEvent struct {
	Action domain.AdminAction `json:"action"`
}

// SagaParams is the immutable input of one verification run. Deadline is
// absolute, computed once at start, never extended.
type SagaParams struct {
	CommunityID     int64                  `json:"community_id"`
	ApplicantID     int64                  `json:"applicant_id"`
	ApplicantChatID int64                  `json:"applicant_chat_id"`
	Config          domain.CommunityConfig `json:"config"`
	Deadline        time.Time              `json:"deadline"`
}

const (
	defaultResponseTemplate = "用户{{user.display_name}}回答：\n{{response.answer}}"
	placeholderAnswer       = "(管理员直接批准，未回答问题)"
)

// Saga runs the verification state machine for one admission attempt.
type Saga struct {
	api         messenger.API
	chats       *messenger.ChatCache
	notifier    *notify.Manager
	pending     repository.PendingRequestRepository
	botUsername string
	notifyRetry workflow.RetryPolicy
}

func NewSaga(api messenger.API, chats *messenger.ChatCache, notifier *notify.Manager,
	pending repository.PendingRequestRepository, botUsername string, notifyRetry workflow.RetryPolicy) *Saga {
	return &Saga{
		api:         api,
		chats:       chats,
		notifier:    notifier,
		pending:     pending,
		botUsername: botUsername,
		notifyRetry: notifyRetry,
	}
}

func (s *Saga) Register(engine *workflow.Engine) {
	engine.Register(WorkflowName, s.run)
}

func (s *Saga) run(ctx context.Context, run *workflow.Run, raw []byte) error {
	var p SagaParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("malformed saga params: %w", err)
	}
	log := logger.WithSaga(run.InstanceID())

	var groupMessageID int64
	defer s.cleanup(ctx, p, &groupMessageID, run.InstanceID())

	// Step 1: resolve display metadata once; every later render reuses it.
	info, err := workflow.StepValue(ctx, run, "fetch chat info",
		workflow.RetryPolicy{Limit: 3, Delay: time.Second}, func(ctx context.Context) (chatContext, error) {
			return s.fetchChatInfo(ctx, p)
		})
	if err != nil {
		return err
	}

	// Step 2: prompt the applicant privately. Losing this message must not
	// keep the saga from reaching a terminal state.
	if err := run.Step(ctx, "notify applicant", s.notifyRetry, func(ctx context.Context) error {
		text := template.Render(p.Config.Prompt.TextInPrivate, s.templateContext(p, info, nil))
		_, err := s.api.SendMessage(ctx, messenger.SendMessageParams{
			ChatID:      p.ApplicantChatID,
			Text:        text,
			ParseMode:   messenger.ParseModeMarkdown,
			ReplyMarkup: messenger.OpenAppMarkup(s.botUsername),
		})
		if messenger.IsPermanent(err) {
			return workflow.NonRetryable(err)
		}
		return err
	}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("Could not notify applicant, continuing", "error", err)
	}

	// Step 3: surface the community-visible prompt through the coalescer.
	if err := run.Step(ctx, "notify community", workflow.Once, func(context.Context) error {
		text := template.Render(p.Config.Prompt.TextInGroup, s.templateContext(p, info, nil))
		s.notifier.Notify(p.CommunityID, p.ApplicantID, text)
		return nil
	}); err != nil {
		return err
	}

	// Step 4: race {admin action, applicant answer, deadline}. An answer
	// does not resolve the saga; only an admin decision or the deadline
	// does. When an admin action and the deadline are ready in the same
	// pass the admin action wins.
	first, err := run.WaitAny(ctx, "wait for resolution", p.Deadline, EventAdminAction, EventApplicantAnswered)
	if err != nil {
		return err
	}

	answerText := placeholderAnswer
	resolution := first
	if first.Type == EventApplicantAnswered {
		var answer AnswerEvent
		if err := json.Unmarshal(first.Payload, &answer); err != nil {
			return fmt.Errorf("malformed answer event: %w", err)
		}
		answerText = answer.Answer

		groupMessageID, err = workflow.StepValue(ctx, run, "post answer to community", workflow.Once,
			func(ctx context.Context) (int64, error) {
				tmpl := p.Config.ResponseTemplate
				if tmpl == "" {
					tmpl = defaultResponseTemplate
				}
				text := template.Render(tmpl, s.templateContext(p, info, &responseContext{
					Answer:  answer.Answer,
					Details: answer.Details,
				}))
				sent, err := s.api.SendMessage(ctx, messenger.SendMessageParams{
					ChatID:      p.CommunityID,
					Text:        text,
					ParseMode:   messenger.ParseModeMarkdown,
					ReplyMarkup: messenger.OpenAppMarkup(s.botUsername),
				})
				if err != nil {
					log.Warn("Could not surface answer to community", "error", err)
					return 0, nil
				}
				return sent.MessageID, nil
			})
		if err != nil {
			return err
		}

		resolution, err = run.WaitAny(ctx, "wait for admin action", p.Deadline, EventAdminAction)
		if err != nil {
			return err
		}
	}

	// Step 5: resolve.
	if resolution.TimedOut() {
		return run.Step(ctx, "decline on timeout", workflow.Once, func(ctx context.Context) error {
			return s.declineMembership(ctx, p)
		})
	}

	var action AdminEvent
	if err := json.Unmarshal(resolution.Payload, &action); err != nil {
		return fmt.Errorf("malformed admin event: %w", err)
	}
	switch action.Action {
	case domain.AdminActionApprove:
		return s.resolveApproved(ctx, run, p, info, answerText, log)
	case domain.AdminActionDecline:
		return run.Step(ctx, "decline membership", workflow.Once, func(ctx context.Context) error {
			return s.declineMembership(ctx, p)
		})
	case domain.AdminActionBan:
		// The ban is attempted even when the decline fails: the
		// administrative intent was explicit.
		declineErr := run.Step(ctx, "decline before ban", workflow.Once, func(ctx context.Context) error {
			return s.declineMembership(ctx, p)
		})
		if declineErr != nil {
			log.Error("Decline before ban failed, banning anyway", "error", declineErr)
		}
		return run.Step(ctx, "ban member", workflow.Once, func(ctx context.Context) error {
			err := s.api.BanMember(ctx, p.CommunityID, p.ApplicantID)
			if err == nil || messenger.IsAlreadyResolved(err) {
				return nil
			}
			if messenger.IsPermanent(err) {
				return workflow.NonRetryable(err)
			}
			return err
		})
	default:
		return workflow.NonRetryable(fmt.Errorf("unknown admin action %q", action.Action))
	}
}

func (s *Saga) resolveApproved(ctx context.Context, run *workflow.Run, p SagaParams,
	info chatContext, answerText string, log *slog.Logger) error {

	if err := run.Step(ctx, "approve membership", workflow.Once, func(ctx context.Context) error {
		err := s.api.ApproveJoinRequest(ctx, p.CommunityID, p.ApplicantID)
		if err == nil || messenger.IsAlreadyResolved(err) {
			return nil
		}
		if messenger.IsPermanent(err) {
			return workflow.NonRetryable(err)
		}
		return err
	}); err != nil {
		return err
	}

	response := &responseContext{Answer: answerText, Details: "(none)"}

	if err := run.Step(ctx, "welcome community", workflow.Once, func(ctx context.Context) error {
		text := template.Render(p.Config.Welcome, s.templateContext(p, info, response))
		if text == "" {
			return nil
		}
		_, err := s.api.SendMessage(ctx, messenger.SendMessageParams{
			ChatID:    p.CommunityID,
			Text:      text,
			ParseMode: messenger.ParseModeMarkdown,
		})
		if err != nil {
			log.Warn("Could not send community welcome", "error", err)
		}
		return nil
	}); err != nil {
		return err
	}

	return run.Step(ctx, "welcome applicant", workflow.Once, func(ctx context.Context) error {
		var markup *messenger.ReplyMarkup
		if info.InviteLink != "" {
			markup = messenger.InviteMarkup(info.InviteLink)
		}
		_, err := s.api.SendMessage(ctx, messenger.SendMessageParams{
			ChatID:      p.ApplicantChatID,
			Text:        fmt.Sprintf("欢迎加入「%s」群组！", info.CommunityTitle),
			ReplyMarkup: markup,
		})
		if err != nil {
			log.Warn("Could not send applicant welcome", "error", err)
		}
		return nil
	})
}

func (s *Saga) fetchChatInfo(ctx context.Context, p SagaParams) (chatContext, error) {
	userChat, err := s.api.GetChat(ctx, p.ApplicantChatID)
	if err != nil {
		if messenger.IsPermanent(err) {
			return chatContext{}, workflow.NonRetryable(err)
		}
		return chatContext{}, err
	}
	communityChat, err := s.chats.GetChat(ctx, p.CommunityID)
	if err != nil {
		if messenger.IsPermanent(err) {
			return chatContext{}, workflow.NonRetryable(err)
		}
		return chatContext{}, err
	}
	if userChat.Type != messenger.ChatTypePrivate {
		return chatContext{}, workflow.NonRetryable(fmt.Errorf("applicant chat %d is not private", p.ApplicantChatID))
	}
	if communityChat.Type != messenger.ChatTypeSupergroup {
		return chatContext{}, workflow.NonRetryable(fmt.Errorf("community chat %d is not a supergroup", p.CommunityID))
	}
	return chatContext{
		CommunityTitle: messenger.ChatTitle(communityChat),
		InviteLink:     messenger.ChatInviteLink(communityChat),
		FirstName:      userChat.FirstName,
		LastName:       userChat.LastName,
		Username:       userChat.Username,
		DisplayName:    messenger.ChatTitle(userChat),
		Bio:            userChat.Bio,
	}, nil
}

func (s *Saga) templateContext(p SagaParams, info chatContext, response *responseContext) template.Context {
	return buildTemplateContext(p.CommunityID, p.ApplicantID, p.Config.Question, p.Deadline,
		info, s.botUsername, response)
}

func (s *Saga) declineMembership(ctx context.Context, p SagaParams) error {
	err := s.api.DeclineJoinRequest(ctx, p.CommunityID, p.ApplicantID)
	if err == nil || messenger.IsAlreadyResolved(err) {
		return nil
	}
	if messenger.IsPermanent(err) {
		return workflow.NonRetryable(err)
	}
	return err
}

// cleanup runs on every exit path except termination (a superseding request
// owns the pending row by then). Each action is independently best-effort
// and idempotent, so running it twice after a crash-and-resume is harmless.
func (s *Saga) cleanup(runCtx context.Context, p SagaParams, groupMessageID *int64, instanceID string) {
	if runCtx.Err() != nil {
		return
	}
	log := logger.WithSaga(instanceID)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.notifier.Reset(p.CommunityID, p.ApplicantID)
	if err := s.pending.Delete(ctx, p.CommunityID, p.ApplicantID); err != nil {
		log.Error("Cleanup could not delete pending request", "error", err)
	}
	if *groupMessageID != 0 {
		if err := s.api.DeleteMessage(ctx, p.CommunityID, *groupMessageID); err != nil {
			log.Warn("Cleanup could not delete answer message", "error", err)
		}
	}
}
