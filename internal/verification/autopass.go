package verification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/logger"
	"gatekeeper-backend/internal/messenger"
	"gatekeeper-backend/internal/template"
)

const autoPassAnswer = "(自动通过，无需回答)"

// AutoPass handles pass-mode communities: approve immediately, greet, and
// never persist anything.
type AutoPass struct {
	api         messenger.API
	chats       *messenger.ChatCache
	botUsername string
}

func NewAutoPass(api messenger.API, chats *messenger.ChatCache, botUsername string) *AutoPass {
	return &AutoPass{api: api, chats: chats, botUsername: botUsername}
}

// Approve admits the applicant. Welcome messages are best-effort; only the
// membership approval itself can fail the call, and "already resolved"
// conditions count as success.
func (a *AutoPass) Approve(ctx context.Context, req domain.AdmissionRequest, community *domain.Community) error {
	err := a.api.ApproveJoinRequest(ctx, req.CommunityID, req.ApplicantID)
	if err != nil {
		if messenger.IsAlreadyResolved(err) || messenger.IsPermanent(err) {
			return nil
		}
		return err
	}

	log := logger.WithComponent("auto-pass").With("community", req.CommunityID, "applicant", req.ApplicantID)
	config := community.Config

	chat, chatErr := a.chats.GetChat(ctx, req.CommunityID)
	title := ""
	inviteLink := ""
	if chatErr == nil {
		title = messenger.ChatTitle(chat)
		if chat.Type == messenger.ChatTypeSupergroup {
			inviteLink = messenger.ChatInviteLink(chat)
		}
	}

	displayName := req.DisplayName()
	if displayName == "" {
		displayName = fmt.Sprintf("%d", req.ApplicantID)
	}
	deadline := time.Now().Add(time.Duration(config.TimeoutSeconds) * time.Second)
	tmplCtx := buildTemplateContext(req.CommunityID, req.ApplicantID, config.Question, deadline,
		chatContext{
			CommunityTitle: title,
			FirstName:      req.FirstName,
			LastName:       req.LastName,
			Username:       req.Username,
			DisplayName:    displayName,
			Bio:            req.Bio,
		}, a.botUsername, &responseContext{Answer: autoPassAnswer, Details: "(none)"})

	rendered := strings.TrimSpace(template.Render(config.Welcome, tmplCtx))
	params := messenger.SendMessageParams{ChatID: req.CommunityID, Text: rendered, ParseMode: messenger.ParseModeMarkdown}
	if rendered == "" {
		params.Text = fmt.Sprintf("欢迎 %s 加入「%s」", displayName, title)
		params.ParseMode = ""
	}
	if _, err := a.api.SendMessage(ctx, params); err != nil {
		log.Warn("Could not send auto-pass welcome to community", "error", err)
	}

	var markup *messenger.ReplyMarkup
	if inviteLink != "" {
		markup = messenger.InviteMarkup(inviteLink)
	}
	if _, err := a.api.SendMessage(ctx, messenger.SendMessageParams{
		ChatID:      req.ApplicantChatID,
		Text:        fmt.Sprintf("你加入「%s」的申请已自动通过。", title),
		ReplyMarkup: markup,
	}); err != nil {
		log.Warn("Could not send auto-pass confirmation to applicant", "error", err)
	}
	return nil
}
