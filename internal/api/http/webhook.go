package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"gatekeeper-backend/internal/domain"
	"gatekeeper-backend/internal/logger"
	"gatekeeper-backend/internal/messenger"
	"gatekeeper-backend/internal/service"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// update is the subset of the platform's webhook payload the gatekeeper
// reacts to. Exactly one of the pointer fields is set per delivery.
type update struct {
	ChatJoinRequest *chatJoinRequest   `json:"chat_join_request"`
	MyChatMember    *chatMemberUpdated `json:"my_chat_member"`
	ChatMember      *chatMemberUpdated `json:"chat_member"`
	Message         *incomingMessage   `json:"message"`
}

type chatRef struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type userRef struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type chatJoinRequest struct {
	Chat       chatRef `json:"chat"`
	From       userRef `json:"from"`
	UserChatID int64   `json:"user_chat_id"`
	Bio        string  `json:"bio"`
}

type chatMemberUpdated struct {
	Chat          chatRef              `json:"chat"`
	NewChatMember messenger.ChatMember `json:"new_chat_member"`
	OldChatMember messenger.ChatMember `json:"old_chat_member"`
}

type incomingMessage struct {
	Chat chatRef  `json:"chat"`
	From *userRef `json:"from"`
	Text string   `json:"text"`
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(secretTokenHeader) != h.webhookSecret {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var u update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	log := logger.WithComponent("webhook")
	ctx := r.Context()

	switch {
	case u.ChatJoinRequest != nil:
		if u.ChatJoinRequest.Chat.Type == messenger.ChatTypeSupergroup {
			if _, err := h.admission.HandleJoinRequest(ctx, domain.AdmissionRequest{
				CommunityID:     u.ChatJoinRequest.Chat.ID,
				ApplicantID:     u.ChatJoinRequest.From.ID,
				ApplicantChatID: u.ChatJoinRequest.UserChatID,
				FirstName:       u.ChatJoinRequest.From.FirstName,
				LastName:        u.ChatJoinRequest.From.LastName,
				Username:        u.ChatJoinRequest.From.Username,
				Bio:             u.ChatJoinRequest.Bio,
			}); err != nil {
				log.Error("Join request handling failed",
					"community", u.ChatJoinRequest.Chat.ID, "applicant", u.ChatJoinRequest.From.ID, "error", err)
			}
		}

	case u.MyChatMember != nil:
		if u.MyChatMember.Chat.Type == messenger.ChatTypeSupergroup {
			permitted := messenger.CanManageAdmissions(u.MyChatMember.NewChatMember)
			if err := h.community.SetPermission(ctx, u.MyChatMember.Chat.ID, permitted); err != nil {
				log.Error("Permission update failed", "community", u.MyChatMember.Chat.ID, "error", err)
			}
		}

	case u.ChatMember != nil:
		h.handleMemberUpdate(ctx, u.ChatMember, log)

	case u.Message != nil:
		h.handleDirectMessage(ctx, u.Message)
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) handleMemberUpdate(ctx context.Context, mu *chatMemberUpdated, log *slog.Logger) {
	if mu.Chat.Type != messenger.ChatTypeSupergroup {
		return
	}
	wasAdmin := messenger.CanManageAdmissions(mu.OldChatMember)
	isAdmin := messenger.CanManageAdmissions(mu.NewChatMember)
	var err error
	switch {
	case isAdmin:
		err = h.community.AddAdmin(ctx, mu.Chat.ID, mu.NewChatMember.User.ID)
	case wasAdmin && !isAdmin:
		err = h.community.RemoveAdmin(ctx, mu.Chat.ID, mu.NewChatMember.User.ID)
	}
	if err != nil {
		log.Error("Administrator set update failed",
			"community", mu.Chat.ID, "user", mu.NewChatMember.User.ID, "error", err)
	}
}

// handleDirectMessage routes a private text message to the sender's newest
// unanswered admission request. Every reply carries the open-app button.
func (h *Handler) handleDirectMessage(ctx context.Context, msg *incomingMessage) {
	if msg.Chat.Type != messenger.ChatTypePrivate || msg.Text == "" || msg.From == nil {
		return
	}
	log := logger.WithComponent("webhook").With("applicant", msg.From.ID)

	if strings.HasPrefix(msg.Text, "/start") {
		h.reply(ctx, msg.Chat.ID, "请点击下方按钮启动小程序")
		return
	}

	pending, err := h.admission.LatestPendingRequest(ctx, msg.From.ID)
	if err != nil {
		log.Error("Could not look up pending request", "error", err)
		return
	}
	if pending == nil {
		h.reply(ctx, msg.Chat.ID, "当前暂无待处理的加群请求，或请求已过期。")
		return
	}

	details, _ := json.Marshal(map[string]any{
		"method":  "direct_message",
		"chat_id": msg.Chat.ID,
	})
	result, err := h.admission.HandleUserAnswered(ctx, pending.CommunityID, msg.From.ID, msg.Text, string(details))
	if err != nil {
		if errors.Is(err, service.ErrNoPendingRequest) {
			h.reply(ctx, msg.Chat.ID, "当前暂无待处理的加群请求，或请求已过期。")
			return
		}
		log.Error("Could not process direct message answer", "error", err)
		return
	}
	if !result.OK {
		h.reply(ctx, msg.Chat.ID, result.Message)
		return
	}
	h.reply(ctx, msg.Chat.ID, "✅ 你申请加入「"+pending.Title+"」的回答已收到，请等待管理员审核。")
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if _, err := h.api.SendMessage(ctx, messenger.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: messenger.OpenAppMarkup(h.botUsername),
	}); err != nil {
		logger.WithComponent("webhook").Warn("Could not send reply", "chat", chatID, "error", err)
	}
}
