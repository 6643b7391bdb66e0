// Package messenger is the client for the messaging platform's bot API.
// Every operation may fail with a coded *Error; callers treat 4xx
// "already resolved" conditions as success-equivalent no-ops.
package messenger

import (
	"context"
	"errors"
	"strings"
	"time"
)

// API is the set of remote operations the gatekeeper consumes.
type API interface {
	SendMessage(ctx context.Context, params SendMessageParams) (*Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	ApproveJoinRequest(ctx context.Context, chatID, userID int64) error
	DeclineJoinRequest(ctx context.Context, chatID, userID int64) error
	BanMember(ctx context.Context, chatID, userID int64) error
	GetChat(ctx context.Context, chatID int64) (*ChatInfo, error)
	GetChatAdministrators(ctx context.Context, chatID int64) ([]ChatMember, error)
	GetFilePath(ctx context.Context, fileID string) (string, error)
}

// SendMessageParams describes an outbound chat message.
type SendMessageParams struct {
	ChatID      int64        `json:"chat_id"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode,omitempty"`
	ReplyMarkup *ReplyMarkup `json:"reply_markup,omitempty"`
}

// ParseModeMarkdown requests MarkdownV2 rendering of message text.
const ParseModeMarkdown = "MarkdownV2"

// Message is the platform's acknowledgement of a sent message.
type Message struct {
	MessageID int64 `json:"message_id"`
}

// ReplyMarkup is an inline keyboard attached to a message.
type ReplyMarkup struct {
	InlineKeyboard [][]InlineButton `json:"inline_keyboard"`
}

type InlineButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// OpenAppMarkup builds the "open the mini app" button shown under prompts.
func OpenAppMarkup(botUsername string) *ReplyMarkup {
	return &ReplyMarkup{
		InlineKeyboard: [][]InlineButton{
			{{Text: "Open app", URL: "https://t.me/" + botUsername + "?startapp"}},
		},
	}
}

// InviteMarkup builds a single-button keyboard linking into the community.
func InviteMarkup(inviteLink string) *ReplyMarkup {
	return &ReplyMarkup{
		InlineKeyboard: [][]InlineButton{
			{{Text: "Enter community", URL: inviteLink}},
		},
	}
}

// ChatInfo is the platform's chat metadata.
type ChatInfo struct {
	ID         int64      `json:"id"`
	Type       string     `json:"type"` // "private", "group", "supergroup", "channel"
	Title      string     `json:"title,omitempty"`
	FirstName  string     `json:"first_name,omitempty"`
	LastName   string     `json:"last_name,omitempty"`
	Username   string     `json:"username,omitempty"`
	Bio        string     `json:"bio,omitempty"`
	InviteLink string     `json:"invite_link,omitempty"`
	Photo      *ChatPhoto `json:"photo,omitempty"`
}

type ChatPhoto struct {
	BigFileID string `json:"big_file_id"`
}

const (
	ChatTypePrivate    = "private"
	ChatTypeSupergroup = "supergroup"
)

// ChatTitle resolves a human-readable name for any chat type.
func ChatTitle(chat *ChatInfo) string {
	if chat.Type == ChatTypePrivate {
		name := chat.FirstName
		if chat.LastName != "" {
			name += " " + chat.LastName
		}
		return name
	}
	return chat.Title
}

// ChatInviteLink returns the chat's invite link, falling back to the public
// username link; empty when neither is resolvable.
func ChatInviteLink(chat *ChatInfo) string {
	if chat.InviteLink != "" {
		return chat.InviteLink
	}
	if chat.Username != "" {
		return "https://t.me/" + chat.Username
	}
	return ""
}

// ChatMember is one entry of a chat's administrator list.
type ChatMember struct {
	Status         string     `json:"status"`
	CanInviteUsers bool       `json:"can_invite_users"`
	User           MemberUser `json:"user"`
}

type MemberUser struct {
	ID    int64 `json:"id"`
	IsBot bool  `json:"is_bot"`
}

// CanManageAdmissions reports whether a member may act on admission
// requests: the owner always can, other administrators only with the
// invite-users right.
func CanManageAdmissions(member ChatMember) bool {
	return member.Status == "creator" ||
		(member.Status == "administrator" && member.CanInviteUsers)
}

// Error is a coded failure from the bot API.
type Error struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration // non-zero when the platform asked us to back off
}

func (e *Error) Error() string {
	return "messenger: " + e.Method + ": " + e.Description
}

// IsPermanent reports whether err is a remote error that retrying cannot
// fix (a 4xx without a retry-after hint).
func IsPermanent(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.RetryAfter == 0
}

// IsForbidden reports whether err means the bot has lost access to the chat.
func IsForbidden(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == 403
}

// IsAlreadyResolved reports whether err is the platform telling us the
// requested membership change already happened; callers treat it as
// success.
func IsAlreadyResolved(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code < 400 || apiErr.Code >= 500 {
		return false
	}
	return strings.Contains(apiErr.Description, "USER_ALREADY_PARTICIPANT") ||
		strings.Contains(apiErr.Description, "HIDE_REQUESTER_MISSING") ||
		strings.Contains(apiErr.Description, "already")
}
