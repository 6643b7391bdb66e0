package verification

import (
	"fmt"
	"time"

	"gatekeeper-backend/internal/template"
)

// chatContext is the remote chat metadata fetched once per saga and reused
// by every rendering step. Serialized into the saga's checkpoint.
type chatContext struct {
	CommunityTitle string `json:"community_title"`
	InviteLink     string `json:"invite_link"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Username       string `json:"username"`
	DisplayName    string `json:"display_name"`
	Bio            string `json:"bio"`
}

// responseContext carries an applicant's answer (or its placeholder) into
// template rendering.
type responseContext struct {
	Answer  string
	Details string
}

const deadlineLayout = "2006-01-02 15:04:05"

// buildTemplateContext assembles the variable tree templates can address:
// user.*, chat.*, request.*, meta.* and, when present, response.*.
func buildTemplateContext(communityID, applicantID int64, question string, deadline time.Time,
	info chatContext, botUsername string, response *responseContext) template.Context {

	userRef := "@" + info.Username
	if info.Username == "" {
		userRef = fmt.Sprintf("[%s](tg://user?id=%d)", template.Escape(info.DisplayName), applicantID)
	}

	ctx := template.Context{
		"user": map[string]any{
			"ref":          userRef,
			"id":           applicantID,
			"first_name":   info.FirstName,
			"last_name":    info.LastName,
			"username":     info.Username,
			"display_name": info.DisplayName,
			"bio":          info.Bio,
		},
		"chat": map[string]any{
			"ref":      fmt.Sprintf("[%s](https://t.me/c/%d)", template.Escape(info.CommunityTitle), communityID),
			"id":       communityID,
			"title":    info.CommunityTitle,
			"question": question,
		},
		"request": map[string]any{
			"deadline": deadline.UnixMilli(),
			"date":     time.Now().UnixMilli(),
		},
		"meta": map[string]any{
			"deadline_formatted": deadline.Format(deadlineLayout),
			"bot_username":       botUsername,
		},
	}
	if response != nil {
		ctx["response"] = map[string]any{
			"answer":  response.Answer,
			"details": response.Details,
		}
	}
	return ctx
}
