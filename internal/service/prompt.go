package service

import (
	"context"

	"gatekeeper-backend/internal/messenger"
	"gatekeeper-backend/internal/notify"
)

type promptSender struct {
	api         messenger.API
	botUsername string
}

// NewPromptSender adapts the bot API to the coalescer's sender contract.
// Prompts carry the open-app button so administrators land directly in the
// review screen.
func NewPromptSender(api messenger.API, botUsername string) notify.Sender {
	return &promptSender{api: api, botUsername: botUsername}
}

func (p *promptSender) SendPrompt(ctx context.Context, communityID int64, text string) (int64, error) {
	sent, err := p.api.SendMessage(ctx, messenger.SendMessageParams{
		ChatID:      communityID,
		Text:        text,
		ParseMode:   messenger.ParseModeMarkdown,
		ReplyMarkup: messenger.OpenAppMarkup(p.botUsername),
	})
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (p *promptSender) DeletePrompt(ctx context.Context, communityID, messageID int64) error {
	return p.api.DeleteMessage(ctx, communityID, messageID)
}
