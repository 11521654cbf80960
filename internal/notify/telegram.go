package notify

import (
	"context"
	"fmt"
	"strconv"

	"claimhub/backend/internal/jobqueue"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotAPI is the part of *tgbotapi.BotAPI the sender uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender delivers notifications as bot messages. Message.To is the
// numeric chat id.
type TelegramSender struct {
	bot BotAPI
}

// NewTelegramSender connects to the Bot API with token.
func NewTelegramSender(token string) (*TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return NewTelegramSenderWithBot(bot), nil
}

func NewTelegramSenderWithBot(bot BotAPI) *TelegramSender {
	return &TelegramSender{bot: bot}
}

func (s *TelegramSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(msg.To, 10, 64)
	if err != nil || chatID == 0 {
		return jobqueue.Permanent(fmt.Errorf("%w: bad telegram chat id %q", ErrInvalidPayload, msg.To))
	}

	text := msg.Body
	if msg.Subject != "" {
		text = "*" + tgbotapi.EscapeText(tgbotapi.ModeMarkdown, msg.Subject) + "*\n" +
			tgbotapi.EscapeText(tgbotapi.ModeMarkdown, msg.Body)
	} else {
		text = tgbotapi.EscapeText(tgbotapi.ModeMarkdown, text)
	}
	out := tgbotapi.NewMessage(chatID, text)
	out.ParseMode = tgbotapi.ModeMarkdown

	if _, err := s.bot.Send(out); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}
