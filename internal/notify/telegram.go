package notify

import (
	"context"

	"atelier/internal/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramNotifier posts workflow notifications into the operations
// chat. One chat, plain text: the ops team watches it, customers and
// tailors get their updates through the marketplace frontend.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zerolog.Logger
}

func NewTelegramNotifier(cfg config.TelegramConfig, logger *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = cfg.Debug
	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifier authorized")

	return &TelegramNotifier{bot: bot, chatID: cfg.OpsChatID, logger: logger}, nil
}

func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	_, err := n.bot.Send(msg)
	return err
}
