package notify

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// StatusFunc reports the current state of the open incident for /status.
type StatusFunc func() string

// Telegram posts notices to one chat and answers /status and /help there.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	status StatusFunc
	logger *zap.Logger
}

// NewTelegram authorizes the bot. endpoint is empty outside tests.
func NewTelegram(token string, chatID int64, endpoint string, logger *zap.Logger) (*Telegram, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}
	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))
	return &Telegram{api: api, chatID: chatID, logger: logger}, nil
}

// SetStatus installs the /status source. Call before Start.
func (t *Telegram) SetStatus(fn StatusFunc) { t.status = fn }

func (t *Telegram) Notify(_ context.Context, n Notice) error {
	msg := tgbotapi.NewMessage(t.chatID, n.Text())
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Error("Failed to send notification",
			zap.Int64("chat_id", t.chatID), zap.String("kind", string(n.Kind)), zap.Error(err))
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// Start polls for commands until ctx is done.
func (t *Telegram) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.api.GetUpdatesChan(u)

	t.logger.Info("Telegram bot started, waiting for updates...")
	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			t.send(update.Message.Chat.ID, t.reply(update.Message.Command(), update.Message.From))
		}
	}
}

func (t *Telegram) reply(command string, from *tgbotapi.User) string {
	switch command {
	case "status":
		if t.status == nil {
			return "No incident is open."
		}
		return t.status()
	case "start", "help":
		text := "Commands:\n/status - current incident status\n/help - this message"
		if from != nil {
			text += "\n\nYour Telegram ID: " + strconv.FormatInt(from.ID, 10)
		}
		return text
	default:
		return "Unknown command. Use /help."
	}
}

func (t *Telegram) send(chatID int64, text string) {
	if _, err := t.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		t.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
