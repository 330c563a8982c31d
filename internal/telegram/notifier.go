package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the part of the bot API used to deliver messages.
// *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NewBotAPI authorizes a bot through the given HTTP client. An empty
// endpoint means the public Telegram API.
func NewBotAPI(token, endpoint string, client tgbotapi.HTTPClient) (*tgbotapi.BotAPI, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("authorizing bot: %w", err)
	}
	return bot, nil
}

// SendError is returned when Telegram refuses or fails to deliver a message
type SendError struct {
	ChatID  string
	Code    int
	Details string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("telegram send to %s failed: %s", e.ChatID, e.Details)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Notifier sends plain text messages to chats identified by id or @username
type Notifier struct {
	api    Sender
	logger zerolog.Logger
}

// NewNotifier creates a notifier on top of a bot API sender
func NewNotifier(api Sender, logger zerolog.Logger) *Notifier {
	return &Notifier{
		api:    api,
		logger: logger.With().Str("component", "telegram_notifier").Logger(),
	}
}

// SendText delivers text to a chat
func (n *Notifier) SendText(ctx context.Context, chatID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := NewTextMessage(chatID, text)
	if err != nil {
		return &SendError{ChatID: chatID, Details: err.Error(), Err: err}
	}

	if _, err := n.api.Send(msg); err != nil {
		sendErr := &SendError{ChatID: chatID, Details: err.Error(), Err: err}
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			sendErr.Code = apiErr.Code
			sendErr.Details = apiErr.Message
		}
		n.logger.Error().Err(err).Str("chat_id", chatID).Msg("Failed to send message")
		return sendErr
	}

	n.logger.Debug().Str("chat_id", chatID).Msg("Message sent")
	return nil
}

// NewTextMessage builds a message config for a numeric chat id or a
// @channel username
func NewTextMessage(chatID string, text string) (tgbotapi.MessageConfig, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return tgbotapi.MessageConfig{}, errors.New("empty chat id")
	}
	if strings.HasPrefix(chatID, "@") {
		return tgbotapi.NewMessageToChannel(chatID, text), nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return tgbotapi.NewMessage(id, text), nil
}
