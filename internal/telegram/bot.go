package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Config configures the chat bot.
type Config struct {
	Token         string
	APIBase       string
	UpdateTimeout int
	Debug         bool
}

// Bot long-polls Telegram for commands and answers them.
type Bot struct {
	api     *tgbotapi.BotAPI
	handler *Handler
	timeout int
	logger  zerolog.Logger
}

// NewBot authenticates against the Bot API.
func NewBot(cfg Config, ctrl Controller, logger zerolog.Logger) (*Bot, error) {
	endpoint := tgbotapi.APIEndpoint
	if cfg.APIBase != "" {
		endpoint = strings.TrimRight(cfg.APIBase, "/") + "/bot%s/%s"
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	api.Debug = cfg.Debug

	logger = logger.With().Str("component", "telegram_bot").Logger()
	logger.Info().Str("username", api.Self.UserName).Msg("telegram bot authorised")

	return &Bot{
		api:     api,
		handler: NewHandler(ctrl, logger),
		timeout: cfg.UpdateTimeout,
		logger:  logger,
	}, nil
}

// Run processes updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	updatesConfig := tgbotapi.NewUpdate(0)
	if b.timeout > 0 {
		updatesConfig.Timeout = b.timeout
	}
	updates := b.api.GetUpdatesChan(updatesConfig)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("recovered from panic while handling update")
		}
	}()

	chatID := update.Message.Chat.ID
	b.logger.Debug().Int64("chat_id", chatID).Str("text", update.Message.Text).Msg("message received")

	for _, reply := range b.handler.Handle(ctx, chatID, update.Message.Text) {
		if err := b.send(chatID, reply); err != nil {
			b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send reply")
		}
	}
}

// send falls back to plain text when Telegram rejects the markup.
func (b *Bot) send(chatID int64, reply Reply) error {
	msg := tgbotapi.NewMessage(chatID, reply.Text)
	msg.DisableWebPagePreview = true
	if reply.Markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	_, err := b.api.Send(msg)
	if err != nil && reply.Markdown {
		b.logger.Warn().Err(err).Msg("markdown rejected, resending as plain text")
		msg.ParseMode = ""
		_, err = b.api.Send(msg)
	}
	return err
}
