// Package telegram hosts the Telegram client: long polling, update
// conversion, and outbound delivery.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_agent_bridge/internal/config"
	"tg_agent_bridge/internal/domain"
	"tg_agent_bridge/internal/logging"
)

// botAPI is the part of *bot.Bot the client uses.
type botAPI interface {
	Start(ctx context.Context)
	GetMe(ctx context.Context) (*models.User, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendVideo(ctx context.Context, params *bot.SendVideoParams) (*models.Message, error)
	SendAudio(ctx context.Context, params *bot.SendAudioParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
	ForwardMessage(ctx context.Context, params *bot.ForwardMessageParams) (*models.Message, error)
}

// MessageHandler receives converted inbound messages.
type MessageHandler interface {
	Handle(ctx context.Context, msg domain.InboundMessage)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"my_chat_member",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot instance and logging dependencies.
type Client struct {
	bot     botAPI
	botName string
	logger  *logrus.Entry

	mu      sync.RWMutex
	handler MessageHandler
}

// NewClient initializes the Telegram bot with long polling and default handlers.
func NewClient(cfg config.Config, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	c := &Client{
		botName: strings.TrimPrefix(strings.TrimSpace(cfg.TelegramBotName), "@"),
		logger:  logger,
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(c.defaultHandler()),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}
	c.bot = tgBot

	return c, nil
}

// SetMessageHandler installs the handler for inbound messages. Updates that
// arrive before a handler is set are logged and dropped.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// BotName returns the configured bot username, falling back to getMe.
func (c *Client) BotName(ctx context.Context) (string, error) {
	if c.botName != "" {
		return c.botName, nil
	}

	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve bot username: %w", err)
	}
	if me == nil || me.Username == "" {
		return "", errors.New("telegram did not report a bot username")
	}

	c.botName = me.Username
	return c.botName, nil
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	if _, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

// SendPhoto uploads an image with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, file domain.File, caption string) error {
	if _, err := c.bot.SendPhoto(ctx, &bot.SendPhotoParams{ChatID: chatID, Photo: upload(file), Caption: caption}); err != nil {
		return fmt.Errorf("send photo to %d: %w", chatID, err)
	}
	return nil
}

// SendVideo uploads a video with an optional caption.
func (c *Client) SendVideo(ctx context.Context, chatID int64, file domain.File, caption string) error {
	if _, err := c.bot.SendVideo(ctx, &bot.SendVideoParams{ChatID: chatID, Video: upload(file), Caption: caption}); err != nil {
		return fmt.Errorf("send video to %d: %w", chatID, err)
	}
	return nil
}

// SendAudio uploads an audio file with an optional caption.
func (c *Client) SendAudio(ctx context.Context, chatID int64, file domain.File, caption string) error {
	if _, err := c.bot.SendAudio(ctx, &bot.SendAudioParams{ChatID: chatID, Audio: upload(file), Caption: caption}); err != nil {
		return fmt.Errorf("send audio to %d: %w", chatID, err)
	}
	return nil
}

// SendDocument uploads a document with an optional caption.
func (c *Client) SendDocument(ctx context.Context, chatID int64, file domain.File, caption string) error {
	if _, err := c.bot.SendDocument(ctx, &bot.SendDocumentParams{ChatID: chatID, Document: upload(file), Caption: caption}); err != nil {
		return fmt.Errorf("send document to %d: %w", chatID, err)
	}
	return nil
}

// Forward copies an existing message into chatID.
func (c *Client) Forward(ctx context.Context, chatID, fromChatID int64, messageID int) error {
	_, err := c.bot.ForwardMessage(ctx, &bot.ForwardMessageParams{
		ChatID:     chatID,
		FromChatID: fromChatID,
		MessageID:  messageID,
	})
	if err != nil {
		return fmt.Errorf("forward message %d from %d to %d: %w", messageID, fromChatID, chatID, err)
	}
	return nil
}

func upload(file domain.File) models.InputFile {
	return &models.InputFileUpload{Filename: file.Name, Data: bytes.NewReader(file.Data)}
}

func (c *Client) defaultHandler() bot.HandlerFunc {
	return func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		if update == nil {
			return
		}

		meta := extractUpdateMeta(update)

		fields := logging.Fields{
			"event":       "telegram_update",
			"update_type": meta.updateType,
		}
		if meta.userID != 0 {
			fields["user_id"] = meta.userID
		}
		if meta.chatID != 0 {
			fields["chat_id"] = meta.chatID
		}
		c.logger.WithFields(fields).Debug("telegram update received")

		msg, ok := toInbound(update)
		if !ok {
			return
		}

		c.mu.RLock()
		handler := c.handler
		c.mu.RUnlock()

		if handler == nil {
			c.logger.WithFields(logging.Fields{
				"event":   "telegram_update_dropped",
				"chat_id": msg.ChatID,
			}).Warn("no message handler installed")
			return
		}

		handler.Handle(ctx, msg)
	}
}

// toInbound converts the updates the router cares about. The bool is false
// for everything else.
func toInbound(update *models.Update) (domain.InboundMessage, bool) {
	switch {
	case update.Message != nil:
		m := update.Message
		return domain.InboundMessage{
			MessageID:    m.ID,
			ChatID:       m.Chat.ID,
			ChatType:     string(m.Chat.Type),
			ChatTitle:    m.Chat.Title,
			Text:         m.Text,
			GroupCreated: m.GroupChatCreated || m.SupergroupChatCreated,
		}, true
	case update.MyChatMember != nil:
		member := update.MyChatMember
		switch member.NewChatMember.Type {
		case models.ChatMemberTypeLeft, models.ChatMemberTypeBanned:
			return domain.InboundMessage{
				ChatID:     member.Chat.ID,
				ChatType:   string(member.Chat.Type),
				ChatTitle:  member.Chat.Title,
				BotRemoved: true,
			}, true
		}
	}

	return domain.InboundMessage{}, false
}

type updateMeta struct {
	userID     int64
	chatID     int64
	updateType string
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     update.Message.Chat.ID,
			updateType: "message",
		}
	case update.MyChatMember != nil:
		return updateMeta{
			userID:     userID(&update.MyChatMember.From),
			chatID:     update.MyChatMember.Chat.ID,
			updateType: "my_chat_member",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}
