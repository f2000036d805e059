// Package capability implements the operations the agent runtime may invoke
// on the bridge.
package capability

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"tg_agent_bridge/internal/domain"
	"tg_agent_bridge/internal/logging"
)

// Result strings reported back to the agent runtime.
const (
	MsgMissingTarget       = "We need Telegram Chat id or Group name to send message"
	MsgMissingListenTarget = "We need Telegram Chat id or Group name to listen to messages"
	MsgMissingContent      = "We need a message, file or file URL to send"
	MsgForwarded           = "Forwarded Message successfully"
	MsgListening           = "Group has been added to the monitoring list"
	MsgListeningRefreshed  = "Group is already monitored; its workspace and agent binding has been refreshed"
)

// Sender delivers outbound Telegram operations. Every call returns only once
// Telegram accepted or rejected it.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, file domain.File, caption string) error
	SendVideo(ctx context.Context, chatID int64, file domain.File, caption string) error
	SendAudio(ctx context.Context, chatID int64, file domain.File, caption string) error
	SendDocument(ctx context.Context, chatID int64, file domain.File, caption string) error
	Forward(ctx context.Context, chatID, fromChatID int64, messageID int) error
}

// Registry is the subset of the group registry the handlers need.
type Registry interface {
	FindByTitle(name string) (domain.MonitoredGroup, bool)
	Listen(ctx context.Context, g domain.MonitoredGroup) (bool, error)
}

// Handlers implements the capabilities.
type Handlers struct {
	registry Registry
	sender   Sender
	logger   *logrus.Entry
}

// NewHandlers constructs Handlers.
func NewHandlers(registry Registry, sender Sender, logger *logrus.Entry) *Handlers {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Handlers{
		registry: registry,
		sender:   sender,
		logger:   logger,
	}
}

// Target selects a chat either directly by id or by monitored group title.
type Target struct {
	GroupName string `json:"groupName"`
	ChatID    int64  `json:"chatid"`
}

// SendMessageArgs are the sendMessage arguments.
type SendMessageArgs struct {
	Target
	Message string `json:"message" validate:"required"`
}

// SendMediaArgs are the media capability arguments.
type SendMediaArgs struct {
	Target
	FileURL  string          `json:"fileUrl"`
	File     domain.FileData `json:"file"`
	FileType string          `json:"filetype"`
	Message  string          `json:"message"`
}

// ForwardMessageArgs are the forwardMessage arguments.
type ForwardMessageArgs struct {
	Target
	FromChatID int64 `json:"fromChatId" validate:"required"`
	MessageID  int   `json:"messageId" validate:"required"`
}

// ListenArgs are the listenToGroup arguments.
type ListenArgs struct {
	Target
}

type resolved struct {
	chatID int64
	title  string
	label  string
}

// resolve applies the shared rule: a chat id wins, then a group title, else
// the caller gets a plain-text explanation.
func (h *Handlers) resolve(t Target) (resolved, string, bool) {
	name := strings.TrimSpace(t.GroupName)

	if t.ChatID != 0 {
		return resolved{chatID: t.ChatID, title: name, label: strconv.FormatInt(t.ChatID, 10)}, "", true
	}

	if name == "" {
		return resolved{}, "", false
	}

	g, ok := h.registry.FindByTitle(name)
	if !ok {
		return resolved{}, fmt.Sprintf("Group %q was not found in the monitored groups", name), true
	}

	return resolved{chatID: g.ID, title: g.Title, label: name}, "", true
}

// SendMessage sends a text message to the resolved chat.
func (h *Handlers) SendMessage(ctx context.Context, args SendMessageArgs) string {
	target, notFound, ok := h.resolve(args.Target)
	if !ok {
		return MsgMissingTarget
	}
	if notFound != "" {
		return notFound
	}

	if err := h.sender.SendText(ctx, target.chatID, args.Message); err != nil {
		h.logFailure("sendMessage", target.chatID, err)
		return failure("sending message", target.label)
	}

	return "Message sent successfully to " + target.label
}

// SendMedia sends a file by type, or falls back to a text message carrying
// the file URL.
func (h *Handlers) SendMedia(ctx context.Context, args SendMediaArgs) string {
	target, notFound, ok := h.resolve(args.Target)
	if !ok {
		return MsgMissingTarget
	}
	if notFound != "" {
		return notFound
	}

	kind := strings.ToLower(strings.TrimSpace(args.FileType))
	var err error

	if len(args.File) > 0 && domain.IsMediaKind(kind) {
		file := domain.File{Name: fileName(kind, args.File), Data: args.File}
		switch kind {
		case domain.MediaAudio:
			err = h.sender.SendAudio(ctx, target.chatID, file, args.Message)
		case domain.MediaVideo:
			err = h.sender.SendVideo(ctx, target.chatID, file, args.Message)
		case domain.MediaImage:
			err = h.sender.SendPhoto(ctx, target.chatID, file, args.Message)
		case domain.MediaDocument:
			err = h.sender.SendDocument(ctx, target.chatID, file, args.Message)
		}
	} else {
		text := strings.TrimSpace(strings.Join([]string{args.Message, strings.TrimSpace(args.FileURL)}, " "))
		if text == "" {
			return MsgMissingContent
		}
		err = h.sender.SendText(ctx, target.chatID, text)
	}

	if err != nil {
		h.logFailure("sendMedia", target.chatID, err)
		return failure("sending message", target.label)
	}

	return "Message sent successfully to " + target.label
}

// ForwardMessage forwards an existing message into the resolved chat.
func (h *Handlers) ForwardMessage(ctx context.Context, args ForwardMessageArgs) string {
	target, notFound, ok := h.resolve(args.Target)
	if !ok {
		return MsgMissingTarget
	}
	if notFound != "" {
		return notFound
	}

	if err := h.sender.Forward(ctx, target.chatID, args.FromChatID, args.MessageID); err != nil {
		h.logFailure("forwardMessage", target.chatID, err)
		return failure("forwarding message", target.label)
	}

	return MsgForwarded
}

// ListenToGroup adds the resolved chat to the monitored groups, bound to the
// invoking workspace and agent.
func (h *Handlers) ListenToGroup(ctx context.Context, action domain.Action, args ListenArgs) string {
	target, notFound, ok := h.resolve(args.Target)
	if !ok {
		return MsgMissingListenTarget
	}
	if notFound != "" {
		return notFound
	}

	created, err := h.registry.Listen(ctx, domain.MonitoredGroup{
		ID:          target.chatID,
		Title:       target.title,
		WorkspaceID: action.WorkspaceID,
		AgentID:     action.AgentID,
	})
	if err != nil {
		h.logFailure("listenToGroup", target.chatID, err)
		return failure("adding group", target.label)
	}

	if !created {
		return MsgListeningRefreshed
	}
	return MsgListening
}

func (h *Handlers) logFailure(capability string, chatID int64, err error) {
	h.logger.WithFields(logging.Context{
		ChatID:     chatID,
		Capability: capability,
		Event:      "capability_error",
	}.Fields()).WithError(err).Error("capability call failed")
}

func failure(what, label string) string {
	return fmt.Sprintf("Currently we are facing error while %s to %s", what, label)
}
