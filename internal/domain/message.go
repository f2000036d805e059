// Package domain defines shared domain constants and types.
package domain

// Chat types reported by Telegram.
const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
	ChatTypeChannel    = "channel"
)

// InboundMessage is the platform-neutral view of an incoming chat message.
// BotRemoved is set when the update reports the bot leaving the chat.
type InboundMessage struct {
	MessageID    int
	ChatID       int64
	ChatType     string
	ChatTitle    string
	Text         string
	GroupCreated bool
	BotRemoved   bool
}

// IsGroup reports whether the message was posted in a group or supergroup.
func (m InboundMessage) IsGroup() bool {
	return m.ChatType == ChatTypeGroup || m.ChatType == ChatTypeSupergroup
}

// IsPrivate reports whether the message came from a one-to-one chat.
func (m InboundMessage) IsPrivate() bool {
	return m.ChatType == ChatTypePrivate
}

// Action carries the identity of the agent runtime context that invoked a
// capability.
type Action struct {
	WorkspaceID string
	AgentID     string
}
