package capability

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"

	"tg_agent_bridge/internal/agent"
	"tg_agent_bridge/internal/domain"
)

// Capability names as advertised to the agent runtime.
const (
	NameSendMessage    = "sendMessage"
	NameSendMedia      = "send_Image_Video_Audio_Document_telegram"
	NameForwardMessage = "forwardMessage"
	NameListenToGroup  = "listenToGroup"
)

var targetProperties = map[string]agent.Property{
	"groupName": {Type: "string", Description: "Telegram group name of a monitored group"},
	"chatid":    {Type: "number", Description: "Telegram chat id"},
}

func withTarget(extra map[string]agent.Property) map[string]agent.Property {
	out := make(map[string]agent.Property, len(targetProperties)+len(extra))
	for k, v := range targetProperties {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Capabilities returns the capability table served to the agent runtime.
func (h *Handlers) Capabilities() []agent.Capability {
	return []agent.Capability{
		{
			Name:        NameSendMessage,
			Description: "Sends a message to a Telegram group",
			Schema: agent.Schema{
				Type: "object",
				Properties: withTarget(map[string]agent.Property{
					"message": {Type: "string", Description: "Message to be sent to the group"},
				}),
				Required: []string{"message"},
			},
			Run: func(ctx context.Context, _ domain.Action, raw json.RawMessage) (string, error) {
				var args SendMessageArgs
				if err := agent.Decode(raw, &args); err != nil {
					return "", err
				}
				return h.SendMessage(ctx, args), nil
			},
		},
		{
			Name:        NameSendMedia,
			Description: "Send Image/Video/Audio/Document to Telegram Group",
			Schema: agent.Schema{
				Type: "object",
				Properties: withTarget(map[string]agent.Property{
					"fileUrl":  {Type: "string", Description: "URL of the file to be sent"},
					"file":     {Type: "string", Description: "Base64 encoded file content"},
					"filetype": {Type: "string", Description: "Type of file to be sent: image, video, audio or document"},
					"message":  {Type: "string", Description: "Caption, or the text sent when no file is attached"},
				}),
			},
			Run: func(ctx context.Context, _ domain.Action, raw json.RawMessage) (string, error) {
				var args SendMediaArgs
				if err := agent.Decode(raw, &args); err != nil {
					return "", err
				}
				return h.SendMedia(ctx, args), nil
			},
		},
		{
			Name:        NameForwardMessage,
			Description: "Forward messages from one telegram group to another group based on groupid or name",
			Schema: agent.Schema{
				Type: "object",
				Properties: withTarget(map[string]agent.Property{
					"fromChatId": {Type: "number", Description: "Chat id the message is forwarded from"},
					"messageId":  {Type: "number", Description: "Id of the message to forward"},
				}),
				Required: []string{"fromChatId", "messageId"},
			},
			Run: func(ctx context.Context, _ domain.Action, raw json.RawMessage) (string, error) {
				var args ForwardMessageArgs
				if err := agent.Decode(raw, &args); err != nil {
					return "", err
				}
				return h.ForwardMessage(ctx, args), nil
			},
		},
		{
			Name:        NameListenToGroup,
			Description: "Listens to messages in a Telegram group",
			Schema: agent.Schema{
				Type:       "object",
				Properties: withTarget(nil),
			},
			Run: func(ctx context.Context, action domain.Action, raw json.RawMessage) (string, error) {
				var args ListenArgs
				if err := agent.Decode(raw, &args); err != nil {
					return "", err
				}
				return h.ListenToGroup(ctx, action, args), nil
			},
		},
	}
}

// fileName derives an upload name from the media kind and sniffed content
// type.
func fileName(kind string, data []byte) string {
	exts, err := mime.ExtensionsByType(http.DetectContentType(data))
	if err != nil || len(exts) == 0 {
		return kind
	}
	return kind + exts[0]
}
