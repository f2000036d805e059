package capability

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_agent_bridge/internal/agent"
	"tg_agent_bridge/internal/domain"
)

type sentCall struct {
	method     string
	chatID     int64
	text       string
	fileName   string
	fileData   string
	fromChatID int64
	messageID  int
}

type fakeSender struct {
	calls []sentCall
	err   error
}

func (f *fakeSender) record(c sentCall) error {
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, text string) error {
	return f.record(sentCall{method: "text", chatID: chatID, text: text})
}

func (f *fakeSender) SendPhoto(_ context.Context, chatID int64, file domain.File, caption string) error {
	return f.record(sentCall{method: "photo", chatID: chatID, fileName: file.Name, fileData: string(file.Data), text: caption})
}

func (f *fakeSender) SendVideo(_ context.Context, chatID int64, file domain.File, caption string) error {
	return f.record(sentCall{method: "video", chatID: chatID, fileName: file.Name, fileData: string(file.Data), text: caption})
}

func (f *fakeSender) SendAudio(_ context.Context, chatID int64, file domain.File, caption string) error {
	return f.record(sentCall{method: "audio", chatID: chatID, fileName: file.Name, fileData: string(file.Data), text: caption})
}

func (f *fakeSender) SendDocument(_ context.Context, chatID int64, file domain.File, caption string) error {
	return f.record(sentCall{method: "document", chatID: chatID, fileName: file.Name, fileData: string(file.Data), text: caption})
}

func (f *fakeSender) Forward(_ context.Context, chatID, fromChatID int64, messageID int) error {
	return f.record(sentCall{method: "forward", chatID: chatID, fromChatID: fromChatID, messageID: messageID})
}

type fakeRegistry struct {
	groups    []domain.MonitoredGroup
	listenErr error
	listened  []domain.MonitoredGroup
}

func (f *fakeRegistry) FindByTitle(name string) (domain.MonitoredGroup, bool) {
	for _, g := range f.groups {
		if g.Title == name {
			return g, true
		}
	}
	return domain.MonitoredGroup{}, false
}

func (f *fakeRegistry) Listen(_ context.Context, g domain.MonitoredGroup) (bool, error) {
	if f.listenErr != nil {
		return false, f.listenErr
	}
	f.listened = append(f.listened, g)
	for i, existing := range f.groups {
		if existing.ID == g.ID {
			f.groups[i] = g
			return false, nil
		}
	}
	f.groups = append(f.groups, g)
	return true, nil
}

func newHandlers(t *testing.T, registry *fakeRegistry, sender *fakeSender) (*Handlers, *logtest.Hook) {
	t.Helper()

	hookLogger, hook := logtest.NewNullLogger()
	return NewHandlers(registry, sender, logrus.NewEntry(hookLogger)), hook
}

func TestSendMessageByChatID(t *testing.T) {
	sender := &fakeSender{}
	h, _ := newHandlers(t, &fakeRegistry{}, sender)

	result := h.SendMessage(context.Background(), SendMessageArgs{Target: Target{ChatID: 5}, Message: "hi"})

	if len(sender.calls) != 1 || sender.calls[0] != (sentCall{method: "text", chatID: 5, text: "hi"}) {
		t.Fatalf("expected text send to chat 5, got %+v", sender.calls)
	}
	if result != "Message sent successfully to 5" {
		t.Fatalf("unexpected result %q", result)
	}
}

func TestSendMessageByGroupName(t *testing.T) {
	sender := &fakeSender{}
	h, _ := newHandlers(t, &fakeRegistry{groups: []domain.MonitoredGroup{{ID: 7, Title: "G"}}}, sender)

	result := h.SendMessage(context.Background(), SendMessageArgs{Target: Target{GroupName: "G"}, Message: "hi"})

	if len(sender.calls) != 1 || sender.calls[0].chatID != 7 {
		t.Fatalf("expected send to chat 7, got %+v", sender.calls)
	}
	if result != "Message sent successfully to G" {
		t.Fatalf("unexpected result %q", result)
	}
}

func TestSendMessagePrefersChatIDOverGroupName(t *testing.T) {
	sender := &fakeSender{}
	h, _ := newHandlers(t, &fakeRegistry{groups: []domain.MonitoredGroup{{ID: 7, Title: "G"}}}, sender)

	h.SendMessage(context.Background(), SendMessageArgs{Target: Target{GroupName: "G", ChatID: 11}, Message: "hi"})

	if len(sender.calls) != 1 || sender.calls[0].chatID != 11 {
		t.Fatalf("expected chat id to win, got %+v", sender.calls)
	}
}

func TestSendMessageMissingTarget(t *testing.T) {
	sender := &fakeSender{}
	h, _ := newHandlers(t, &fakeRegistry{}, sender)

	result := h.SendMessage(context.Background(), SendMessageArgs{Message: "hi"})

	if result != MsgMissingTarget {
		t.Fatalf("expected missing target message, got %q", result)
	}
	if len(sender.calls) != 0 {
		t.Fatalf("expected no outbound calls, got %+v", sender.calls)
	}
}

func TestSendMessageUnknownGroup(t *testing.T) {
	sender := &fakeSender{}
	h, _ := newHandlers(t, &fakeRegistry{}, sender)

	result := h.SendMessage(context.Background(), SendMessageArgs{Target: Target{GroupName: "Nope"}, Message: "hi"})

	if !strings.Contains(result, `"Nope"`) || len(sender.calls) != 0 {
		t.Fatalf("expected not-found result without sends, got %q and %+v", result, sender.calls)
	}
}

func TestSendMessageFailureReturnsGenericString(t *testing.T) {
	sender := &fakeSender{err: errors.New("Forbidden: bot was kicked")}
	h, hook := newHandlers(t, &fakeRegistry{}, sender)

	result := h.SendMessage(context.Background(), SendMessageArgs{Target: Target{ChatID: 5}, Message: "hi"})

	if result != "Currently we are facing error while sending message to 5" {
		t.Fatalf("unexpected failure result %q", result)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.ErrorLevel || entry.Data["capability"] != "sendMessage" {
		t.Fatalf("expected error log for failed send, got %+v", entry)
	}
}

func TestSendMediaDispatchesByType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")

	tests := []struct {
		name     string
		args     SendMediaArgs
		want     string
		wantText string
	}{
		{"image with caption", SendMediaArgs{FileType: "image", File: png, Message: "cap"}, "photo", "cap"},
		{"document without caption", SendMediaArgs{FileType: "document", File: []byte("%PDF-1.4")}, "document", ""},
		{"audio", SendMediaArgs{FileType: "audio", File: []byte("ID3"), Message: "song"}, "audio", "song"},
		{"video uppercase type", SendMediaArgs{FileType: "VIDEO", File: []byte("v"), Message: "clip"}, "video", "clip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			h, _ := newHandlers(t, &fakeRegistry{}, sender)

			tt.args.ChatID = 3
			result := h.SendMedia(context.Background(), tt.args)

			if len(sender.calls) != 1 {
				t.Fatalf("expected one outbound call, got %+v", sender.calls)
			}
			call := sender.calls[0]
			if call.method != tt.want || call.chatID != 3 || call.text != tt.wantText {
				t.Fatalf("expected %s to chat 3 with caption %q, got %+v", tt.want, tt.wantText, call)
			}
			if call.fileData != string(tt.args.File) || !strings.HasPrefix(call.fileName, strings.ToLower(tt.args.FileType)) {
				t.Fatalf("expected file to be forwarded with a name, got %+v", call)
			}
			if result != "Message sent successfully to 3" {
				t.Fatalf("unexpected result %q", result)
			}
		})
	}
}

func TestSendMediaRecordsWholeUpload(t *testing.T) {
	sender := &fakeSender{}
	h, _ := newHandlers(t, &fakeRegistry{}, sender)

	h.SendMedia(context.Background(), SendMediaArgs{Target: Target{ChatID: 8}, FileType: "document", File: []byte("%PDF-1.4")})

	want := sentCall{method: "document", chatID: 8, fileName: fileName("document", []byte("%PDF-1.4")), fileData: "%PDF-1.4"}
	if len(sender.calls) != 1 || sender.calls[0] != want {
		t.Fatalf("expected %+v, got %+v", want, sender.calls)
	}
}

func TestSendMediaFallsBackToText(t *testing.T) {
	tests := []struct {
		name string
		args SendMediaArgs
		want string
	}{
		{"url only", SendMediaArgs{Message: "look", FileURL: "https://x.test/a.png", FileType: "image"}, "look https://x.test/a.png"},
		{"unknown type with file", SendMediaArgs{Message: "hello", File: []byte("data"), FileType: "sticker"}, "hello"},
		{"no message with url", SendMediaArgs{FileURL: "https://x.test/b.pdf"}, "https://x.test/b.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			h, _ := newHandlers(t, &fakeRegistry{}, sender)

			tt.args.ChatID = 9
			h.SendMedia(context.Background(), tt.args)

			if len(sender.calls) != 1 || sender.calls[0] != (sentCall{method: "text", chatID: 9, text: tt.want}) {
				t.Fatalf("expected text %q to chat 9, got %+v", tt.want, sender.calls)
			}
		})
	}
}

func TestSendMediaWithoutContent(t *testing.T) {
	sender := &fakeSender{}
	h, _ := newHandlers(t, &fakeRegistry{}, sender)

	result := h.SendMedia(context.Background(), SendMediaArgs{Target: Target{ChatID: 1}})

	if result != MsgMissingContent || len(sender.calls) != 0 {
		t.Fatalf("expected missing content result, got %q and %+v", result, sender.calls)
	}
}

func TestForwardMessageReportsAwaitedOutcome(t *testing.T) {
	sender := &fakeSender{}
	h, _ := newHandlers(t, &fakeRegistry{}, sender)

	result := h.ForwardMessage(context.Background(), ForwardMessageArgs{Target: Target{ChatID: 4}, FromChatID: 8, MessageID: 15})
	if result != MsgForwarded {
		t.Fatalf("unexpected result %q", result)
	}
	if sender.calls[0] != (sentCall{method: "forward", chatID: 4, fromChatID: 8, messageID: 15}) {
		t.Fatalf("unexpected forward call %+v", sender.calls[0])
	}

	sender.err = errors.New("message to forward not found")
	result = h.ForwardMessage(context.Background(), ForwardMessageArgs{Target: Target{ChatID: 4}, FromChatID: 8, MessageID: 16})
	if result == MsgForwarded {
		t.Fatalf("expected failure result when forward fails")
	}
}

func TestListenToGroupBindsAction(t *testing.T) {
	registry := &fakeRegistry{}
	h, _ := newHandlers(t, registry, &fakeSender{})
	action := domain.Action{WorkspaceID: "ws-1", AgentID: "agent-1"}

	result := h.ListenToGroup(context.Background(), action, ListenArgs{Target: Target{ChatID: -100, GroupName: "Team"}})
	if result != MsgListening {
		t.Fatalf("unexpected result %q", result)
	}

	want := domain.MonitoredGroup{ID: -100, Title: "Team", WorkspaceID: "ws-1", AgentID: "agent-1"}
	if len(registry.listened) != 1 || registry.listened[0] != want {
		t.Fatalf("expected %+v to be registered, got %+v", want, registry.listened)
	}

	result = h.ListenToGroup(context.Background(), domain.Action{WorkspaceID: "ws-2"}, ListenArgs{Target: Target{GroupName: "Team"}})
	if result != MsgListeningRefreshed {
		t.Fatalf("expected refresh result, got %q", result)
	}
	if len(registry.groups) != 1 || registry.groups[0].WorkspaceID != "ws-2" {
		t.Fatalf("expected binding to be refreshed in place, got %+v", registry.groups)
	}
}

func TestListenToGroupMissingTargetAndFailure(t *testing.T) {
	registry := &fakeRegistry{}
	h, _ := newHandlers(t, registry, &fakeSender{})

	if result := h.ListenToGroup(context.Background(), domain.Action{}, ListenArgs{}); result != MsgMissingListenTarget {
		t.Fatalf("expected missing listen target result, got %q", result)
	}

	registry.listenErr = errors.New("disk full")
	result := h.ListenToGroup(context.Background(), domain.Action{}, ListenArgs{Target: Target{ChatID: 1}})
	if !strings.HasPrefix(result, "Currently we are facing error") {
		t.Fatalf("expected failure result, got %q", result)
	}
}

func TestCapabilitiesDecodeArguments(t *testing.T) {
	sender := &fakeSender{}
	registry := &fakeRegistry{}
	h, _ := newHandlers(t, registry, sender)

	byName := map[string]agent.Capability{}
	for _, c := range h.Capabilities() {
		byName[c.Name] = c
	}

	for _, name := range []string{NameSendMessage, NameSendMedia, NameForwardMessage, NameListenToGroup} {
		if _, ok := byName[name]; !ok {
			t.Fatalf("expected capability %s to be declared", name)
		}
	}

	ctx := context.Background()

	result, err := byName[NameSendMessage].Run(ctx, domain.Action{}, json.RawMessage(`{"chatId":5,"message":"hi"}`))
	if err != nil || result != "Message sent successfully to 5" {
		t.Fatalf("unexpected sendMessage outcome %q, %v", result, err)
	}

	if _, err := byName[NameSendMessage].Run(ctx, domain.Action{}, json.RawMessage(`{"chatid":5}`)); !errors.Is(err, agent.ErrInvalidArguments) {
		t.Fatalf("expected missing message to be rejected, got %v", err)
	}

	if _, err := byName[NameForwardMessage].Run(ctx, domain.Action{}, json.RawMessage(`{"chatid":5,"fromChatId":1}`)); !errors.Is(err, agent.ErrInvalidArguments) {
		t.Fatalf("expected missing messageId to be rejected, got %v", err)
	}

	result, err = byName[NameSendMedia].Run(ctx, domain.Action{}, json.RawMessage(`{"chatid":2,"fileType":"image","file":{"type":"Buffer","data":[137,80,78,71]},"message":"cap"}`))
	if err != nil || result != "Message sent successfully to 2" {
		t.Fatalf("unexpected media outcome %q, %v", result, err)
	}
	last := sender.calls[len(sender.calls)-1]
	if last.method != "photo" || last.text != "cap" || len(last.fileData) != 4 {
		t.Fatalf("expected photo with caption from buffer payload, got %+v", last)
	}

	result, err = byName[NameListenToGroup].Run(ctx, domain.Action{WorkspaceID: "w", AgentID: "a"}, json.RawMessage(`{"chatid":-42,"groupName":"Ops"}`))
	if err != nil || result != MsgListening {
		t.Fatalf("unexpected listen outcome %q, %v", result, err)
	}
	if registry.listened[0].WorkspaceID != "w" || registry.listened[0].AgentID != "a" {
		t.Fatalf("expected action identity to be recorded, got %+v", registry.listened[0])
	}
}
