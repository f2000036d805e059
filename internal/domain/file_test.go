package domain

import (
	"encoding/json"
	"testing"
)

func TestFileDataUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "base64 string", input: `"aGVsbG8="`, want: "hello"},
		{name: "buffer object", input: `{"type":"Buffer","data":[104,105]}`, want: "hi"},
		{name: "null", input: `null`, want: ""},
		{name: "invalid base64", input: `"%%%"`, wantErr: true},
		{name: "wrong object type", input: `{"type":"Blob","data":[1]}`, wantErr: true},
		{name: "byte out of range", input: `{"type":"Buffer","data":[256]}`, wantErr: true},
		{name: "number", input: `42`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got FileData
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, string(got))
			}
		})
	}
}

func TestFileDataInsideStruct(t *testing.T) {
	var payload struct {
		File FileData `json:"file"`
	}

	if err := json.Unmarshal([]byte(`{}`), &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.File != nil {
		t.Fatalf("expected absent file to stay nil")
	}
}

func TestIsMediaKind(t *testing.T) {
	for _, kind := range []string{MediaAudio, MediaVideo, MediaImage, MediaDocument} {
		if !IsMediaKind(kind) {
			t.Fatalf("expected %q to be a media kind", kind)
		}
	}
	if IsMediaKind("sticker") || IsMediaKind("") {
		t.Fatalf("expected unknown kinds to be rejected")
	}
}

func TestInboundMessageChatKinds(t *testing.T) {
	tests := []struct {
		chatType string
		group    bool
		private  bool
	}{
		{ChatTypePrivate, false, true},
		{ChatTypeGroup, true, false},
		{ChatTypeSupergroup, true, false},
		{ChatTypeChannel, false, false},
	}

	for _, tt := range tests {
		msg := InboundMessage{ChatType: tt.chatType}
		if msg.IsGroup() != tt.group || msg.IsPrivate() != tt.private {
			t.Fatalf("%s: IsGroup=%v IsPrivate=%v", tt.chatType, msg.IsGroup(), msg.IsPrivate())
		}
	}
}
