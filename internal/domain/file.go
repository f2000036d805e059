package domain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Media kinds accepted by the media capability.
const (
	MediaAudio    = "audio"
	MediaVideo    = "video"
	MediaImage    = "image"
	MediaDocument = "document"
)

// IsMediaKind reports whether kind names one of the supported media kinds.
func IsMediaKind(kind string) bool {
	switch kind {
	case MediaAudio, MediaVideo, MediaImage, MediaDocument:
		return true
	default:
		return false
	}
}

// File is an in-memory upload.
type File struct {
	Name string
	Data []byte
}

// FileData decodes file bytes sent either as a base64 string or as a
// serialized Node buffer ({"type":"Buffer","data":[...]}).
type FileData []byte

// UnmarshalJSON implements json.Unmarshaler.
func (f *FileData) UnmarshalJSON(raw []byte) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		*f = nil
		return nil
	}

	if strings.HasPrefix(trimmed, `"`) {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("file must be base64 encoded: %w", err)
		}
		*f = decoded
		return nil
	}

	var buffer struct {
		Type string `json:"type"`
		Data []int  `json:"data"`
	}
	if err := json.Unmarshal(raw, &buffer); err != nil {
		return fmt.Errorf("file must be a base64 string or buffer object: %w", err)
	}
	if buffer.Type != "Buffer" {
		return errors.New(`file object must have type "Buffer"`)
	}

	out := make([]byte, len(buffer.Data))
	for i, b := range buffer.Data {
		if b < 0 || b > 255 {
			return fmt.Errorf("file byte %d out of range: %d", i, b)
		}
		out[i] = byte(b)
	}
	*f = out
	return nil
}
