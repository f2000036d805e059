// Package agent connects the bridge to the external agent runtime: it serves
// the capabilities the runtime may invoke and calls the runtime to interpret
// relayed chat messages.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"tg_agent_bridge/internal/domain"
)

// RunFunc executes a capability with raw JSON arguments and returns the
// status string reported back to the runtime.
type RunFunc func(ctx context.Context, action domain.Action, args json.RawMessage) (string, error)

// Capability is a named, schema-typed operation exposed to the runtime.
type Capability struct {
	Name        string
	Description string
	Schema      Schema
	Run         RunFunc
}

// Schema is a JSON-schema object describing capability arguments.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single argument.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ErrInvalidArguments marks argument decoding and validation failures.
var ErrInvalidArguments = errors.New("invalid capability arguments")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode unmarshals raw arguments into dst and validates its struct tags.
func Decode(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	return nil
}
