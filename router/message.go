package router

import (
	"fmt"
	"time"

	biocore "github.com/goliatone/go-biocore"
	"github.com/google/uuid"
)

type MessageType string

const (
	TypeCommand    MessageType = "command"
	TypeRequest    MessageType = "request"
	TypeAlert      MessageType = "alert"
	TypeValidate   MessageType = "validate"
	TypeTrigger    MessageType = "trigger"
	TypeCoordinate MessageType = "coordinate"
	TypeResponse   MessageType = "response"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeCommand, TypeRequest, TypeAlert, TypeValidate, TypeTrigger, TypeCoordinate, TypeResponse:
		return true
	}
	return false
}

// BioMessage is an inter-module message. Build it with NewMessage and treat
// it as read-only afterwards; handlers receive it by value.
type BioMessage struct {
	ID        string         `json:"id"`
	Source    Module         `json:"source"`
	Targets   []Module       `json:"targets"`
	Type      MessageType    `json:"type"`
	Topic     string         `json:"topic,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage validates and builds a message. Duplicate targets are dropped,
// keeping first-seen order, and the payload is copied.
func NewMessage(source Module, targets []Module, msgType MessageType, payload map[string]any) (BioMessage, error) {
	if !source.Valid() {
		return BioMessage{}, invalidMessage("unknown source module", map[string]any{"source": uint8(source)})
	}
	if !msgType.Valid() {
		return BioMessage{}, invalidMessage(fmt.Sprintf("unknown message type %q", msgType), nil)
	}
	if len(targets) == 0 {
		return BioMessage{}, invalidMessage("message requires at least one target", nil)
	}
	seen := make(map[Module]struct{}, len(targets))
	deduped := make([]Module, 0, len(targets))
	for _, t := range targets {
		if !t.Valid() {
			return BioMessage{}, invalidMessage("unknown target module", map[string]any{"target": uint8(t)})
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		deduped = append(deduped, t)
	}
	return BioMessage{
		ID:        uuid.NewString(),
		Source:    source,
		Targets:   deduped,
		Type:      msgType,
		Payload:   copyPayload(payload),
		Timestamp: time.Now().UTC(),
	}, nil
}

// WithTopic returns a copy of m tagged with topic.
func (m BioMessage) WithTopic(topic string) BioMessage {
	m.Topic = topic
	return m
}

// Text reads a string payload field.
func (m BioMessage) Text(key string) string {
	v, _ := m.Payload[key].(string)
	return v
}

// Float reads a numeric payload field.
func (m BioMessage) Float(key string) (float64, bool) {
	switch v := m.Payload[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func invalidMessage(msg string, meta map[string]any) error {
	return biocore.NewError(biocore.ErrInvalidMessage, msg, nil, meta)
}

func copyPayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
