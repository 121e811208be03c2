package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mx-space/realtime/internal/pkg/jwt"
)

var errEmptyType = errors.New("missing message type")

// Inbound is a client frame.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type channelPayload struct {
	Channel string `json:"channel"`
}

type broadcastPayload struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Sender is the identity stamped onto an envelope.
type Sender struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Envelope is what gets published to the broker and relayed verbatim to
// subscribers.
type Envelope struct {
	Channel   string          `json:"channel"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Sender    Sender          `json:"sender"`
	Timestamp string          `json:"timestamp"`
}

func newEnvelope(p broadcastPayload, id jwt.Identity, now time.Time) Envelope {
	return Envelope{
		Channel: p.Channel,
		Event:   p.Event,
		Data:    p.Data,
		Sender: Sender{
			ID:    id.ID,
			Email: id.Email,
			Role:  id.Role,
		},
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

// ErrorFrame is sent back only when error frames are enabled.
type ErrorFrame struct {
	Type    string       `json:"type"`
	Payload ErrorPayload `json:"payload"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Channel string `json:"channel,omitempty"`
}

const (
	codeBadMessage   = "bad_message"
	codeUnknownType  = "unknown_type"
	codeForbidden    = "forbidden"
	codeBrokerFailed = "broker_unavailable"
)

func parseInbound(raw []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Inbound{}, fmt.Errorf("decode frame: %w", err)
	}
	msg.Type = strings.TrimSpace(msg.Type)
	if msg.Type == "" {
		return Inbound{}, errEmptyType
	}
	return msg, nil
}

func decodePayload(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
