package types

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates server text frames on the streaming channel.
type MessageType string

const (
	MessageResult   MessageType = "result"
	MessageSlowDown MessageType = "slow_down"
	MessageError    MessageType = "error"
)

// ServerMessage is the tagged variant decoded once at the transport
// boundary. Exactly one of the payload fields is populated according
// to Type.
type ServerMessage struct {
	Type    MessageType      `json:"type"`
	Result  *DetectionResult `json:"result,omitempty"`
	Message string           `json:"message,omitempty"` // Human-readable, error messages only
}

// DecodeServerMessage parses one inbound text frame and validates the
// discriminant so malformed payloads are rejected at the boundary.
func DecodeServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed server message: %w", err)
	}

	switch msg.Type {
	case MessageResult:
		if msg.Result == nil {
			return nil, fmt.Errorf("result message without result payload")
		}
	case MessageSlowDown, MessageError:
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}

	return &msg, nil
}
