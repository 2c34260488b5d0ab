package models

import (
	"encoding/json"
	"time"
)

// MessageEnvelope wraps every message the engine reads from or writes to
// the broker. Payload holds the JSON of the typed body named by Type.
type MessageEnvelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  Metadata        `json:"metadata"`
}

type Metadata struct {
	TraceID string `json:"trace_id,omitempty"`
	// DeadLetter is set when the message was moved to the DLQ.
	DeadLetter *DeadLetterInfo `json:"dead_letter,omitempty"`
}

type DeadLetterInfo struct {
	Reason      string    `json:"reason"`
	SourceTopic string    `json:"source_topic"`
	MovedAt     time.Time `json:"moved_at"`
}

// DecodePayload unmarshals the envelope body into v.
func (msg *MessageEnvelope) DecodePayload(v interface{}) error {
	return json.Unmarshal(msg.Payload, v)
}
