package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedEnvelope is returned when bytes on the bus are not a valid envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope wraps every message on the bus.
type Envelope struct {
	MessageID     uuid.UUID       `json:"messageId"`
	MessageType   string          `json:"messageType"`
	CorrelationID uuid.UUID       `json:"correlationId"`
	SentAt        time.Time       `json:"sentAt"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope marshals body into an envelope.
func NewEnvelope(messageID uuid.UUID, messageType string, correlationID uuid.UUID, body any, sentAt time.Time) (Envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", messageType, err)
	}
	return Envelope{
		MessageID:     messageID,
		MessageType:   messageType,
		CorrelationID: correlationID,
		SentAt:        sentAt.UTC(),
		Payload:       payload,
	}, nil
}

// Encode returns the wire form of the envelope.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses the wire form of an envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.MessageType == "" {
		return Envelope{}, fmt.Errorf("%w: missing message type", ErrMalformedEnvelope)
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into out.
func (e Envelope) DecodePayload(out any) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedEnvelope, e.MessageType, err)
	}
	return nil
}
