package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const envelopeVersion = 1

// ActorRef identifies who produced the event. Operators are free-text
// station or badge identifiers; there is no user model.
type ActorRef struct {
	Operator string `json:"operator,omitempty"`
	Source   string `json:"source,omitempty"`
}

// PayloadEnvelope is what outbox_events.payload holds and what goes on the
// wire as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func newEnvelope(event DomainEvent, now time.Time) (PayloadEnvelope, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	env := PayloadEnvelope{
		Version:    event.Version,
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt,
		Actor:      event.Actor,
		Data:       data,
	}
	if env.Version == 0 {
		env.Version = envelopeVersion
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = now.UTC()
	}
	return env, nil
}

// DecodeEnvelope parses a stored or delivered envelope and its event id.
// An envelope without data is rejected.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, uuid.UUID, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, uuid.Nil, fmt.Errorf("decode envelope: %w", err)
	}
	id, err := uuid.Parse(env.EventID)
	if err != nil {
		return env, uuid.Nil, fmt.Errorf("envelope event id: %w", err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, id, errors.New("envelope has no data")
	}
	return env, id, nil
}
