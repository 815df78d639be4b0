package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"huddle/cmd/identity/ids"
	v1 "huddle/contracts/realtime/v1"
)

// NewConnectionID returns a ULID used as connection handle.
func NewConnectionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// newEnvelope marshals payload into a server envelope stamped with now.
func newEnvelope(typ string, payload any, now time.Time) (v1.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	id, err := NewEnvelopeID(now)
	if err != nil {
		return v1.Envelope{}, fmt.Errorf("envelope id: %w", err)
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      now,
		Payload: raw,
	}, nil
}
