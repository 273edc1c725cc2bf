package hub

import (
	"encoding/json"

	"github.com/controledu/classroom/internal/errkind"
)

// marshalPayload encodes payload for an envelope body. A nil payload yields
// a nil body rather than the literal string "null".
func marshalPayload(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}

// decodePayload unmarshals env.Payload into v. An empty payload is a no-op,
// leaving v at its zero value — several calls (GetStudents,
// GetDetectionPolicy) carry no payload at all. A malformed payload is
// tagged errkind.Protocol.
func decodePayload(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errkind.New(errkind.Protocol, err)
	}
	return nil
}

// clientScoped is the minimal shape every student-hub call (other than
// Register) must carry, used to enforce the per-connection identity binding
// before decoding the full payload type.
type clientScoped struct {
	ClientID string `json:"clientId"`
}
