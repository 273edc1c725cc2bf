package hub

import "github.com/controledu/classroom/internal/wire"

// newEventEnvelope builds a server-initiated push: no ID, method + encoded
// payload.
func newEventEnvelope(method string, payload any) (wire.Envelope, error) {
	body, err := marshalPayload(payload)
	if err != nil {
		return wire.Envelope{}, err
	}
	return wire.Envelope{Method: method, Payload: body}, nil
}

// newResponseEnvelope builds the reply to a call, echoing its id.
func newResponseEnvelope(id, method string, payload any) (wire.Envelope, error) {
	body, err := marshalPayload(payload)
	if err != nil {
		return wire.Envelope{}, err
	}
	return wire.Envelope{Method: method, ID: id, Payload: body}, nil
}

// newErrorEnvelope builds an error reply, echoing the call's id. No side
// effect on the hub's state — callers must not have mutated anything before
// producing this.
func newErrorEnvelope(id, method string, callErr error) wire.Envelope {
	return wire.Envelope{Method: method, ID: id, Error: callErr.Error()}
}
