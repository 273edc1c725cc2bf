package hub

import (
	"github.com/controledu/classroom/internal/pairing"
	"github.com/controledu/classroom/internal/wire"
)

// handleTeacher dispatches one inbound call on a teacher-role Session.
// Teacher methods carry no per-connection identity binding check beyond the
// connection itself already being registered (done at NewTeacherSession) —
// remote-control session ownership is scoped to ConnectionID() downstream,
// in the remote-control coordinator.
func (s *Session) handleTeacher(env wire.Envelope) wire.Envelope {
	switch env.Method {
	case wire.MethodGetStudents:
		return s.handleGetStudents(env)
	case wire.MethodGeneratePairingPin:
		return s.handleGeneratePairingPin(env)
	case wire.MethodGetLatestAudit:
		return s.handleGetLatestAudit(env)
	case wire.MethodRequestRemoteControlSession:
		return s.handleRequestRemoteControlSession(env)
	case wire.MethodStopRemoteControlSession:
		return s.handleStopRemoteControlSession(env)
	case wire.MethodSendRemoteControlInput:
		return s.handleSendRemoteControlInput(env)
	default:
		return s.errorEnvelope(env, errUnknownMethod(env.Method))
	}
}

func (s *Session) handleGetStudents(env wire.Envelope) wire.Envelope {
	presences := s.hub.presence.List()
	out := make([]wire.StudentSummary, 0, len(presences))
	for _, p := range presences {
		out = append(out, p.ToSummary())
	}
	resp, _ := newResponseEnvelope(env.ID, env.Method, out)
	return resp
}

func (s *Session) handleGeneratePairingPin(env wire.Envelope) wire.Envelope {
	code, expiresAtUtc, err := s.hub.pairingMgr.GeneratePin(pairing.DefaultPinLifetime)
	if err != nil {
		return s.errorEnvelope(env, err)
	}
	resp, _ := newResponseEnvelope(env.ID, env.Method, wire.PairingPinResponse{
		Pin: code, ExpiresAtUtc: expiresAtUtc.UTC().UnixMilli(),
	})
	return resp
}

// defaultAuditPageSize bounds GetLatestAudit when the caller doesn't specify.
const defaultAuditPageSize = 100

func (s *Session) handleGetLatestAudit(env wire.Envelope) wire.Envelope {
	var req struct {
		Count int `json:"count"`
	}
	_ = decodePayload(env.Payload, &req)
	if req.Count <= 0 {
		req.Count = defaultAuditPageSize
	}

	entries, err := s.hub.store.GetLatestAudit(req.Count)
	if err != nil {
		return s.errorEnvelope(env, err)
	}
	out := make([]wire.AuditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, wire.AuditEntry{
			ID: e.ID, TimestampUtc: e.TimestampUtc, Action: e.Action, Actor: e.Actor, Details: e.Details,
		})
	}
	resp, _ := newResponseEnvelope(env.ID, env.Method, out)
	return resp
}

func (s *Session) handleRequestRemoteControlSession(env wire.Envelope) wire.Envelope {
	var req struct {
		TargetClientID string `json:"targetClientId"`
	}
	if err := decodePayload(env.Payload, &req); err != nil {
		return s.errorEnvelope(env, err)
	}
	if s.hub.remoteControlSink == nil {
		return s.errorEnvelope(env, errRemoteControlUnavailable)
	}
	sessionID, err := s.hub.remoteControlSink.RequestSession(s.id, req.TargetClientID)
	if err != nil {
		return s.errorEnvelope(env, err)
	}
	resp, _ := newResponseEnvelope(env.ID, env.Method, struct {
		SessionID string `json:"sessionId"`
	}{sessionID})
	return resp
}

func (s *Session) handleStopRemoteControlSession(env wire.Envelope) wire.Envelope {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodePayload(env.Payload, &req); err != nil {
		return s.errorEnvelope(env, err)
	}
	if s.hub.remoteControlSink == nil {
		return s.errorEnvelope(env, errRemoteControlUnavailable)
	}
	if err := s.hub.remoteControlSink.StopSession(s.id, req.SessionID); err != nil {
		return s.errorEnvelope(env, err)
	}
	resp, _ := newResponseEnvelope(env.ID, env.Method, nil)
	return resp
}

func (s *Session) handleSendRemoteControlInput(env wire.Envelope) wire.Envelope {
	var cmd wire.RemoteControlInputCommand
	if err := decodePayload(env.Payload, &cmd); err != nil {
		return s.errorEnvelope(env, err)
	}
	if s.hub.remoteControlSink == nil {
		return s.errorEnvelope(env, errRemoteControlUnavailable)
	}
	if err := s.hub.remoteControlSink.ForwardInput(s.id, cmd); err != nil {
		return s.errorEnvelope(env, err)
	}
	resp, _ := newResponseEnvelope(env.ID, env.Method, nil)
	return resp
}
