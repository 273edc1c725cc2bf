package hub

import (
	"time"

	"github.com/google/uuid"

	"github.com/controledu/classroom/internal/eventstore"
	"github.com/controledu/classroom/internal/wire"
)

// handleStudent dispatches one inbound call on a student-role Session. Every
// method but Register is rejected, with no side effect, unless BOTH (i) the
// payload's clientId, when it carries one, equals the identity this connection bound at Register
// AND (ii) this Session is still the hub's active connection for that
// clientId. (ii) is what
// catches a reconnect: bindStudent swaps the hub's registry entry to the new
// connection but leaves the old *Session open, so it must be rejected here,
// not just at Register time.
func (s *Session) handleStudent(env wire.Envelope) wire.Envelope {
	if env.Method == wire.MethodRegister {
		return s.handleRegister(env)
	}

	if s.id == "" {
		return s.errorEnvelope(env, errNotRegistered)
	}
	if s.hub.activeStudentSession(s.id) != s {
		return s.errorEnvelope(env, errSuperseded)
	}

	var scoped clientScoped
	if err := decodePayload(env.Payload, &scoped); err != nil {
		return s.errorEnvelope(env, err)
	}
	if scoped.ClientID != "" && scoped.ClientID != s.id {
		return s.errorEnvelope(env, errWrongClient)
	}

	switch env.Method {
	case wire.MethodHeartbeat:
		return s.handleHeartbeat(env)
	case wire.MethodSendFrame:
		return s.handleSendFrame(env)
	case wire.MethodSendAlert:
		return s.handleSendAlert(env)
	case wire.MethodSendStudentSignal:
		return s.handleSendStudentSignal(env)
	case wire.MethodSendChatMessage:
		return s.handleSendChatMessage(env)
	case wire.MethodReportFileProgress:
		return s.handleReportFileProgress(env)
	case wire.MethodReportRemoteControlStatus:
		return s.handleReportRemoteControlStatus(env)
	case wire.MethodGetDetectionPolicy:
		return s.handleGetDetectionPolicy(env)
	default:
		return s.errorEnvelope(env, errUnknownMethod(env.Method))
	}
}

func (s *Session) handleRegister(env wire.Envelope) wire.Envelope {
	var req wire.RegisterRequest
	if err := decodePayload(env.Payload, &req); err != nil {
		return s.errorEnvelope(env, err)
	}

	ok, err := s.hub.store.ValidateToken(req.ClientID, req.Token, now())
	if err != nil || !ok {
		ack, _ := newResponseEnvelope(env.ID, env.Method, wire.RegisterAck{OK: false, Reason: "invalid credentials"})
		return ack
	}

	s.id = req.ClientID
	s.hub.bindStudent(s.id, s, s.conn)
	s.hub.presence.Upsert(presenceFromRegister(req, now()))
	s.hub.pushToTeachers(wire.EventStudentUpserted, s.studentSummary())

	resp, _ := newResponseEnvelope(env.ID, env.Method, wire.RegisterAck{OK: true})
	return resp
}

func (s *Session) studentSummary() wire.StudentSummary {
	p, _ := s.hub.presence.Get(s.id)
	return p.ToSummary()
}

func (s *Session) handleHeartbeat(env wire.Envelope) wire.Envelope {
	var req wire.HeartbeatRequest
	if err := decodePayload(env.Payload, &req); err != nil {
		return s.errorEnvelope(env, err)
	}
	s.hub.presence.SetOnline(s.id, true, req.UtcNow)
	resp, _ := newResponseEnvelope(env.ID, env.Method, nil)
	return resp
}

// handleSendFrame forwards a captured frame to every teacher console.
// Detection runs only on the student side; the hub does not
// re-run the pipeline here — doing so would produce a second,
// independently-cooldown-gated alert stream for the same event alongside
// the one the agent reports via handleSendAlert.
func (s *Session) handleSendFrame(env wire.Envelope) wire.Envelope {
	var req wire.FramePayload
	if err := decodePayload(env.Payload, &req); err != nil {
		return s.errorEnvelope(env, err)
	}
	if s.hub.metrics != nil {
		s.hub.metrics.FramesReceived.Inc()
	}

	s.hub.pushToTeachers(wire.EventFrameReceived, wire.FramePayload{ClientID: s.id, Width: req.Width, Height: req.Height, CapturedAt: req.CapturedAt})

	resp, _ := newResponseEnvelope(env.ID, env.Method, nil)
	return resp
}

func (s *Session) handleSendAlert(env wire.Envelope) wire.Envelope {
	var alert wire.AlertEvent
	if err := decodePayload(env.Payload, &alert); err != nil {
		return s.errorEnvelope(env, err)
	}
	alert.ClientID = s.id
	s.hub.emitAlert(s.id, alert.DetectionResult, alert.Thumbnail, time.Now())
	resp, _ := newResponseEnvelope(env.ID, env.Method, nil)
	return resp
}

func (s *Session) handleSendStudentSignal(env wire.Envelope) wire.Envelope {
	var sig wire.StudentSignalEvent
	if err := decodePayload(env.Payload, &sig); err != nil {
		return s.errorEnvelope(env, err)
	}
	if !s.hub.signals.allow(s.id, sig.SignalType, now()) {
		// Dropped silently: anti-spam, not an error.
		resp, _ := newResponseEnvelope(env.ID, env.Method, nil)
		return resp
	}
	sig.TimestampUtc = now().UTC().UnixMilli()
	s.hub.pushToTeachers(wire.EventStudentSignalReceived, sig)
	resp, _ := newResponseEnvelope(env.ID, env.Method, nil)
	return resp
}

func (s *Session) handleSendChatMessage(env wire.Envelope) wire.Envelope {
	var msg wire.ChatMessage
	if err := decodePayload(env.Payload, &msg); err != nil {
		return s.errorEnvelope(env, err)
	}
	msg.SenderRole = wire.SenderStudent
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	msg.TimestampUtc = now().UTC().UnixMilli()
	s.hub.chat.Add(s.id, msg)
	s.hub.pushToTeachers(wire.EventChatMessageReceived, msg)
	resp, _ := newResponseEnvelope(env.ID, env.Method, nil)
	return resp
}

func (s *Session) handleReportFileProgress(env wire.Envelope) wire.Envelope {
	var rep wire.FileProgressReport
	if err := decodePayload(env.Payload, &rep); err != nil {
		return s.errorEnvelope(env, err)
	}
	if s.hub.transferSink != nil {
		if err := s.hub.transferSink.ReportProgress(s.id, rep); err != nil {
			return s.errorEnvelope(env, err)
		}
	}
	s.hub.pushToTeachers(wire.EventFileProgressUpdated, rep)
	resp, _ := newResponseEnvelope(env.ID, env.Method, nil)
	return resp
}

func (s *Session) handleReportRemoteControlStatus(env wire.Envelope) wire.Envelope {
	var status wire.RemoteControlStatus
	if err := decodePayload(env.Payload, &status); err != nil {
		return s.errorEnvelope(env, err)
	}
	if s.hub.remoteControlSink != nil {
		if err := s.hub.remoteControlSink.ReportStatus(s.id, status); err != nil {
			return s.errorEnvelope(env, err)
		}
	}
	s.hub.pushToTeachers(wire.EventRemoteControlStatusUpdated, status)
	resp, _ := newResponseEnvelope(env.ID, env.Method, nil)
	return resp
}

func (s *Session) handleGetDetectionPolicy(env wire.Envelope) wire.Envelope {
	resp, _ := newResponseEnvelope(env.ID, env.Method, s.hub.policy)
	return resp
}

func presenceFromRegister(req wire.RegisterRequest, t time.Time) eventstore.StudentPresence {
	return eventstore.StudentPresence{
		ClientID: req.ClientID, HostName: req.HostName, UserName: req.UserName,
		LocalIP: req.LocalIP, IsOnline: true, DetectionEnabled: true, LastSeenUtc: t.UTC().UnixMilli(),
	}
}
