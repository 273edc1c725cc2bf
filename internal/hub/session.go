package hub

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/controledu/classroom/internal/errkind"
	"github.com/controledu/classroom/internal/wire"
)

// Role distinguishes which method table a Session dispatches against.
type Role int

const (
	RoleStudent Role = iota
	RoleTeacher
)

// Session is the one hub-side type shared by both transports (WebSocket
// upgrade and long-poll) and both roles: a transport reads an Envelope off
// its wire, calls Handle, and writes the returned Envelope back (or, for
// long-poll, appends server-pushed Envelopes it receives via its Conn to the
// next poll response).
type Session struct {
	hub  *Hub
	role Role
	conn Conn

	// id is the connectionId for a teacher session (assigned immediately)
	// or the bound clientId for a student session (assigned on a
	// successful Register, empty before that).
	id string
}

// NewStudentSession wraps conn as an as-yet-unregistered student
// connection. It has no hub-visible identity until Handle processes a
// successful Register call.
func NewStudentSession(hub *Hub, conn Conn) *Session {
	return &Session{hub: hub, role: RoleStudent, conn: conn}
}

// NewTeacherSession registers conn as a teacher console immediately under a
// fresh connection id — teacher consoles need no pairing handshake.
func NewTeacherSession(hub *Hub, conn Conn) *Session {
	s := &Session{hub: hub, role: RoleTeacher, conn: conn, id: uuid.NewString()}
	hub.bindTeacher(s.id, s, conn)
	return s
}

// ClientID returns the bound student identity, or "" before Register.
func (s *Session) ClientID() string {
	if s.role != RoleStudent {
		return ""
	}
	return s.id
}

// ConnectionID returns the teacher connection id, or "" for a student
// session.
func (s *Session) ConnectionID() string {
	if s.role != RoleTeacher {
		return ""
	}
	return s.id
}

// Close tears down whatever hub-side registration this session holds. Safe
// to call even if Register/NewTeacherSession never completed.
func (s *Session) Close() {
	switch s.role {
	case RoleStudent:
		if s.id != "" {
			s.hub.unbindStudent(s.id, s)
			s.hub.presence.SetOnline(s.id, false, time.Now().UTC().UnixMilli())
			s.hub.pushToTeachers(wire.EventStudentDisconnected, wire.StudentSummary{ClientID: s.id, IsOnline: false})
		}
	case RoleTeacher:
		s.hub.unbindTeacher(s.id)
		if s.hub.remoteControlSink != nil {
			s.hub.remoteControlSink.TeacherDisconnected(s.id)
		}
	}
}

// These are all Protocol-kind: malformed call shape or a clientId/
// connection-identity mismatch, never surfaced to the UI beyond a dropped
// call — see errorEnvelope below.
var errNotRegistered = errkind.New(errkind.Protocol, errors.New("hub: session has not completed Register"))
var errWrongClient = errkind.New(errkind.Protocol, errors.New("hub: call's clientId does not match the connection's bound identity"))
var errSuperseded = errkind.New(errkind.Protocol, errors.New("hub: connection has been superseded by a newer registration for this clientId"))

// Handle processes one inbound Envelope and returns the reply to write back
// (or, for an Event-shaped push with no ID that originated server-side,
// nothing needs calling Handle at all — this is only for inbound calls).
func (s *Session) Handle(env wire.Envelope) wire.Envelope {
	if s.role == RoleStudent {
		return s.handleStudent(env)
	}
	return s.handleTeacher(env)
}

// errorEnvelope builds the error reply for a failed call and logs it when
// callErr classifies as errkind.Protocol (log + drop, never propagate to
// the UI). Every other kind, notably Authentication, is dropped silently
// without a log line.
func (s *Session) errorEnvelope(env wire.Envelope, callErr error) wire.Envelope {
	if errkind.Classify(callErr) == errkind.Protocol && s.hub.log != nil {
		s.hub.log.Warn(fmt.Sprintf("hub: dropped %s call from %s: %v", env.Method, s.id, callErr))
	}
	return newErrorEnvelope(env.ID, env.Method, callErr)
}
