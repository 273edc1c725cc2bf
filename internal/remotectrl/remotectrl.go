// Package remotectrl implements the remote-control session service: a
// per-clientId lease with approval gating and teacher-scoped lifetime. Live
// sessions are a single mutex-guarded map, with the hub as the push
// side-channel for session-lifecycle commands back to students.
package remotectrl

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/controledu/classroom/internal/telemetry"
	"github.com/controledu/classroom/internal/wire"
)

// Pusher is the subset of *hub.Hub the coordinator needs: pushing
// server-initiated commands to one student connection.
type Pusher interface {
	PushToStudent(clientID, method string, payload any) bool
	IsStudentOnline(clientID string) bool
}

// session is one clientId's remote-control lease.
type session struct {
	clientID       string
	sessionID      string
	teacherConnID  string
	state          wire.RemoteControlState
	createdAtUtc   time.Time
	updatedAtUtc   time.Time
}

func (s *session) isTerminal() bool {
	switch s.state {
	case wire.RCStateRejected, wire.RCStateEnded, wire.RCStateExpired, wire.RCStateError:
		return true
	default:
		return false
	}
}

var (
	// ErrAlreadyActive is returned when a teacher requests a session for a
	// student that already has a non-terminal session.
	ErrAlreadyActive = errors.New("remotectrl: student already has an active session")
	// ErrNotFound is returned for an operation against an unknown sessionId.
	ErrNotFound = errors.New("remotectrl: session not found")
	// ErrWrongOwner is returned when a call's teacherConnID does not match
	// the session's owning teacher connection.
	ErrWrongOwner = errors.New("remotectrl: session is not owned by this connection")
	// ErrNotApproved is returned when input is forwarded against a session
	// that is not currently Approved.
	ErrNotApproved = errors.New("remotectrl: session is not approved")
	// ErrBadTransition is returned when a student reports a state that is
	// not a legal successor of the session's current state.
	ErrBadTransition = errors.New("remotectrl: illegal session state transition")
	// ErrStudentOffline is returned when Start targets an offline student.
	ErrStudentOffline = errors.New("remotectrl: target student is not connected")
)

// ApprovalTimeout bounds how long a PendingApproval session waits for the
// student to respond before the sweeper expires it.
const ApprovalTimeout = 60 * time.Second

// Service owns every live remote-control session. There is at most one
// non-terminal session per clientId.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*session // clientId -> session

	hub Pusher
	log *telemetry.Logger

	nowFn func() time.Time
}

// New builds a Service wired against hub for push delivery.
func New(hub Pusher, log *telemetry.Logger) *Service {
	return &Service{sessions: make(map[string]*session), hub: hub, log: log, nowFn: time.Now}
}

func (svc *Service) now() time.Time {
	if svc.nowFn != nil {
		return svc.nowFn()
	}
	return time.Now()
}

// RequestSession starts a new lease for targetClientID, owned by
// teacherConnID. Fails if a non-terminal session already exists for that
// student, or the student is not currently connected.
func (svc *Service) RequestSession(teacherConnID, targetClientID string) (string, error) {
	if svc.hub != nil && !svc.hub.IsStudentOnline(targetClientID) {
		return "", ErrStudentOffline
	}

	svc.mu.Lock()
	if existing, ok := svc.sessions[targetClientID]; ok && !existing.isTerminal() {
		svc.mu.Unlock()
		return "", ErrAlreadyActive
	}
	now := svc.now()
	s := &session{
		clientID:      targetClientID,
		sessionID:     uuid.NewString(),
		teacherConnID: teacherConnID,
		state:         wire.RCStatePendingApproval,
		createdAtUtc:  now,
		updatedAtUtc:  now,
	}
	svc.sessions[targetClientID] = s
	svc.mu.Unlock()

	svc.pushCommand(s, "start")
	return s.sessionID, nil
}

// StopSession ends sessionID's lease, provided teacherConnID owns it.
// Idempotent: stopping an already-terminal session is a no-op.
func (svc *Service) StopSession(teacherConnID, sessionID string) error {
	s, err := svc.findOwned(teacherConnID, sessionID)
	if err != nil {
		return err
	}
	svc.mu.Lock()
	if s.isTerminal() {
		svc.mu.Unlock()
		return nil
	}
	s.state = wire.RCStateEnded
	s.updatedAtUtc = svc.now()
	svc.mu.Unlock()

	svc.pushCommand(s, "stop")
	return nil
}

// ForwardInput delivers one normalized input command to the target student,
// provided the caller's teacherConnID owns sessionID AND the session is
// currently Approved.
func (svc *Service) ForwardInput(teacherConnID string, cmd wire.RemoteControlInputCommand) error {
	s, err := svc.findOwned(teacherConnID, cmd.SessionID)
	if err != nil {
		return err
	}
	svc.mu.Lock()
	state := s.state
	clientID := s.clientID
	svc.mu.Unlock()
	if state != wire.RCStateApproved {
		return ErrNotApproved
	}
	if svc.hub != nil {
		svc.hub.PushToStudent(clientID, wire.EventRemoteControlInputCommand, cmd)
	}
	return nil
}

// ReportStatus is called from the hub when a student reports its own
// session-state transition (approve / reject / stop / error). The student
// is authoritative over Approved/Rejected/Ended(self-initiated)/Error, but
// only along the state machine's legal edges: a report that would move a
// terminal session back to life, or skip an edge, is rejected. Without
// this, a forged or replayed report could resurrect an Ended/Expired
// session into Approved and re-enable input forwarding without a fresh
// approval.
func (svc *Service) ReportStatus(clientID string, status wire.RemoteControlStatus) error {
	svc.mu.Lock()
	s, ok := svc.sessions[clientID]
	if !ok || s.sessionID != status.SessionID {
		svc.mu.Unlock()
		return ErrNotFound
	}
	if s.isTerminal() || !validStudentTransition(s.state, status.State) {
		svc.mu.Unlock()
		return ErrBadTransition
	}
	s.state = status.State
	s.updatedAtUtc = svc.now()
	svc.mu.Unlock()
	return nil
}

// validStudentTransition reports whether a student may move a session from
// one state to another: PendingApproval resolves to Approved or Rejected,
// and an Approved session may only be stopped or fail.
func validStudentTransition(from, to wire.RemoteControlState) bool {
	switch from {
	case wire.RCStatePendingApproval:
		return to == wire.RCStateApproved || to == wire.RCStateRejected
	case wire.RCStateApproved:
		return to == wire.RCStateEnded || to == wire.RCStateError
	default:
		return false
	}
}

// TeacherDisconnected ends every non-terminal session owned by teacherConnID
// and pushes a Stop to
// each affected student.
func (svc *Service) TeacherDisconnected(teacherConnID string) {
	svc.mu.Lock()
	var affected []*session
	for _, s := range svc.sessions {
		if s.teacherConnID == teacherConnID && !s.isTerminal() {
			s.state = wire.RCStateEnded
			s.updatedAtUtc = svc.now()
			affected = append(affected, s)
		}
	}
	svc.mu.Unlock()

	for _, s := range affected {
		svc.pushCommand(s, "stop")
	}
}

// ExpireStale transitions every PendingApproval session older than
// ApprovalTimeout to Expired. Intended to be called from a periodic
// sweeper goroutine started by cmd/teacher-server.
func (svc *Service) ExpireStale() {
	cutoff := svc.now().Add(-ApprovalTimeout)
	svc.mu.Lock()
	var expired []*session
	for _, s := range svc.sessions {
		if s.state == wire.RCStatePendingApproval && s.createdAtUtc.Before(cutoff) {
			s.state = wire.RCStateExpired
			s.updatedAtUtc = svc.now()
			expired = append(expired, s)
		}
	}
	svc.mu.Unlock()

	for _, s := range expired {
		svc.pushCommand(s, "stop")
	}
}

// State returns clientID's current session state, for teacher-console
// reconciliation. Returns RCStateNone if no session has ever existed.
func (svc *Service) State(clientID string) wire.RemoteControlState {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	s, ok := svc.sessions[clientID]
	if !ok {
		return wire.RCStateNone
	}
	return s.state
}

func (svc *Service) findOwned(teacherConnID, sessionID string) (*session, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, s := range svc.sessions {
		if s.sessionID == sessionID {
			if s.teacherConnID != teacherConnID {
				return nil, ErrWrongOwner
			}
			return s, nil
		}
	}
	return nil, ErrNotFound
}

func (svc *Service) pushCommand(s *session, command string) {
	if svc.hub == nil {
		return
	}
	svc.mu.Lock()
	state := s.state
	clientID := s.clientID
	sessionID := s.sessionID
	svc.mu.Unlock()

	svc.hub.PushToStudent(clientID, wire.EventRemoteControlSessionCommand, wire.RemoteControlSessionCommand{
		SessionID: sessionID, Command: command, State: state,
	})
	if svc.log != nil {
		svc.log.Info("remotectrl: " + command + " session " + sessionID + " for " + clientID)
	}
}
