// Package hub implements the bidirectional RPC channel shared by every
// student agent and teacher console connection. One Session (see
// session.go) wraps either role over either transport: a gorilla/websocket
// upgrade and a long-poll fallback both just need a Conn to hand to a
// Session.
package hub

import (
	"sync"
	"time"

	"github.com/controledu/classroom/internal/eventstore"
	"github.com/controledu/classroom/internal/pairing"
	"github.com/controledu/classroom/internal/storage"
	"github.com/controledu/classroom/internal/telemetry"
	"github.com/controledu/classroom/internal/wire"
)

// TransferSink lets the hub hand a student's upload/download progress report
// to the file-transfer coordinator without importing it directly (it in turn
// depends on the hub to push FileTransferAssigned events).
type TransferSink interface {
	ReportProgress(clientID string, report wire.FileProgressReport) error
}

// RemoteControlSink lets the hub delegate remote-control session lifecycle
// and input-forwarding to the remote-control coordinator, and lets the
// coordinator report a student's status changes back through the hub.
type RemoteControlSink interface {
	RequestSession(teacherConnID, targetClientID string) (sessionID string, err error)
	StopSession(teacherConnID, sessionID string) error
	ForwardInput(teacherConnID string, cmd wire.RemoteControlInputCommand) error
	ReportStatus(clientID string, status wire.RemoteControlStatus) error
	// TeacherDisconnected ends every non-terminal session owned by
	// teacherConnID.
	TeacherDisconnected(teacherConnID string)
}

// studentEntry is one bound student connection.
type studentEntry struct {
	session *Session
	conn    Conn
	health  sendHealth
}

// teacherEntry is one connected teacher console.
type teacherEntry struct {
	session *Session
	conn    Conn
	health  sendHealth
}

// Hub owns every live connection plus the in-memory projections they feed.
type Hub struct {
	mu       sync.RWMutex
	students map[string]*studentEntry // clientId -> entry; at most one live entry per clientId
	teachers map[string]*teacherEntry // connectionId -> entry

	store      *storage.Store
	pairingMgr *pairing.Manager
	presence   *eventstore.PresenceRegistry
	alerts     *eventstore.AlertRing
	chat       *eventstore.ChatRing
	policy     wire.DetectionPolicy

	signals *signalLimiter

	transferSink      TransferSink
	remoteControlSink RemoteControlSink

	log     *telemetry.Logger
	metrics *telemetry.Metrics
}

// New builds a Hub. policy is the fixed production detection policy served
// by GetDetectionPolicy — it is never a persisted per-deployment override
//).
func New(store *storage.Store, pairingMgr *pairing.Manager, presence *eventstore.PresenceRegistry,
	alerts *eventstore.AlertRing, chat *eventstore.ChatRing, policy wire.DetectionPolicy,
	log *telemetry.Logger, metrics *telemetry.Metrics) *Hub {
	return &Hub{
		students: make(map[string]*studentEntry),
		teachers: make(map[string]*teacherEntry),
		store:    store, pairingMgr: pairingMgr, presence: presence, alerts: alerts, chat: chat, policy: policy,
		signals: newSignalLimiter(), log: log, metrics: metrics,
	}
}

// SetTransferSink wires the file-transfer coordinator after both it and the
// hub have been constructed (they depend on each other).
func (h *Hub) SetTransferSink(s TransferSink) { h.transferSink = s }

// SetRemoteControlSink wires the remote-control coordinator after both it
// and the hub have been constructed.
func (h *Hub) SetRemoteControlSink(s RemoteControlSink) { h.remoteControlSink = s }

// bindStudent records a newly-registered student connection, replacing any
// previous connection for the same clientId (a reconnect implicitly
// supersedes the old one — the old connection's next Send will fail and it
// will be torn down by its own transport loop).
func (h *Hub) bindStudent(clientID string, session *Session, conn Conn) {
	h.mu.Lock()
	h.students[clientID] = &studentEntry{session: session, conn: conn}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.HubConnections.Set(float64(h.studentCount()))
	}
}

// unbindStudent removes clientID's entry if it still points at session
// (a superseded connection closing later must not clobber its successor).
func (h *Hub) unbindStudent(clientID string, session *Session) {
	h.mu.Lock()
	if e, ok := h.students[clientID]; ok && e.session == session {
		delete(h.students, clientID)
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.HubConnections.Set(float64(h.studentCount()))
	}
}

// activeStudentSession returns the Session the hub currently considers bound
// to clientID, or nil if none is registered. Used to detect a superseded
// connection: a reconnect replaces the map entry in bindStudent, but the old
// *Session stays open until its own transport notices the write failure, so
// every dispatch must re-check identity against the live entry, not just
// against s.id.
func (h *Hub) activeStudentSession(clientID string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if e, ok := h.students[clientID]; ok {
		return e.session
	}
	return nil
}

func (h *Hub) studentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.students)
}

// bindTeacher registers a new teacher console connection under connID.
func (h *Hub) bindTeacher(connID string, session *Session, conn Conn) {
	h.mu.Lock()
	h.teachers[connID] = &teacherEntry{session: session, conn: conn}
	h.mu.Unlock()
}

// unbindTeacher removes connID's teacher entry.
func (h *Hub) unbindTeacher(connID string) {
	h.mu.Lock()
	delete(h.teachers, connID)
	h.mu.Unlock()
}

// broadcastTarget is a snapshot of one teacher console for push fan-out,
// captured under the read lock so the lock can be released before sending —
// mirrors room.go's broadcastTarget/targetPool pattern exactly.
type broadcastTarget struct {
	connID string
	conn   Conn
	health *sendHealth
}

var targetPool = sync.Pool{
	New: func() any {
		s := make([]broadcastTarget, 0, 8)
		return &s
	},
}

// pushToTeachers sends method/payload to every connected teacher console,
// skipping any whose circuit breaker is currently open.
func (h *Hub) pushToTeachers(method string, payload any) {
	env, err := newEventEnvelope(method, payload)
	if err != nil {
		if h.log != nil {
			h.log.Error(err, "hub: marshal event "+method)
		}
		return
	}

	h.mu.RLock()
	sp := targetPool.Get().(*[]broadcastTarget)
	targets := (*sp)[:0]
	for id, e := range h.teachers {
		targets = append(targets, broadcastTarget{connID: id, conn: e.conn, health: &e.health})
	}
	h.mu.RUnlock()

	for _, t := range targets {
		if t.health.shouldSkip() {
			continue
		}
		if err := t.conn.Send(env); err != nil {
			n := t.health.recordFailure()
			if n == circuitBreakerThreshold && h.log != nil {
				h.log.Warn("hub: circuit breaker open for teacher connection " + t.connID)
			}
		} else {
			t.health.recordSuccess()
		}
	}

	*sp = targets
	targetPool.Put(sp)
}

// pushToStudent sends method/payload to clientID's live connection, if any.
// Returns false if the student is not currently connected — callers use this
// to distinguish a dispatched-vs-skipped target.
func (h *Hub) pushToStudent(clientID, method string, payload any) bool {
	h.mu.RLock()
	e, ok := h.students[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	env, err := newEventEnvelope(method, payload)
	if err != nil {
		if h.log != nil {
			h.log.Error(err, "hub: marshal event "+method)
		}
		return false
	}
	if e.health.shouldSkip() {
		return false
	}
	if err := e.conn.Send(env); err != nil {
		e.health.recordFailure()
		return false
	}
	e.health.recordSuccess()
	return true
}

// IsStudentOnline reports whether clientID currently has a live hub
// connection.
func (h *Hub) IsStudentOnline(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.students[clientID]
	return ok
}

// PushToStudent delivers a server-initiated push to clientID's live
// connection, if any. Exported so the file-transfer and remote-control
// coordinators can deliver their assignment and session-lifecycle pushes
// without duplicating the hub's fan-out plumbing.
func (h *Hub) PushToStudent(clientID, method string, payload any) bool {
	return h.pushToStudent(clientID, method, payload)
}

// PushToTeachers delivers a server-initiated push to every connected teacher
// console. Exported for the same reason as PushToStudent.
func (h *Hub) PushToTeachers(method string, payload any) {
	h.pushToTeachers(method, payload)
}

// now is overridable in tests; production always uses time.Now.
var now = time.Now
