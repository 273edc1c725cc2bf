package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/controledu/classroom/internal/detection"
	"github.com/controledu/classroom/internal/eventstore"
	"github.com/controledu/classroom/internal/pairing"
	"github.com/controledu/classroom/internal/storage"
	"github.com/controledu/classroom/internal/wire"
)

// fakeConn is an in-memory Conn that records every envelope it would have
// sent over the wire, for assertions without a real transport.
type fakeConn struct {
	mu       sync.Mutex
	received []wire.Envelope
	fail     bool
}

func (f *fakeConn) Send(env wire.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errSendFailed
	}
	f.received = append(f.received, env)
	return nil
}

func (f *fakeConn) last() (wire.Envelope, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.received) == 0 {
		return wire.Envelope{}, false
	}
	return f.received[len(f.received)-1], true
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

var errSendFailed = &sendFailure{}

type sendFailure struct{}

func (*sendFailure) Error() string { return "fakeConn: send failed" }

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mgr, err := pairing.NewManager(store, []byte("0123456789abcdef0123456789abcdef"), "test")
	if err != nil {
		t.Fatalf("pairing.NewManager: %v", err)
	}

	h := New(store, mgr, eventstore.NewPresenceRegistry(), eventstore.NewAlertRing(),
		eventstore.NewChatRing(), detection.ProductionPolicy(), nil, nil)
	return h
}

func registerTestStudent(t *testing.T, h *Hub, conn Conn) (*Session, string) {
	t.Helper()
	store := h.store
	id, err := mintStudent(store)
	if err != nil {
		t.Fatalf("mintStudent: %v", err)
	}

	s := NewStudentSession(h, conn)
	payload, _ := json.Marshal(wire.RegisterRequest{ClientID: id.ClientID, Token: id.Token})
	resp := s.Handle(wire.Envelope{Method: wire.MethodRegister, ID: "1", Payload: payload})

	var ack wire.RegisterAck
	if err := json.Unmarshal(resp.Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if !ack.OK {
		t.Fatalf("register ack not ok: %+v resp=%+v", ack, resp)
	}
	return s, id.ClientID
}

// mintStudent upserts a directly-paired client for tests that don't need
// the full PIN handshake.
func mintStudent(store *storage.Store) (struct{ ClientID, Token string }, error) {
	clientID := "student-" + time.Now().Format("150405.000000")
	token := "test-token-" + clientID
	err := store.UpsertPairedClient(storage.PairedClient{
		ClientID: clientID, Token: token, HostName: "lab-01", UserName: "alice",
		TokenExpiresUtc: time.Now().Add(time.Hour).Unix(),
	})
	return struct{ ClientID, Token string }{clientID, token}, err
}

func TestRegisterBindsStudentAndNotifiesTeachers(t *testing.T) {
	h := newTestHub(t)
	teacherConn := &fakeConn{}
	NewTeacherSession(h, teacherConn)

	studentConn := &fakeConn{}
	_, clientID := registerTestStudent(t, h, studentConn)

	if !h.IsStudentOnline(clientID) {
		t.Errorf("student not marked online after Register")
	}
	env, ok := teacherConn.last()
	if !ok || env.Method != wire.EventStudentUpserted {
		t.Errorf("teacher did not receive StudentUpserted, got %+v", env)
	}
}

func TestRegisterRejectsBadToken(t *testing.T) {
	h := newTestHub(t)
	s := NewStudentSession(h, &fakeConn{})
	payload, _ := json.Marshal(wire.RegisterRequest{ClientID: "nope", Token: "bad"})
	resp := s.Handle(wire.Envelope{Method: wire.MethodRegister, ID: "1", Payload: payload})

	var ack wire.RegisterAck
	json.Unmarshal(resp.Payload, &ack)
	if ack.OK {
		t.Errorf("bad token register ack.OK = true, want false")
	}
	if h.IsStudentOnline("nope") {
		t.Errorf("unregistered client marked online")
	}
}

// For any hub method other than Register, if the call's
// clientId does not equal the session's bound clientId, the call has no
// side effect.
func TestMismatchedClientIDHasNoSideEffect(t *testing.T) {
	h := newTestHub(t)
	s, clientID := registerTestStudent(t, h, &fakeConn{})

	sig := wire.StudentSignalEvent{ClientID: "someone-else", SignalType: "hand-raise"}
	payload, _ := json.Marshal(sig)
	resp := s.Handle(wire.Envelope{Method: wire.MethodSendStudentSignal, ID: "2", Payload: payload})
	if resp.Error == "" {
		t.Fatalf("expected an error for mismatched clientId, got %+v", resp)
	}

	// No signal should have been recorded against the real clientId's rate
	// limiter bucket: a follow-up call with the correct id must still be
	// allowed (proves the mismatched call never touched shared state).
	payload2, _ := json.Marshal(wire.StudentSignalEvent{ClientID: clientID, SignalType: "hand-raise"})
	resp2 := s.Handle(wire.Envelope{Method: wire.MethodSendStudentSignal, ID: "3", Payload: payload2})
	if resp2.Error != "" {
		t.Errorf("legit call after rejected spoofed call failed: %+v", resp2)
	}
}

func TestCallBeforeRegisterRejected(t *testing.T) {
	h := newTestHub(t)
	s := NewStudentSession(h, &fakeConn{})
	payload, _ := json.Marshal(wire.HeartbeatRequest{ClientID: "x"})
	resp := s.Handle(wire.Envelope{Method: wire.MethodHeartbeat, ID: "1", Payload: payload})
	if resp.Error == "" {
		t.Errorf("expected error calling Heartbeat before Register")
	}
}

func TestSignalRateLimited(t *testing.T) {
	h := newTestHub(t)
	teacherConn := &fakeConn{}
	NewTeacherSession(h, teacherConn)
	s, clientID := registerTestStudent(t, h, &fakeConn{})

	send := func() {
		payload, _ := json.Marshal(wire.StudentSignalEvent{ClientID: clientID, SignalType: "hand-raise"})
		s.Handle(wire.Envelope{Method: wire.MethodSendStudentSignal, ID: "x", Payload: payload})
	}
	send()
	send() // within cooldown, must be dropped silently (no second push)

	got := 0
	for _, e := range teacherConn.received {
		if e.Method == wire.EventStudentSignalReceived {
			got++
		}
	}
	if got != 1 {
		t.Errorf("teacher received %d StudentSignalReceived pushes, want 1", got)
	}
}

func TestGetStudentsViaTeacherSession(t *testing.T) {
	h := newTestHub(t)
	_, clientID := registerTestStudent(t, h, &fakeConn{})

	teacherConn := &fakeConn{}
	ts := NewTeacherSession(h, teacherConn)
	resp := ts.Handle(wire.Envelope{Method: wire.MethodGetStudents, ID: "1"})

	var students []wire.StudentSummary
	if err := json.Unmarshal(resp.Payload, &students); err != nil {
		t.Fatalf("unmarshal students: %v", err)
	}
	found := false
	for _, s := range students {
		if s.ClientID == clientID {
			found = true
		}
	}
	if !found {
		t.Errorf("GetStudents did not include registered student %q: %+v", clientID, students)
	}
}

func TestGeneratePairingPinViaTeacherSession(t *testing.T) {
	h := newTestHub(t)
	ts := NewTeacherSession(h, &fakeConn{})
	resp := ts.Handle(wire.Envelope{Method: wire.MethodGeneratePairingPin, ID: "1"})
	if resp.Error != "" {
		t.Fatalf("GeneratePairingPin error: %s", resp.Error)
	}
	var pin wire.PairingPinResponse
	json.Unmarshal(resp.Payload, &pin)
	if len(pin.Pin) != 6 {
		t.Errorf("pin = %q, want 6 digits", pin.Pin)
	}
}

func TestUnknownMethodRejected(t *testing.T) {
	h := newTestHub(t)
	ts := NewTeacherSession(h, &fakeConn{})
	resp := ts.Handle(wire.Envelope{Method: "NotAMethod", ID: "1"})
	if resp.Error == "" {
		t.Errorf("expected error for unknown method")
	}
}

func TestSessionCloseUnbindsStudentAndNotifies(t *testing.T) {
	h := newTestHub(t)
	teacherConn := &fakeConn{}
	NewTeacherSession(h, teacherConn)
	s, clientID := registerTestStudent(t, h, &fakeConn{})

	s.Close()
	if h.IsStudentOnline(clientID) {
		t.Errorf("student still online after Close")
	}
	env, ok := teacherConn.last()
	if !ok || env.Method != wire.EventStudentDisconnected {
		t.Errorf("teacher did not get StudentDisconnected, got %+v", env)
	}
}

// A reconnect supersedes the old
// connection's registry entry, but the old *Session stays open until its own
// transport notices the failed send. It must be rejected on every call from
// here on, not just able to mutate shared state until it happens to close.
func TestSupersededStudentSessionRejected(t *testing.T) {
	h := newTestHub(t)
	id, err := mintStudent(h.store)
	if err != nil {
		t.Fatalf("mintStudent: %v", err)
	}

	oldConn := &fakeConn{}
	oldSession := NewStudentSession(h, oldConn)
	payload, _ := json.Marshal(wire.RegisterRequest{ClientID: id.ClientID, Token: id.Token})
	resp := oldSession.Handle(wire.Envelope{Method: wire.MethodRegister, ID: "1", Payload: payload})
	var ack wire.RegisterAck
	json.Unmarshal(resp.Payload, &ack)
	if !ack.OK {
		t.Fatalf("first register ack not ok: %+v", ack)
	}

	newConn := &fakeConn{}
	newSession := NewStudentSession(h, newConn)
	resp = newSession.Handle(wire.Envelope{Method: wire.MethodRegister, ID: "2", Payload: payload})
	json.Unmarshal(resp.Payload, &ack)
	if !ack.OK {
		t.Fatalf("second register ack not ok: %+v", ack)
	}

	hb, _ := json.Marshal(wire.HeartbeatRequest{ClientID: id.ClientID, UtcNow: time.Now().UTC().UnixMilli()})
	oldResp := oldSession.Handle(wire.Envelope{Method: wire.MethodHeartbeat, ID: "3", Payload: hb})
	if oldResp.Error == "" {
		t.Errorf("superseded session's Heartbeat succeeded, want rejection")
	}

	newResp := newSession.Handle(wire.Envelope{Method: wire.MethodHeartbeat, ID: "4", Payload: hb})
	if newResp.Error != "" {
		t.Errorf("active session's Heartbeat rejected: %s", newResp.Error)
	}

	if h.activeStudentSession(id.ClientID) != newSession {
		t.Errorf("hub's active session for %s is not the newest registration", id.ClientID)
	}
}

func TestCircuitBreakerSkipsFailingTeacherConn(t *testing.T) {
	h := newTestHub(t)
	bad := &fakeConn{fail: true}
	ts := NewTeacherSession(h, bad)

	for i := 0; i < int(circuitBreakerThreshold)+5; i++ {
		h.pushToTeachers(wire.EventAlertReceived, wire.AlertEvent{})
	}
	if bad.count() != 0 {
		t.Errorf("fakeConn recorded %d sends despite fail=true", bad.count())
	}
	// The first circuitBreakerThreshold pushes fail; the 5 after that are
	// skipped (none lands on a probe slot), so no further failure is counted.
	h.mu.RLock()
	failures := h.teachers[ts.ConnectionID()].health.failures.Load()
	h.mu.RUnlock()
	if failures != circuitBreakerThreshold {
		t.Errorf("recorded failures = %d, want %d (later pushes skipped)", failures, circuitBreakerThreshold)
	}
}
