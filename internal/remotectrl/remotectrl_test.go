package remotectrl

import (
	"testing"
	"time"

	"github.com/controledu/classroom/internal/wire"
)

type fakeHub struct {
	online map[string]bool
	pushed []pushed
}

type pushed struct {
	clientID, method string
	payload          any
}

func (f *fakeHub) PushToStudent(clientID, method string, payload any) bool {
	f.pushed = append(f.pushed, pushed{clientID, method, payload})
	return f.online == nil || f.online[clientID]
}

func (f *fakeHub) IsStudentOnline(clientID string) bool {
	return f.online == nil || f.online[clientID]
}

func TestRequestSessionStartsPendingApproval(t *testing.T) {
	hub := &fakeHub{online: map[string]bool{"s1": true}}
	svc := New(hub, nil)

	sessionID, err := svc.RequestSession("teacher1", "s1")
	if err != nil {
		t.Fatalf("RequestSession: %v", err)
	}
	if sessionID == "" {
		t.Fatal("expected non-empty sessionId")
	}
	if got := svc.State("s1"); got != wire.RCStatePendingApproval {
		t.Errorf("State = %v, want PendingApproval", got)
	}
	if len(hub.pushed) != 1 || hub.pushed[0].method != wire.EventRemoteControlSessionCommand {
		t.Errorf("expected one RemoteControlSessionCommand push, got %v", hub.pushed)
	}
}

func TestRequestSessionRejectsSecondWhileActive(t *testing.T) {
	hub := &fakeHub{online: map[string]bool{"s1": true}}
	svc := New(hub, nil)
	if _, err := svc.RequestSession("teacher1", "s1"); err != nil {
		t.Fatalf("first RequestSession: %v", err)
	}
	if _, err := svc.RequestSession("teacher2", "s1"); err != ErrAlreadyActive {
		t.Fatalf("second RequestSession = %v, want ErrAlreadyActive", err)
	}
}

func TestRequestSessionRejectsOfflineStudent(t *testing.T) {
	hub := &fakeHub{online: map[string]bool{}}
	svc := New(hub, nil)
	if _, err := svc.RequestSession("teacher1", "s1"); err != ErrStudentOffline {
		t.Fatalf("RequestSession for offline student = %v, want ErrStudentOffline", err)
	}
}

func TestForwardInputRequiresApproved(t *testing.T) {
	hub := &fakeHub{online: map[string]bool{"s1": true}}
	svc := New(hub, nil)
	sessionID, _ := svc.RequestSession("teacher1", "s1")

	err := svc.ForwardInput("teacher1", wire.RemoteControlInputCommand{SessionID: sessionID, Kind: "move"})
	if err != ErrNotApproved {
		t.Fatalf("ForwardInput before approval = %v, want ErrNotApproved", err)
	}

	if err := svc.ReportStatus("s1", wire.RemoteControlStatus{ClientID: "s1", SessionID: sessionID, State: wire.RCStateApproved}); err != nil {
		t.Fatalf("ReportStatus: %v", err)
	}
	if err := svc.ForwardInput("teacher1", wire.RemoteControlInputCommand{SessionID: sessionID, Kind: "move"}); err != nil {
		t.Fatalf("ForwardInput after approval: %v", err)
	}
}

func TestForwardInputRejectsWrongOwner(t *testing.T) {
	hub := &fakeHub{online: map[string]bool{"s1": true}}
	svc := New(hub, nil)
	sessionID, _ := svc.RequestSession("teacher1", "s1")
	svc.ReportStatus("s1", wire.RemoteControlStatus{ClientID: "s1", SessionID: sessionID, State: wire.RCStateApproved})

	if err := svc.ForwardInput("someone-else", wire.RemoteControlInputCommand{SessionID: sessionID}); err != ErrWrongOwner {
		t.Fatalf("ForwardInput wrong owner = %v, want ErrWrongOwner", err)
	}
}

func TestTeacherDisconnectedEndsOwnedSessions(t *testing.T) {
	hub := &fakeHub{online: map[string]bool{"s1": true, "s2": true}}
	svc := New(hub, nil)
	svc.RequestSession("teacher1", "s1")
	svc.RequestSession("teacher1", "s2")

	svc.TeacherDisconnected("teacher1")

	if got := svc.State("s1"); got != wire.RCStateEnded {
		t.Errorf("s1 State = %v, want Ended", got)
	}
	if got := svc.State("s2"); got != wire.RCStateEnded {
		t.Errorf("s2 State = %v, want Ended", got)
	}
}

func TestExpireStaleTransitionsOldPending(t *testing.T) {
	hub := &fakeHub{online: map[string]bool{"s1": true}}
	svc := New(hub, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return base }

	svc.RequestSession("teacher1", "s1")

	svc.nowFn = func() time.Time { return base.Add(ApprovalTimeout + time.Second) }
	svc.ExpireStale()

	if got := svc.State("s1"); got != wire.RCStateExpired {
		t.Errorf("State after timeout = %v, want Expired", got)
	}
}

func TestStopSessionIsIdempotent(t *testing.T) {
	hub := &fakeHub{online: map[string]bool{"s1": true}}
	svc := New(hub, nil)
	sessionID, _ := svc.RequestSession("teacher1", "s1")

	if err := svc.StopSession("teacher1", sessionID); err != nil {
		t.Fatalf("first StopSession: %v", err)
	}
	if err := svc.StopSession("teacher1", sessionID); err != nil {
		t.Fatalf("second StopSession: %v", err)
	}
	if got := svc.State("s1"); got != wire.RCStateEnded {
		t.Errorf("State = %v, want Ended", got)
	}
}

// A status report may only walk the session along its legal edges: a
// terminal session cannot be resurrected into Approved to re-enable input
// forwarding, and PendingApproval cannot skip straight to Ended.
func TestReportStatusRejectsIllegalTransitions(t *testing.T) {
	hub := &fakeHub{online: map[string]bool{"s1": true}}
	svc := New(hub, nil)
	sessionID, _ := svc.RequestSession("teacher1", "s1")

	if err := svc.ReportStatus("s1", wire.RemoteControlStatus{ClientID: "s1", SessionID: sessionID, State: wire.RCStateEnded}); err != ErrBadTransition {
		t.Fatalf("PendingApproval->Ended = %v, want ErrBadTransition", err)
	}

	if err := svc.ReportStatus("s1", wire.RemoteControlStatus{ClientID: "s1", SessionID: sessionID, State: wire.RCStateApproved}); err != nil {
		t.Fatalf("PendingApproval->Approved: %v", err)
	}
	if err := svc.ReportStatus("s1", wire.RemoteControlStatus{ClientID: "s1", SessionID: sessionID, State: wire.RCStateEnded}); err != nil {
		t.Fatalf("Approved->Ended: %v", err)
	}

	if err := svc.ReportStatus("s1", wire.RemoteControlStatus{ClientID: "s1", SessionID: sessionID, State: wire.RCStateApproved}); err != ErrBadTransition {
		t.Fatalf("Ended->Approved = %v, want ErrBadTransition", err)
	}
	if got := svc.State("s1"); got != wire.RCStateEnded {
		t.Errorf("State after resurrection attempt = %v, want Ended", got)
	}
	if err := svc.ForwardInput("teacher1", wire.RemoteControlInputCommand{SessionID: sessionID, Kind: "move"}); err != ErrNotApproved {
		t.Errorf("ForwardInput after resurrection attempt = %v, want ErrNotApproved", err)
	}
}
