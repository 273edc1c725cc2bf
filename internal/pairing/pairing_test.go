package pairing

import (
	"strings"
	"testing"
	"time"

	"github.com/controledu/classroom/internal/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	m, err := NewManager(store, []byte("0123456789abcdef0123456789abcdef"), "controledu-test")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManagerRejectsShortKey(t *testing.T) {
	store, _ := storage.New(":memory:")
	defer store.Close()
	if _, err := NewManager(store, []byte("too-short"), "x"); err != ErrSigningKeyTooShort {
		t.Errorf("NewManager with short key = %v, want ErrSigningKeyTooShort", err)
	}
}

// TryConsume(p.code) returns true at most once, and
// returns false after p.expiresAtUtc.
func TestGeneratePinTryConsumeOnce(t *testing.T) {
	m := newTestManager(t)
	code, _, err := m.GeneratePin(30 * time.Second)
	if err != nil {
		t.Fatalf("GeneratePin: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("pin %q is not 6 digits", code)
	}
	if !m.TryConsume(code) {
		t.Fatalf("first TryConsume = false, want true")
	}
	if m.TryConsume(code) {
		t.Errorf("second TryConsume = true, want false")
	}
}

func TestTryConsumeExpired(t *testing.T) {
	m := newTestManager(t)
	code, _, err := m.GeneratePin(1 * time.Millisecond)
	if err != nil {
		t.Fatalf("GeneratePin: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if m.TryConsume(code) {
		t.Errorf("TryConsume on expired pin = true, want false")
	}
}

func TestGeneratePinInvalidatesPrevious(t *testing.T) {
	m := newTestManager(t)
	first, _, _ := m.GeneratePin(30 * time.Second)
	m.GeneratePin(30 * time.Second)
	if m.TryConsume(first) {
		t.Errorf("stale pin still consumable after a new one was issued")
	}
}

func TestCompleteMintsAndParsesToken(t *testing.T) {
	m := newTestManager(t)
	id, err := m.Complete("lab-pc-07", "alice", "Windows 11", "192.168.1.20", time.Hour)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if id.ClientID == "" || id.Token == "" {
		t.Fatalf("Complete returned empty identity: %+v", id)
	}
	if !strings.Contains(id.Token, ".") {
		t.Errorf("token %q does not look like a JWT", id.Token)
	}

	clientID, err := m.ParseToken(id.Token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if clientID != id.ClientID {
		t.Errorf("ParseToken clientID = %q, want %q", clientID, id.ClientID)
	}

	ok, err := m.store.ValidateToken(id.ClientID, id.Token, time.Now())
	if err != nil || !ok {
		t.Errorf("ValidateToken = %v, %v; want true, nil", ok, err)
	}
}

func TestParseTokenRejectsTampered(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.Complete("host", "user", "os", "", time.Hour)
	tampered := id.Token[:len(id.Token)-1] + "x"
	if _, err := m.ParseToken(tampered); err == nil {
		t.Errorf("expected ParseToken to reject a tampered token")
	}
}

func TestRevokeRemovesPairedClient(t *testing.T) {
	m := newTestManager(t)
	id, _ := m.Complete("host", "user", "os", "", time.Hour)
	if err := m.Revoke(id.ClientID, "teacher"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if ok, _ := m.store.ValidateToken(id.ClientID, id.Token, time.Now()); ok {
		t.Errorf("token still validates after revoke")
	}
}
