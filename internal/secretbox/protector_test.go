package secretbox

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestNullProtectorRoundTrip(t *testing.T) {
	var p NullProtector
	plain := []byte("super-secret-token")
	opaque, err := p.Protect(plain)
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	got, err := p.Unprotect(opaque)
	if err != nil {
		t.Fatalf("Unprotect: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("round trip = %q, want %q", got, plain)
	}
	if IsProductionSafe(p) {
		t.Error("NullProtector must never be production-safe")
	}
}

func TestLocalKeyProtectorRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "controledu")
	p, err := NewLocalKeyProtector(dir)
	if err != nil {
		t.Fatalf("NewLocalKeyProtector: %v", err)
	}
	if !IsProductionSafe(p) {
		t.Error("LocalKeyProtector should be production-safe")
	}

	plain := []byte("0123456789abcdef0123456789abcdef")
	opaque, err := p.Protect(plain)
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	if bytes.Equal(opaque, plain) {
		t.Error("Protect returned plaintext unchanged")
	}
	got, err := p.Unprotect(opaque)
	if err != nil {
		t.Fatalf("Unprotect: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("round trip = %q, want %q", got, plain)
	}

	// A second protector instance pointed at the same directory reuses the
	// persisted key and can still decrypt.
	p2, err := NewLocalKeyProtector(dir)
	if err != nil {
		t.Fatalf("NewLocalKeyProtector (reopen): %v", err)
	}
	got2, err := p2.Unprotect(opaque)
	if err != nil {
		t.Fatalf("Unprotect (reopen): %v", err)
	}
	if !bytes.Equal(got2, plain) {
		t.Errorf("reopened round trip = %q, want %q", got2, plain)
	}
}

func TestLocalKeyProtectorRejectsTamperedBlob(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "controledu")
	p, err := NewLocalKeyProtector(dir)
	if err != nil {
		t.Fatalf("NewLocalKeyProtector: %v", err)
	}
	opaque, err := p.Protect([]byte("hello"))
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	opaque[len(opaque)-1] ^= 0xFF
	if _, err := p.Unprotect(opaque); err == nil {
		t.Error("expected Unprotect to reject a tampered blob")
	}
}
