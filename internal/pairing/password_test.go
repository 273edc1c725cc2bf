package pairing

import (
	"strings"
	"testing"
)

// Universal invariant: for all p1 != p2, Verify(p2, CreateHash(p1)) is
// false, and the hash round-trips for the original password.
func TestPasswordHashVerify(t *testing.T) {
	hash, err := CreatePasswordHash("correct horse battery")
	if err != nil {
		t.Fatalf("CreatePasswordHash: %v", err)
	}
	if !VerifyPassword("correct horse battery", hash) {
		t.Errorf("VerifyPassword with original password = false, want true")
	}
	for _, wrong := range []string{"", "correct horse", "correct horse battery ", "CORRECT HORSE BATTERY"} {
		if VerifyPassword(wrong, hash) {
			t.Errorf("VerifyPassword(%q) = true, want false", wrong)
		}
	}
}

func TestPasswordHashIsSalted(t *testing.T) {
	h1, err := CreatePasswordHash("same input")
	if err != nil {
		t.Fatalf("CreatePasswordHash: %v", err)
	}
	h2, err := CreatePasswordHash("same input")
	if err != nil {
		t.Fatalf("CreatePasswordHash: %v", err)
	}
	if h1 == h2 {
		t.Errorf("two hashes of the same password are identical; salt missing")
	}
}

func TestPasswordTooLong(t *testing.T) {
	if _, err := CreatePasswordHash(strings.Repeat("a", 73)); err != ErrPasswordTooLong {
		t.Errorf("CreatePasswordHash(73 bytes) = %v, want ErrPasswordTooLong", err)
	}
}
