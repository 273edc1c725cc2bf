package pairing

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/controledu/classroom/internal/storage"
)

const settingAdminPasswordHash = "admin.passwordHash"

// bcryptCost balances hashing time against brute-force resistance for an
// admin password checked once per console request.
const bcryptCost = 10

// bcrypt truncates input at 72 bytes, so longer passwords are rejected
// rather than silently weakened.
const maxPasswordLength = 72

// ErrPasswordTooLong is returned by CreatePasswordHash for passwords past
// the bcrypt input limit.
var ErrPasswordTooLong = errors.New("pairing: password must be at most 72 bytes")

// CreatePasswordHash hashes the teacher console's admin password for
// storage in the settings table.
func CreatePasswordHash(password string) (string, error) {
	if len(password) > maxPasswordLength {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches a stored
// CreatePasswordHash value.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// SetAdminPassword hashes password and persists it as the server's admin
// password. Administrative HTTP routes require it once set.
func SetAdminPassword(store *storage.Store, password string) error {
	hash, err := CreatePasswordHash(password)
	if err != nil {
		return err
	}
	return store.SetSetting(settingAdminPasswordHash, hash)
}

// AdminPasswordHash returns the stored admin password hash; ok is false
// when no password has been set (open access, the first-run default).
func AdminPasswordHash(store *storage.Store) (string, bool, error) {
	return store.GetSetting(settingAdminPasswordHash)
}
