package pairing

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/controledu/classroom/internal/storage"
	"github.com/controledu/classroom/internal/wire"
)

const (
	settingServerID   = "server.id"
	settingSigningKey = "server.signingKey"
)

// GetOrCreateServerIdentity returns the server's stable identity, creating
// and persisting a new serverId on first run. The
// fingerprint is SHA-256 of the serverId's hex bytes.
func GetOrCreateServerIdentity(store *storage.Store, displayName string) (wire.ServerIdentity, error) {
	serverID, ok, err := store.GetSetting(settingServerID)
	if err != nil {
		return wire.ServerIdentity{}, err
	}
	if !ok {
		serverID, err = randomHex(16)
		if err != nil {
			return wire.ServerIdentity{}, err
		}
		if err := store.SetSetting(settingServerID, serverID); err != nil {
			return wire.ServerIdentity{}, err
		}
	}

	sum := sha256.Sum256([]byte(serverID))
	fingerprint := hex.EncodeToString(sum[:])

	return wire.ServerIdentity{ServerID: serverID, DisplayName: displayName, Fingerprint: fingerprint}, nil
}

// GetOrCreateSigningKey returns the server's persisted HMAC signing key for
// binding-token minting, generating and storing a new 256-bit key on first
// run so tokens remain valid across restarts.
func GetOrCreateSigningKey(store *storage.Store) ([]byte, error) {
	existing, ok, err := store.GetSetting(settingSigningKey)
	if err != nil {
		return nil, err
	}
	if ok {
		return hex.DecodeString(existing)
	}

	keyHex, err := randomHex(32) // 256 bits
	if err != nil {
		return nil, err
	}
	if err := store.SetSetting(settingSigningKey, keyHex); err != nil {
		return nil, err
	}
	return hex.DecodeString(keyHex)
}
