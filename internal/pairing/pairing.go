// Package pairing implements PIN-based student onboarding: a short-lived
// one-time PIN, and minting the clientId/token pair that identifies a
// paired student device thereafter. Binding tokens are HMAC-signed JWTs so
// a presented token parses back to its clientId without a storage lookup.
package pairing

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/controledu/classroom/internal/errkind"
	"github.com/controledu/classroom/internal/storage"
)

// DefaultPinLifetime is the ceiling on how long a pairing PIN stays live.
const DefaultPinLifetime = 60 * time.Second

// MinSigningKeyLength mirrors the HMAC key-length floor the grounding
// example enforces.
const MinSigningKeyLength = 32

// ErrSigningKeyTooShort is a startup-time configuration failure:
// the server has nothing safe to fall back to and must fail to start.
var ErrSigningKeyTooShort = errkind.New(errkind.Fatal, errors.New("pairing: signing key must be at least 32 bytes"))

// pendingPin is one outstanding, unconsumed PIN.
type pendingPin struct {
	code         string
	expiresAtUtc time.Time
}

// bindingClaims is embedded in every minted token so a presented token can
// be parsed back to its clientId without a storage round-trip, though
// storage.ValidateToken still does the authoritative constant-time
// comparison against the persisted value.
type bindingClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"clientId"`
}

// Manager issues and consumes pairing PINs, and completes pairing requests
// against the durable store.
type Manager struct {
	mu         sync.Mutex
	pending    map[string]pendingPin // code -> pin, at most one live value per code
	store      *storage.Store
	signingKey []byte
	issuer     string
}

// NewManager builds a Manager backed by store for completing pairing
// requests (PairedClient upsert + audit logging). signingKey must be at
// least MinSigningKeyLength bytes; a server regenerates it once at first
// run and persists it in settings.
func NewManager(store *storage.Store, signingKey []byte, issuer string) (*Manager, error) {
	if len(signingKey) < MinSigningKeyLength {
		return nil, ErrSigningKeyTooShort
	}
	if issuer == "" {
		issuer = "controledu"
	}
	return &Manager{pending: map[string]pendingPin{}, store: store, signingKey: signingKey, issuer: issuer}, nil
}

// GeneratePin issues a uniformly-distributed 6-digit decimal PIN with
// lifetime ttl (clamped to DefaultPinLifetime if longer or non-positive).
// At most one PIN is live at a time; issuing a new one invalidates any
// previous unconsumed PIN.
func (m *Manager) GeneratePin(ttl time.Duration) (code string, expiresAtUtc time.Time, err error) {
	if ttl <= 0 || ttl > DefaultPinLifetime {
		ttl = DefaultPinLifetime
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("pairing: generate pin: %w", err)
	}
	code = fmt.Sprintf("%06d", n.Int64())
	expiresAtUtc = time.Now().Add(ttl)

	m.mu.Lock()
	m.pending = map[string]pendingPin{code: {code: code, expiresAtUtc: expiresAtUtc}}
	m.mu.Unlock()

	return code, expiresAtUtc, nil
}

// TryConsume atomically checks and removes code if it is still live and
// unexpired. Re-consuming the same value always returns false afterward
//.
func (m *Manager) TryConsume(code string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[code]
	if !ok {
		return false
	}
	delete(m.pending, code)
	return time.Now().Before(p.expiresAtUtc)
}

// MintedIdentity is the clientId/token pair minted on successful pairing.
type MintedIdentity struct {
	ClientID        string
	Token           string
	TokenExpiresUtc int64
}

// mintIdentity generates a 128-bit clientId and signs an HS256 JWT binding
// token valid for tokenTTL.
func (m *Manager) mintIdentity(tokenTTL time.Duration) (MintedIdentity, error) {
	clientID, err := randomHex(16) // 128 bits
	if err != nil {
		return MintedIdentity{}, fmt.Errorf("pairing: mint clientId: %w", err)
	}

	now := time.Now()
	expiresAt := now.Add(tokenTTL)
	claims := bindingClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		ClientID: clientID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return MintedIdentity{}, fmt.Errorf("pairing: sign token: %w", err)
	}

	return MintedIdentity{ClientID: clientID, Token: token, TokenExpiresUtc: expiresAt.Unix()}, nil
}

// ParseToken validates a presented binding token's signature and expiry and
// returns the clientId it was minted for. This is a cheap pre-check before
// the authoritative storage.ValidateToken lookup; a token that fails to
// parse here can never validate against storage either.
func (m *Manager) ParseToken(tokenString string) (clientID string, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &bindingClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("pairing: unexpected signing method %v", t.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return "", errkind.New(errkind.Authentication, err)
	}
	claims, ok := token.Claims.(*bindingClaims)
	if !ok || !token.Valid {
		return "", errkind.New(errkind.Authentication, errors.New("pairing: invalid token"))
	}
	return claims.ClientID, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Complete finishes a pairing request: mints an identity, upserts
// the PairedClient row, and writes an audit entry. hostName/userName/
// osDescription/localIP describe the pairing device as reported by the
// agent.
func (m *Manager) Complete(hostName, userName, osDescription, localIP string, tokenTTL time.Duration) (MintedIdentity, error) {
	id, err := m.mintIdentity(tokenTTL)
	if err != nil {
		return MintedIdentity{}, err
	}

	if err := m.store.UpsertPairedClient(storage.PairedClient{
		ClientID: id.ClientID, Token: id.Token,
		HostName: hostName, UserName: userName, OsDescription: osDescription,
		LocalIP: localIP, TokenExpiresUtc: id.TokenExpiresUtc,
	}); err != nil {
		return MintedIdentity{}, fmt.Errorf("pairing: upsert paired client: %w", err)
	}

	_ = m.store.InsertAuditLog("pair", id.ClientID, fmt.Sprintf(`{"hostName":%q,"userName":%q}`, hostName, userName))
	return id, nil
}

// Revoke deletes the paired-client row and records an audit entry. The
// caller is responsible for pushing ForceUnpair to any live hub session.
func (m *Manager) Revoke(clientID, actor string) error {
	if err := m.store.RevokePairedClient(clientID); err != nil {
		return err
	}
	return m.store.InsertAuditLog("revoke", actor, fmt.Sprintf(`{"clientId":%q}`, clientID))
}
