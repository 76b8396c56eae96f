package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
)

const (
	saltLen  = 16
	tokenLen = 32
)

// Manager holds the password digest and the current session token for one
// server run. The plaintext password is hashed in New and never kept.
// A nil *Manager treats every request as authenticated.
type Manager struct {
	salt []byte
	hash [sha256.Size]byte

	mu    sync.RWMutex
	token string
}

// New derives a salted digest from password and mints an initial token.
func New(password string) (*Manager, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	m := &Manager{
		salt: salt,
		hash: digest(salt, password),
	}
	if _, err := m.RefreshToken(); err != nil {
		return nil, err
	}
	return m, nil
}

// ValidatePassword rehashes candidate with the stored salt and compares in
// constant time.
func (m *Manager) ValidatePassword(candidate string) bool {
	if m == nil {
		return true
	}
	h := digest(m.salt, candidate)
	return subtle.ConstantTimeCompare(h[:], m.hash[:]) == 1
}

// ValidateToken compares candidate against the current token in constant
// time. Only the current token is valid; refreshed tokens are dead, and an
// invalidated manager rejects everything.
func (m *Manager) ValidateToken(candidate string) bool {
	if m == nil {
		return true
	}
	m.mu.RLock()
	token := m.token
	m.mu.RUnlock()
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1
}

// RefreshToken replaces the current token with a fresh random one and
// returns it. The previous token fails validation immediately.
func (m *Manager) RefreshToken() (string, error) {
	raw := make([]byte, tokenLen)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return token, nil
}

// Invalidate clears the current token so no further request validates.
// Safe to call while validations are in flight.
func (m *Manager) Invalidate() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
}

// Token returns the current token.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func digest(salt []byte, password string) [sha256.Size]byte {
	buf := make([]byte, 0, len(salt)+1+len(password))
	buf = append(buf, salt...)
	buf = append(buf, ':')
	buf = append(buf, password...)
	return sha256.Sum256(buf)
}
