package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes. Each subsystem signs with its own key derived from the
// single configured secret, so a token minted for one purpose never
// verifies for another.
const (
	PurposeCSRF    = "crewfront/csrf/v1"
	PurposeSession = "crewfront/session/v1"
)

// DeriveKey expands the master secret into a 32-byte key for purpose.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("master secret is empty")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, master, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive %s key: %w", purpose, err)
	}
	return key, nil
}
