package prefs

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenBytes gives 256 bits of entropy. The unsubscribe token is a bearer
// credential embedded in outbound email links, so it must be unguessable.
const tokenBytes = 32

// NewUnsubscribeToken generates a fresh unsubscribe token from a
// cryptographically secure source.
func NewUnsubscribeToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate unsubscribe token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
