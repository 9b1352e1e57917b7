package invite

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// TokenLength is the external representation: 32 random bytes rendered as
// lowercase hex. The token is a bearer lookup key only; every claim about
// the invitation lives server-side against its hash.
const TokenLength = 64

// NewToken mints an invitation token with 256 bits of entropy.
func NewToken() (string, error) {
	buf := make([]byte, TokenLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the sha256 hex digest stored in place of the token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// wellFormed rejects tokens that cannot possibly exist before any store
// lookup. Callers must surface the failure with the same message as a
// failed lookup so the format check is not an oracle.
func wellFormed(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
