package supervisor

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	credentialAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	credentialLength   = 32
)

// NewCredential returns a fresh 32-character alphanumeric session secret,
// uniformly sampled over the 62-character alphabet. A new one is generated
// on every (re)start and never reused.
func NewCredential() (string, error) {
	max := big.NewInt(int64(len(credentialAlphabet)))
	buf := make([]byte, credentialLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate credential: %w", err)
		}
		buf[i] = credentialAlphabet[n.Int64()]
	}
	return string(buf), nil
}
