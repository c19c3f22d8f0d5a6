// Package tokenhash derives storage keys from opaque refresh secrets so the
// raw bearer value is never written to the store.
package tokenhash

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Size is the length of a hash produced by Hash.
const Size = sha256.Size * 2

// Hash returns the lowercase hex SHA-256 digest of secret.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Equal reports whether secret hashes to storedHash, in constant time.
func Equal(secret, storedHash string) bool {
	got := Hash(secret)
	want := strings.ToLower(strings.TrimSpace(storedHash))
	if len(want) != len(got) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
