package metadata

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns the hex BLAKE2b-256 digest of a secret value. The
// digest doubles as the sharing-invalidation token: every grant pins the
// fingerprint current at share time and lapses when it changes. It is
// deterministic, so rewriting a secret with the identical value leaves
// existing grants valid.
func Fingerprint(value []byte) string {
	sum := blake2b.Sum256(value)
	return hex.EncodeToString(sum[:])
}
