package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// fingerprintLen is the number of hex characters kept.
const fingerprintLen = 12

// TokenFingerprint returns a short SHA-256 digest of a presented token so log lines
// about the same token can be correlated without writing the token itself.
func TokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])[:fingerprintLen]
}
