package relay

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash fingerprints message content for no-op edit detection.
// Truncated: collisions only cost one redundant transport edit.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}
