package utils

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// HashKey derives a fixed-length hex key from opaque values such as session
// ids, so raw identifiers never appear in storage keys or logs.
func HashKey(parts ...string) string {
	h, _ := blake2b.New256(nil)
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ShortKey is the first 12 characters of HashKey, for log fields.
func ShortKey(parts ...string) string {
	return HashKey(parts...)[:12]
}
