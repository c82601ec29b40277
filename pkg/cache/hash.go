package cache

import (
	"encoding/hex"
	"io"

	"github.com/zeebo/blake3"
)

// hashKey derives "<prefix>:<digest>" from parts. Parts are NUL-terminated
// before hashing so ("ab", "c") and ("a", "bc") yield different keys.
func hashKey(prefix string, parts ...string) string {
	h := blake3.New()
	for _, p := range parts {
		_, _ = io.WriteString(h, p)
		_, _ = h.Write([]byte{0})
	}
	return prefix + ":" + hex.EncodeToString(h.Sum(nil)[:16])
}

// Hash returns the hex BLAKE3-256 digest of data (64 characters).
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
