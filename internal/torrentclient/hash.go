package torrentclient

import (
	"strconv"
	"strings"
)

// NormalizeHash lowercases a content hash so it can be compared across backends.
func NormalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// SyntheticID derives the integer ID used for hash-addressed backends from the
// first 8 hex digits of the content hash. The truncation is lossy: two hashes
// sharing a prefix collide. Callers that need an exact key use the hash.
func SyntheticID(hash string) int64 {
	hash = NormalizeHash(hash)
	if len(hash) > 8 {
		hash = hash[:8]
	}
	id, err := strconv.ParseUint(hash, 16, 32)
	if err != nil {
		return 0
	}
	return int64(id)
}
