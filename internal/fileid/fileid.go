// Package fileid provides a deterministic point ID from an image filename.
package fileid

import (
	"crypto/sha256"
	"encoding/binary"
)

// PointID returns a stable point ID for the given filename: the first 8 bytes of
// its SHA-256 digest, big-endian, with the top bit cleared so the value also fits
// a signed 64-bit column. Same filename always yields the same ID.
func PointID(filename string) uint64 {
	hash := sha256.Sum256([]byte(filename))
	return binary.BigEndian.Uint64(hash[:8]) &^ (1 << 63)
}
