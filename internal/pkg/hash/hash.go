// Package hash provides hashing utilities.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256 computes the SHA256 hash of data and returns it as a hex string.
func SHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SHA256String computes the SHA256 hash of a string.
func SHA256String(s string) string {
	return SHA256([]byte(s))
}

// PairKey derives an order-sensitive key for a (candidate, reference) pair.
// The length prefix keeps "ab"+"c" and "a"+"bc" apart.
func PairKey(candidate, reference string) string {
	h := sha256.New()
	var lenBuf [8]byte
	n := uint64(len(candidate))
	for i := range lenBuf {
		lenBuf[i] = byte(n >> (8 * i))
	}
	h.Write(lenBuf[:])
	h.Write([]byte(candidate))
	h.Write([]byte(reference))
	return hex.EncodeToString(h.Sum(nil))
}
