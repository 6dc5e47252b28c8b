// Package idgen provides record ID generation for the engine.
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// WithPrefix generates a random ID with a prefix (e.g. "dep_", "evt_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Derive produces a deterministic record ID from the caller's address, their
// nonce, and the invocation timestamp. The same (payer, nonce, timestamp)
// triple always yields the same ID, so a duplicate submission of one signed
// operation collides with the first record instead of creating a second.
func Derive(prefix, payer string, nonce uint64, unixNano int64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", payer, nonce, unixNano)))
	return prefix + hex.EncodeToString(h[:12])
}
