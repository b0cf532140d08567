// Package integrity provides the content fingerprints the engine compares:
// an unkeyed checksum for cheap equality, a keyed hash for network payloads,
// and a time-salted signature stored alongside each integrity record.
//
// A signature folds in the capture timestamp, so it can only be reproduced
// by replaying that exact timestamp. Callers keep the signature computed at
// capture time and compare it as an opaque label (SameLabel); nothing
// recomputes a "live" signature for comparison.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Checksum returns the hex SHA-256 of content.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NetworkHash returns the hex keyed BLAKE2b-256 of content. Keys longer than
// blake2b's 64-byte limit are reduced with SHA-256 first.
func NetworkHash(content string, secret []byte) string {
	key := secret
	if len(key) > blake2b.Size {
		k := sha256.Sum256(key)
		key = k[:]
	}
	h, err := blake2b.New256(key)
	if err != nil {
		// Unreachable: key length is bounded above.
		panic("integrity: blake2b: " + err.Error())
	}
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// Signature returns HMAC-SHA256(secret) over content ‖ ts ‖ secret, where ts
// is the decimal Unix millisecond timestamp.
func Signature(content string, secret []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(content))
	mac.Write([]byte(strconv.FormatInt(ts.UnixMilli(), 10)))
	mac.Write(secret)
	return hex.EncodeToString(mac.Sum(nil))
}

// SameLabel compares two stored fingerprints in constant time.
func SameLabel(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
