package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint is the hex SHA-256 of data. Chunk fingerprints are taken over
// the chunk text exactly as stored.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func FingerprintString(s string) string {
	return Fingerprint([]byte(s))
}

// DocumentFingerprint covers the file bytes and the chunker settings, so a
// settings change invalidates the whole-document skip.
func DocumentFingerprint(data []byte, settings string) string {
	h := sha256.New()
	h.Write([]byte(settings))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
