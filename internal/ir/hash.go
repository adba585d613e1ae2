package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainEntry prefixes content fingerprints. The version suffix allows
// changing the algorithm later.
const DomainEntry = "strata/entry/v1"

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns a stable content hash of cached data. Equal data
// yields equal fingerprints regardless of map ordering.
func Fingerprint(data any) (string, error) {
	b, err := MarshalCanonical(data)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(DomainEntry, b), nil
}
