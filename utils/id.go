package utils

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// GenerateID returns a random 16-character hex string (8 bytes of entropy).
// Used as the caller-facing instance ID.
func GenerateID() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// AddressID derives a deterministic UUID v5 from a network address
// ("ip:port"). Re-registration from the same address always yields the
// same server ID.
func AddressID(addr string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(addr)).String()
}

// ShortID truncates an ID for log and table output.
func ShortID(id string) string {
	const n = 12
	if len(id) <= n {
		return id
	}
	return id[:n]
}
