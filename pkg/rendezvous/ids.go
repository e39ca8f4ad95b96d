package rendezvous

import (
	"crypto/rand"
	"encoding/hex"
)

// generateSessionID creates a random 8-character hex ID, e.g. "a1b2c3d4".
func generateSessionID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}
