package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random hex identifier. Server-assigned account-permission
// ids use the "acct" prefix so they are distinguishable from client-supplied
// temporary ids in the audit trail.
func NewID(prefix string) string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
