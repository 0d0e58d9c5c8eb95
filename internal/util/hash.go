package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex fingerprints document content so identical uploads can be spotted.
func SHA256Hex(b []byte) string {
	x := sha256.Sum256(b)
	return hex.EncodeToString(x[:])
}
