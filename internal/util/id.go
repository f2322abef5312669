package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 24-character hex id (same width as a Mongo ObjectID).
func NewID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
