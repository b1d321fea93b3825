package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// NewStreamKey returns a random 32-character hex key identifying a broadcast.
func NewStreamKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
