package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a URL-safe hex string ID used for documents and request ids.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewUUID returns a random (v4) UUID string. Image keys and comment ids use
// it so they never collide with document ids.
func NewUUID() string {
	return uuid.NewString()
}
