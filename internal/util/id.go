package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a URL-safe hex string ID.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewTimeID returns prefix + "_" + a UUIDv7. The UUID embeds the creation
// time in milliseconds, so IDs issued by one process sort by creation time.
func NewTimeID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return prefix + "_" + NewID()
	}
	return prefix + "_" + id.String()
}
