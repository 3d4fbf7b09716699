package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateUUID returns a random v4 UUID.
func GenerateUUID() string {
	return uuid.NewString()
}

// GenerateShortID returns the first 8 hex digits of a v4 UUID.
func GenerateShortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
