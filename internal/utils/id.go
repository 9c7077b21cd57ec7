package utils

import "github.com/google/uuid"

// NewID returns a random UUIDv4 string.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether s parses as a UUID.
func ValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
