package domain

import "github.com/google/uuid"

// NewID returns a new random identifier for locally owned rows.
func NewID() string {
	return uuid.NewString()
}
