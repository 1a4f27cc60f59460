package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a unique "run_"-prefixed identifier for one
// Execute call. Execute itself does not call it or log it.
func NewRunID() string {
	return "run_" + uuid.New().String()
}
