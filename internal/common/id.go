package common

import (
	"github.com/google/uuid"
)

// NewCorrelationID generates a unique client-side correlation ID with the
// "cor_" prefix, used to tie log lines to one submission attempt before the
// backend assigns a run ID.
func NewCorrelationID() string {
	return "cor_" + uuid.New().String()
}
