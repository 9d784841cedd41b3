package util

import (
	"time"

	"github.com/google/uuid"
)

// NewUUID prefers time ordered v7 ids and falls back to v4.
func NewUUID() string {
	maxRetry := 10
	for i := 0; i < maxRetry; i++ {
		id, err := uuid.NewV7()
		if err == nil {
			return id.String()
		}

		if i < maxRetry-1 {
			// just over the 100ns precision of v7
			time.Sleep(200 * time.Nanosecond)
		}
	}

	return uuid.New().String()
}
