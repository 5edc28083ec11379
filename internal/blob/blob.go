package blob

import (
	"context"
	"fmt"
	"time"
)

// ErrBlobNotFound is returned when a key does not resolve to stored bytes
var ErrBlobNotFound = fmt.Errorf("blob not found")

// Store holds raw uploaded bytes under a time-bounded key so the HTTP
// process and the background worker can be decoupled in time and identity.
type Store interface {
	// Store writes the payload under a key derived from the task id and
	// applies the TTL; returns the key
	Store(ctx context.Context, taskID string, data []byte) (string, error)

	// Get retrieves the payload, or ErrBlobNotFound if the key is absent
	// (never stored, already cleaned up, or expired)
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the payload. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key currently resolves
	Exists(ctx context.Context, key string) (bool, error)

	// Ping tests the connection to the backing store
	Ping(ctx context.Context) error

	// Close releases resources used by the store
	Close() error
}

// KeyForTask derives the storage key for a task's upload
func KeyForTask(taskID string) string {
	return "upload:file:" + taskID
}

// TTL bounds worst-case storage leakage if cleanup is ever skipped
const DefaultTTL = time.Hour
