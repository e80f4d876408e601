package queue

import "errors"

var (
	// ErrInvalidOperation indicates an enqueue input missing required fields
	ErrInvalidOperation = errors.New("invalid sync operation")

	// ErrNotFound indicates the operation id is not in the queue
	ErrNotFound = errors.New("operation not found in queue")

	// ErrNotPersisted indicates the in-memory queue changed but the snapshot
	// could not be written; the change is kept and retried on the next write
	ErrNotPersisted = errors.New("queue snapshot not persisted")

	// ErrUnsupportedVersion indicates a stored snapshot written by a newer build
	ErrUnsupportedVersion = errors.New("unsupported queue snapshot version")
)
