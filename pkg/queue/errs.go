package queue

import "errors"

var (
	// ErrShutDown is returned by Push once the queue has been shut down.
	ErrShutDown = errors.New("queue: shut down")
)
