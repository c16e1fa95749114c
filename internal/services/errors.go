package services

import "errors"

var (
	// ErrBadRequest marks caller input the service cannot act on.
	ErrBadRequest = errors.New("bad request")
	// ErrConflict marks an operation the session's current state refuses.
	ErrConflict = errors.New("conflict")
	// ErrQueueClosed is returned once shutdown has begun.
	ErrQueueClosed = errors.New("work queue is shutting down")
	// ErrQueueFull is returned when no worker slot or buffer space is free.
	ErrQueueFull = errors.New("work queue is full")
)
