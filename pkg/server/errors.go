package server

import "errors"

var (
	// ErrBind is returned when the listener cannot be bound.
	ErrBind = errors.New("failed to bind listener")

	// ErrNoFiles is returned when a server is created with an empty share list.
	ErrNoFiles = errors.New("no files to share")

	// ErrBusy is returned when a transfer is rejected by the single-flight guard.
	ErrBusy = errors.New("another transfer is in flight")

	// ErrNotStarted is returned when Stop is called on a server that never bound.
	ErrNotStarted = errors.New("server not started")

	// ErrStreamConsumed is returned when a forward-only source has already
	// been drained, by /files or by the bundle.
	ErrStreamConsumed = errors.New("stream already consumed")
)
