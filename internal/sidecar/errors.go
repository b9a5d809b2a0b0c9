package sidecar

import "errors"

var (
	// ErrWorkerNotFound means the worker executable exists at none of the candidate locations.
	ErrWorkerNotFound = errors.New("tagger worker executable not found")
	// ErrSpawnFailure means the OS refused to create the worker process.
	ErrSpawnFailure = errors.New("failed to spawn tagger worker")
	// ErrTerminationFailure means the worker could not be confirmed dead.
	// The slot is cleared regardless.
	ErrTerminationFailure = errors.New("failed to terminate tagger worker")
	// ErrShuttingDown is returned by Start once Shutdown has run.
	ErrShuttingDown = errors.New("tagger supervisor is shutting down")
)
