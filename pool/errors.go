package pool

import "errors"

var (
	// ErrPoolExhausted is returned by Acquire when no container is available.
	ErrPoolExhausted = errors.New("pool exhausted: no container available")

	// ErrPoolClosed is returned by Acquire once Cleanup has started.
	ErrPoolClosed = errors.New("pool closed")

	// ErrPoolDegraded is returned by Initialize when fewer containers than
	// requested could be created.
	ErrPoolDegraded = errors.New("pool degraded")

	ErrAlreadyInitialized = errors.New("pool already initialized")

	ErrRuntimeNotFound = errors.New("runtime not found")
)
