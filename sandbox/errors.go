package sandbox

import "errors"

var (
	ErrContainerNotFound = errors.New("container not found")

	ErrContainerCreateFailed = errors.New("failed to create container")

	ErrCopyFailed = errors.New("copy to container failed")

	ErrExecFailed = errors.New("exec failed")

	ErrResetFailed = errors.New("container reset failed")

	ErrInvalidPath = errors.New("invalid path")
)
