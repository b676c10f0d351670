package sandbox

import (
	"fmt"

	"go.uber.org/zap"
)

// DefaultPodmanSocket is the rootful Podman API socket.
const DefaultPodmanSocket = "unix:///run/podman/podman.sock"

// NewPodmanRuntime creates a Runtime backed by Podman's Docker-compatible API.
// Podman accepts the same create/copy/exec/remove calls as the Docker engine,
// so the Docker runtime is reused against the Podman socket.
func NewPodmanRuntime(logger *zap.Logger, socket string, opts ...DockerRuntimeOption) (*DockerRuntime, error) {
	if socket == "" {
		socket = DefaultPodmanSocket
	}

	rt, err := NewDockerRuntime(logger.With(zap.String("engine", "podman")), socket, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to podman at %s: %w", socket, err)
	}

	return rt, nil
}
