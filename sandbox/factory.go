package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/warmbox/config"
)

// NewRuntime creates the container runtime selected by sandbox.backend
func NewRuntime(logger *zap.Logger, cfg *config.Config) (Runtime, error) {
	opts := []DockerRuntimeOption{
		WithResources(cfg.Sandbox.MemoryMB, cfg.Sandbox.CPUs),
		WithNetwork(cfg.Sandbox.NetworkEnabled),
		WithKillGrace(cfg.Execution.KillGrace),
	}

	switch cfg.Sandbox.Backend {
	case "docker":
		return NewDockerRuntime(logger, cfg.Sandbox.DockerHost, opts...)
	case "podman":
		return NewPodmanRuntime(logger, cfg.Sandbox.PodmanSocket, opts...)
	case "local":
		if !cfg.Sandbox.EnableLocalBackend {
			return nil, fmt.Errorf("local backend is disabled, set sandbox.enable_local_backend to use it")
		}
		return NewLocalRuntime(logger, "", WithLocalCommandRunner(RealCommandRunner{WaitDelay: cfg.Execution.KillGrace}))
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
}
