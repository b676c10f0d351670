package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// ManagedByLabel marks containers created by this service.
const ManagedByLabel = "managed_by"

const managedByValue = "warmbox"

// killCommand stops every process in the container except PID 1.
var killCommand = []string{"sh", "-c", "kill -9 -1 2>/dev/null; true"}

// DockerRuntime implements Runtime using the Docker engine API
type DockerRuntime struct {
	cli            dockerClient
	logger         *zap.Logger
	memoryMB       int
	cpus           float64
	networkEnabled bool
	killGrace      time.Duration
}

// DockerRuntimeOption defines a functional option for DockerRuntime
type DockerRuntimeOption func(*DockerRuntime)

// WithResources sets the memory and CPU limits applied to created containers
func WithResources(memoryMB int, cpus float64) DockerRuntimeOption {
	return func(d *DockerRuntime) {
		d.memoryMB = memoryMB
		d.cpus = cpus
	}
}

// WithNetwork enables the default bridge network for created containers
func WithNetwork(enabled bool) DockerRuntimeOption {
	return func(d *DockerRuntime) {
		d.networkEnabled = enabled
	}
}

// WithKillGrace bounds how long killing a timed-out process may take
func WithKillGrace(grace time.Duration) DockerRuntimeOption {
	return func(d *DockerRuntime) {
		d.killGrace = grace
	}
}

func withDockerClient(cli dockerClient) DockerRuntimeOption {
	return func(d *DockerRuntime) {
		d.cli = cli
	}
}

// NewDockerRuntime creates a DockerRuntime talking to host, or to the
// environment-configured daemon when host is empty.
func NewDockerRuntime(logger *zap.Logger, host string, opts ...DockerRuntimeOption) (*DockerRuntime, error) {
	d := &DockerRuntime{
		logger:    logger,
		memoryMB:  256,
		cpus:      1,
		killGrace: 2 * time.Second,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.cli == nil {
		clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if host != "" {
			clientOpts = append(clientOpts, client.WithHost(host))
		}

		cli, err := client.NewClientWithOpts(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Docker client: %w", err)
		}
		d.cli = cli
	}

	return d, nil
}

// CreateContainer creates and starts a container kept alive by cmd
func (d *DockerRuntime) CreateContainer(ctx context.Context, image string, cmd []string) (string, error) {
	networkMode := container.NetworkMode("none")
	if d.networkEnabled {
		networkMode = "bridge"
	}

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:   int64(d.memoryMB) * 1024 * 1024,
			NanoCPUs: int64(d.cpus * 1e9),
		},
		NetworkMode: networkMode,
		SecurityOpt: []string{"no-new-privileges:true"},
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:  image,
		Cmd:    cmd,
		Labels: map[string]string{ManagedByLabel: managedByValue},
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("%w: image %s: %w", ErrContainerCreateFailed, image, err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if rmErr := d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			d.logger.Warn("failed to remove container that did not start",
				zap.String("container", shortID(resp.ID)), zap.Error(rmErr))
		}
		return "", fmt.Errorf("%w: start %s: %w", ErrContainerCreateFailed, shortID(resp.ID), err)
	}

	d.logger.Debug("container started", zap.String("container", shortID(resp.ID)), zap.String("image", image))
	return resp.ID, nil
}

// CopyFile uploads data as a single file at the absolute path p
func (d *DockerRuntime) CopyFile(ctx context.Context, containerID, p string, data []byte) error {
	if !path.IsAbs(p) {
		return fmt.Errorf("%w: %s is not absolute", ErrInvalidPath, p)
	}

	clean := path.Clean(p)
	archive, err := singleFileArchive(path.Base(clean), data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopyFailed, err)
	}

	err = d.cli.CopyToContainer(ctx, containerID, path.Dir(clean), archive, container.CopyToContainerOptions{
		AllowOverwriteDirWithFile: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, shortID(containerID))
		}
		return fmt.Errorf("%w: %w", ErrCopyFailed, err)
	}

	return nil
}

// Exec runs cmd in the container, demultiplexing stdout and stderr
func (d *DockerRuntime) Exec(ctx context.Context, containerID string, cmd []string, workdir string) (ExecOutput, error) {
	created, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ExecOutput{ExitCode: -1}, fmt.Errorf("%w: %s", ErrContainerNotFound, shortID(containerID))
		}
		return ExecOutput{ExitCode: -1}, fmt.Errorf("%w: create exec: %w", ErrExecFailed, err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecOutput{ExitCode: -1}, fmt.Errorf("%w: attach exec: %w", ErrExecFailed, err)
	}
	defer attach.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attach.Reader)
		done <- copyErr
	}()

	select {
	case copyErr := <-done:
		if copyErr != nil {
			return ExecOutput{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String(), ExitCode: -1},
				fmt.Errorf("%w: read output: %w", ErrExecFailed, copyErr)
		}
	case <-ctx.Done():
		d.killProcesses(containerID)
		attach.Close()
		<-done
		return ExecOutput{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String(), ExitCode: -1}, ctx.Err()
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecOutput{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String(), ExitCode: -1},
			fmt.Errorf("%w: inspect exec: %w", ErrExecFailed, err)
	}

	return ExecOutput{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// killProcesses runs on its own context: the caller's context is already done.
func (d *DockerRuntime) killProcesses(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.killGrace)
	defer cancel()

	if _, err := d.Exec(ctx, containerID, killCommand, "/"); err != nil {
		d.logger.Warn("failed to kill processes after deadline",
			zap.String("container", shortID(containerID)), zap.Error(err))
	}
}

// RemoveContainer force-removes the container
func (d *DockerRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, shortID(containerID))
		}
		return fmt.Errorf("failed to remove container %s: %w", shortID(containerID), err)
	}

	d.logger.Debug("container removed", zap.String("container", shortID(containerID)))
	return nil
}

// Reset kills leftover processes and empties dirs inside the container
func (d *DockerRuntime) Reset(ctx context.Context, containerID string, dirs []string) error {
	out, err := d.Exec(ctx, containerID, resetCommand(dirs), "/")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResetFailed, err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("%w: exit code %d: %s", ErrResetFailed, out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return nil
}

// Close releases the underlying Docker client
func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}

// resetCommand builds the shell script used by Reset. Hidden files are matched
// by the two extra globs; unmatched globs are left literal and ignored by rm -f.
func resetCommand(dirs []string) []string {
	var script strings.Builder
	script.WriteString("kill -9 -1 2>/dev/null; ")

	var targets, recreate []string
	for _, dir := range dirs {
		q := shellQuote(dir)
		targets = append(targets, q+"/*", q+"/.[!.]*", q+"/..?*")
		recreate = append(recreate, q)
	}

	script.WriteString("rm -rf " + strings.Join(targets, " "))
	script.WriteString(" && mkdir -p " + strings.Join(recreate, " "))

	return []string{"sh", "-c", script.String()}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
