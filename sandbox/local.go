package sandbox

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// LocalRuntime implements Runtime on the host (for development only). Each
// "container" is a private directory; absolute container paths are mapped
// below it and commands run as host processes with no isolation.
type LocalRuntime struct {
	logger    *zap.Logger
	root      string
	ownsRoot  bool
	cmdRunner CommandRunner
	fs        FileSystem

	mu         sync.Mutex
	containers map[string]string // id -> host directory
}

// LocalRuntimeOption defines a functional option for LocalRuntime
type LocalRuntimeOption func(*LocalRuntime)

// WithLocalCommandRunner sets the CommandRunner for LocalRuntime
func WithLocalCommandRunner(cmdRunner CommandRunner) LocalRuntimeOption {
	return func(l *LocalRuntime) {
		l.cmdRunner = cmdRunner
	}
}

// WithLocalFileSystem sets the FileSystem for LocalRuntime
func WithLocalFileSystem(fs FileSystem) LocalRuntimeOption {
	return func(l *LocalRuntime) {
		l.fs = fs
	}
}

// NewLocalRuntime creates a LocalRuntime rooted at root, or at a fresh
// temporary directory when root is empty.
func NewLocalRuntime(logger *zap.Logger, root string, opts ...LocalRuntimeOption) (*LocalRuntime, error) {
	l := &LocalRuntime{
		logger:     logger,
		root:       root,
		cmdRunner:  RealCommandRunner{},
		fs:         RealFileSystem{},
		containers: make(map[string]string),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.root == "" {
		dir, err := l.fs.MkdirTemp("", "warmbox-local-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create local runtime root: %w", err)
		}
		l.root = dir
		l.ownsRoot = true
	}

	logger.Warn("local backend runs user code directly on the host, use for development only",
		zap.String("root", l.root))

	return l, nil
}

// CreateContainer allocates a private directory; image and cmd are ignored
func (l *LocalRuntime) CreateContainer(_ context.Context, image string, _ []string) (string, error) {
	dir, err := l.fs.MkdirTemp(l.root, "ctr-*")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrContainerCreateFailed, err)
	}

	id := filepath.Base(dir)

	l.mu.Lock()
	l.containers[id] = dir
	l.mu.Unlock()

	l.logger.Debug("local container created", zap.String("container", id), zap.String("image", image))
	return id, nil
}

// CopyFile writes data to the mapped path
func (l *LocalRuntime) CopyFile(_ context.Context, containerID, p string, data []byte) error {
	hostPath, err := l.resolve(containerID, p)
	if err != nil {
		return err
	}

	if err := l.fs.MkdirAll(filepath.Dir(hostPath), DirPermission); err != nil {
		return fmt.Errorf("%w: %w", ErrCopyFailed, err)
	}

	if err := l.fs.WriteFile(hostPath, data, FilePermission); err != nil {
		return fmt.Errorf("%w: %w", ErrCopyFailed, err)
	}

	return nil
}

// Exec runs cmd as a host process in the mapped workdir
func (l *LocalRuntime) Exec(ctx context.Context, containerID string, cmd []string, workdir string) (ExecOutput, error) {
	dir, err := l.resolve(containerID, workdir)
	if err != nil {
		return ExecOutput{ExitCode: -1}, err
	}

	if err := l.fs.MkdirAll(dir, DirPermission); err != nil {
		return ExecOutput{ExitCode: -1}, fmt.Errorf("%w: %w", ErrExecFailed, err)
	}

	stdout, stderr, exitCode, err := l.cmdRunner.RunCommand(ctx, dir, cmd)
	out := ExecOutput{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}

	if ctxErr := ctx.Err(); ctxErr != nil {
		out.ExitCode = -1
		return out, ctxErr
	}

	if err != nil {
		out.ExitCode = -1
		return out, fmt.Errorf("%w: %w", ErrExecFailed, err)
	}

	return out, nil
}

// RemoveContainer deletes the container directory
func (l *LocalRuntime) RemoveContainer(_ context.Context, containerID string) error {
	l.mu.Lock()
	dir, ok := l.containers[containerID]
	delete(l.containers, containerID)
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
	}

	if err := l.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}

	return nil
}

// Reset empties the mapped dirs. Processes are already gone: every Exec waits
// for its process, and cancellation kills it.
func (l *LocalRuntime) Reset(_ context.Context, containerID string, dirs []string) error {
	for _, d := range dirs {
		hostPath, err := l.resolve(containerID, d)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrResetFailed, err)
		}

		if err := l.fs.RemoveAll(hostPath); err != nil {
			return fmt.Errorf("%w: %w", ErrResetFailed, err)
		}

		if err := l.fs.MkdirAll(hostPath, DirPermission); err != nil {
			return fmt.Errorf("%w: %w", ErrResetFailed, err)
		}
	}

	return nil
}

// Close removes the runtime root when it was created by NewLocalRuntime
func (l *LocalRuntime) Close() error {
	if !l.ownsRoot {
		return nil
	}
	return l.fs.RemoveAll(l.root)
}

// resolve maps an absolute container path into the container's directory,
// rejecting paths that escape it.
func (l *LocalRuntime) resolve(containerID, p string) (string, error) {
	l.mu.Lock()
	dir, ok := l.containers[containerID]
	l.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
	}

	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %s is not absolute", ErrInvalidPath, p)
	}

	target := filepath.Join(dir, filepath.FromSlash(path.Clean(p)))
	if target != dir && !strings.HasPrefix(target, dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: path escapes container: %s", ErrInvalidPath, p)
	}

	return target, nil
}
