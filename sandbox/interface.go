package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"slices"
	"time"

	"github.com/isdmx/warmbox/config"
)

// Runtime is the container runtime interface consumed by the warm pools and
// the dispatcher. Implementations must be safe for concurrent use.
type Runtime interface {
	// CreateContainer creates and starts a long-lived container from image
	// running cmd, and returns its engine-assigned ID.
	CreateContainer(ctx context.Context, image string, cmd []string) (string, error)

	// CopyFile writes data to the absolute path inside the container,
	// replacing any previous content.
	CopyFile(ctx context.Context, containerID, path string, data []byte) error

	// Exec runs cmd inside the container in workdir and captures stdout and
	// stderr separately. When ctx is done before the process exits, the
	// process is killed and the partial output is returned with ctx.Err().
	Exec(ctx context.Context, containerID string, cmd []string, workdir string) (ExecOutput, error)

	// RemoveContainer force-removes the container.
	RemoveContainer(ctx context.Context, containerID string) error

	// Reset kills every process left behind in the container and empties
	// dirs, so the next invocation starts from a clean filesystem.
	Reset(ctx context.Context, containerID string, dirs []string) error
}

// ExecOutput is the demultiplexed output of a process run by Exec
type ExecOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runtime name constants
const (
	RuntimePython     = "python"
	RuntimeJavaScript = "javascript"
)

// File permission constants
const (
	DirPermission  = 0755
	FilePermission = 0644
)

// ScratchDir is wiped together with the entry workdir on every reset.
const ScratchDir = "/tmp"

// KeepAliveCommand keeps pooled containers running between invocations.
var KeepAliveCommand = []string{"tail", "-f", "/dev/null"}

// Entry describes where code is injected and how it is invoked for a runtime
type Entry struct {
	EntryFile string
	Command   []string
	Workdir   string
}

// Path returns the absolute in-container path of the entry file
func (e Entry) Path() string {
	return path.Join(e.Workdir, e.EntryFile)
}

// ResetDirs returns the directories emptied between invocations
func (e Entry) ResetDirs() []string {
	return []string{e.Workdir, ScratchDir}
}

// DefaultEntry returns the entry convention for a supported runtime
func DefaultEntry(runtime string) (Entry, error) {
	rt, ok := config.DefaultRuntimes[runtime]
	if !ok {
		return Entry{}, fmt.Errorf("unsupported runtime: %s", runtime)
	}
	return Entry{
		EntryFile: rt.EntryFile,
		Command:   slices.Clone(rt.Command),
		Workdir:   rt.Workdir,
	}, nil
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, dir string, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct {
	// WaitDelay bounds how long output pipes are drained after the process
	// is killed on context cancellation.
	WaitDelay time.Duration
}

// RunCommand executes the given command with arguments in dir
func (r RealCommandRunner) RunCommand(ctx context.Context, dir string, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Running user code is the point of this backend
	cmd.Dir = dir
	cmd.WaitDelay = r.WaitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			return stdoutBuf.String(), stderrBuf.String(), -1, err
		}
		exitCode = exitError.ExitCode()
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}
