// Package sandboxtest provides an in-memory sandbox.Runtime for tests.
package sandboxtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/isdmx/warmbox/sandbox"
)

// ExecFunc produces the result of an Exec call. files holds the container's
// current file contents keyed by absolute path.
type ExecFunc func(ctx context.Context, containerID string, cmd []string, files map[string][]byte) (sandbox.ExecOutput, error)

type fakeContainer struct {
	image string
	files map[string][]byte
}

// Runtime is an in-memory sandbox.Runtime. Set the hooks before handing it
// to the code under test, or through Configure afterwards.
type Runtime struct {
	// CreateErr, when set, is consulted with the 1-based creation attempt.
	CreateErr func(attempt int) error
	CopyErr   error
	ResetErr  error
	RemoveErr error
	ExecFn    ExecFunc

	mu         sync.Mutex
	attempts   int
	nextID     int
	containers map[string]*fakeContainer
	removed    []string
	resets     map[string]int
	execs      int
}

var _ sandbox.Runtime = (*Runtime)(nil)

// New creates a Runtime whose Exec succeeds with empty output
func New() *Runtime {
	return &Runtime{
		containers: make(map[string]*fakeContainer),
		resets:     make(map[string]int),
	}
}

func (r *Runtime) CreateContainer(ctx context.Context, image string, _ []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	r.attempts++
	attempt := r.attempts
	hook := r.CreateErr
	r.mu.Unlock()

	if hook != nil {
		if err := hook(attempt); err != nil {
			return "", fmt.Errorf("%w: %w", sandbox.ErrContainerCreateFailed, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := fmt.Sprintf("fake-%03d", r.nextID)
	r.containers[id] = &fakeContainer{image: image, files: make(map[string][]byte)}
	return id, nil
}

func (r *Runtime) CopyFile(_ context.Context, containerID, path string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CopyErr != nil {
		return r.CopyErr
	}

	c, ok := r.containers[containerID]
	if !ok {
		return fmt.Errorf("%w: %s", sandbox.ErrContainerNotFound, containerID)
	}
	c.files[path] = append([]byte(nil), data...)
	return nil
}

func (r *Runtime) Exec(ctx context.Context, containerID string, cmd []string, _ string) (sandbox.ExecOutput, error) {
	r.mu.Lock()
	c, ok := r.containers[containerID]
	var files map[string][]byte
	if ok {
		files = make(map[string][]byte, len(c.files))
		for k, v := range c.files {
			files[k] = v
		}
	}
	r.execs++
	fn := r.ExecFn
	r.mu.Unlock()

	if !ok {
		return sandbox.ExecOutput{ExitCode: -1}, fmt.Errorf("%w: %s", sandbox.ErrContainerNotFound, containerID)
	}

	if fn == nil {
		return sandbox.ExecOutput{}, nil
	}
	return fn(ctx, containerID, cmd, files)
}

func (r *Runtime) RemoveContainer(_ context.Context, containerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.RemoveErr != nil {
		return r.RemoveErr
	}

	if _, ok := r.containers[containerID]; !ok {
		return fmt.Errorf("%w: %s", sandbox.ErrContainerNotFound, containerID)
	}
	delete(r.containers, containerID)
	r.removed = append(r.removed, containerID)
	return nil
}

// Reset deletes every file below dirs
func (r *Runtime) Reset(_ context.Context, containerID string, dirs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resets[containerID]++

	if r.ResetErr != nil {
		return r.ResetErr
	}

	c, ok := r.containers[containerID]
	if !ok {
		return fmt.Errorf("%w: %s", sandbox.ErrContainerNotFound, containerID)
	}

	for path := range c.files {
		for _, dir := range dirs {
			if strings.HasPrefix(path, strings.TrimSuffix(dir, "/")+"/") {
				delete(c.files, path)
			}
		}
	}
	return nil
}

// Configure runs fn with the runtime locked so hooks can change mid-test
func (r *Runtime) Configure(fn func(r *Runtime)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

// File returns the content of path in the container
func (r *Runtime) File(containerID, path string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.containers[containerID]
	if !ok {
		return nil, false
	}
	data, ok := c.files[path]
	return data, ok
}

// Live returns the number of containers not yet removed
func (r *Runtime) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.containers)
}

// Removed returns the ids removed so far
func (r *Runtime) Removed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

// Resets returns how many times containerID was reset
func (r *Runtime) Resets(containerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets[containerID]
}

// Execs returns the number of Exec calls
func (r *Runtime) Execs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.execs
}

// Image returns the image containerID was created from
func (r *Runtime) Image(containerID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.containers[containerID]; ok {
		return c.image
	}
	return ""
}
