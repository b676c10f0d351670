package sandbox

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeExec describes how one exec behaves in fakeDockerClient
type fakeExec struct {
	stdout    string
	stderr    string
	exitCode  int
	block     bool
	createErr error
}

type fakeCopy struct {
	containerID string
	dstPath     string
	name        string
	data        []byte
}

// fakeDockerClient implements dockerClient for testing
type fakeDockerClient struct {
	t *testing.T

	mu         sync.Mutex
	nextID     int
	createErr  error
	startErr   error
	removeErr  error
	copyErr    error
	lastConfig *container.Config
	lastHost   *container.HostConfig
	removed    []string
	copies     []fakeCopy
	execCmds   [][]string
	execs      map[string]fakeExec
	execFn     func(cmd []string) fakeExec
}

var _ dockerClient = (*fakeDockerClient)(nil)

func newFakeDockerClient(t *testing.T) *fakeDockerClient {
	return &fakeDockerClient{
		t:     t,
		execs: make(map[string]fakeExec),
		execFn: func([]string) fakeExec {
			return fakeExec{}
		},
	}
}

func (f *fakeDockerClient) Close() error { return nil }

func (f *fakeDockerClient) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *specs.Platform, _ string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}

	f.nextID++
	f.lastConfig = config
	f.lastHost = hostConfig
	return container.CreateResponse{ID: fmt.Sprintf("container-%02d-0123456789abcdef", f.nextID)}, nil
}

func (f *fakeDockerClient) ContainerStart(context.Context, string, container.StartOptions) error {
	return f.startErr
}

func (f *fakeDockerClient) ContainerRemove(_ context.Context, containerID string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, containerID)
	return nil
}

func (f *fakeDockerClient) CopyToContainer(_ context.Context, containerID, dstPath string, content io.Reader, _ container.CopyToContainerOptions) error {
	if f.copyErr != nil {
		return f.copyErr
	}

	tr := tar.NewReader(content)
	header, err := tr.Next()
	if err != nil {
		return err
	}
	data, err := io.ReadAll(tr)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.copies = append(f.copies, fakeCopy{containerID: containerID, dstPath: dstPath, name: header.Name, data: data})
	f.mu.Unlock()
	return nil
}

func (f *fakeDockerClient) ContainerExecCreate(_ context.Context, _ string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	behaviour := f.execFn(options.Cmd)
	if behaviour.createErr != nil {
		return container.ExecCreateResponse{}, behaviour.createErr
	}

	f.nextID++
	id := fmt.Sprintf("exec-%d", f.nextID)
	f.execs[id] = behaviour
	f.execCmds = append(f.execCmds, options.Cmd)
	return container.ExecCreateResponse{ID: id}, nil
}

func (f *fakeDockerClient) ContainerExecAttach(_ context.Context, execID string, _ container.ExecAttachOptions) (types.HijackedResponse, error) {
	f.mu.Lock()
	behaviour := f.execs[execID]
	f.mu.Unlock()

	server, conn := net.Pipe()
	f.t.Cleanup(func() { _ = server.Close() })

	if behaviour.block {
		// Reads block until the runtime closes the connection.
		return types.HijackedResponse{Conn: conn, Reader: bufio.NewReader(conn)}, nil
	}

	var buf bytes.Buffer
	if behaviour.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(behaviour.stdout))
	}
	if behaviour.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(behaviour.stderr))
	}

	return types.HijackedResponse{Conn: conn, Reader: bufio.NewReader(&buf)}, nil
}

func (f *fakeDockerClient) ContainerExecInspect(_ context.Context, execID string) (container.ExecInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return container.ExecInspect{ExecID: execID, ExitCode: f.execs[execID].exitCode}, nil
}

func (f *fakeDockerClient) commands() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([][]string(nil), f.execCmds...)
}
