package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestDockerRuntime(t *testing.T, cli *fakeDockerClient, opts ...DockerRuntimeOption) *DockerRuntime {
	t.Helper()

	opts = append(opts, withDockerClient(cli), WithKillGrace(time.Second))
	d, err := NewDockerRuntime(zaptest.NewLogger(t), "", opts...)
	require.NoError(t, err)
	return d
}

func TestDockerRuntime_CreateContainer(t *testing.T) {
	t.Run("applies isolation settings", func(t *testing.T) {
		cli := newFakeDockerClient(t)
		d := newTestDockerRuntime(t, cli, WithResources(128, 0.5))

		id, err := d.CreateContainer(context.Background(), "serverless-python:latest", KeepAliveCommand)
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		require.NotNil(t, cli.lastConfig)
		assert.Equal(t, "serverless-python:latest", cli.lastConfig.Image)
		assert.Equal(t, KeepAliveCommand, []string(cli.lastConfig.Cmd))
		assert.Equal(t, "warmbox", cli.lastConfig.Labels[ManagedByLabel])

		require.NotNil(t, cli.lastHost)
		assert.Equal(t, container.NetworkMode("none"), cli.lastHost.NetworkMode)
		assert.Equal(t, int64(128*1024*1024), cli.lastHost.Memory)
		assert.Equal(t, int64(5e8), cli.lastHost.NanoCPUs)
		assert.Contains(t, cli.lastHost.SecurityOpt, "no-new-privileges:true")
	})

	t.Run("network enabled uses bridge", func(t *testing.T) {
		cli := newFakeDockerClient(t)
		d := newTestDockerRuntime(t, cli, WithNetwork(true))

		_, err := d.CreateContainer(context.Background(), "img", KeepAliveCommand)
		require.NoError(t, err)
		assert.Equal(t, container.NetworkMode("bridge"), cli.lastHost.NetworkMode)
	})

	t.Run("create failure", func(t *testing.T) {
		cli := newFakeDockerClient(t)
		cli.createErr = errors.New("no such image")
		d := newTestDockerRuntime(t, cli)

		_, err := d.CreateContainer(context.Background(), "missing", KeepAliveCommand)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrContainerCreateFailed)
		assert.Contains(t, err.Error(), "no such image")
	})

	t.Run("start failure removes container", func(t *testing.T) {
		cli := newFakeDockerClient(t)
		cli.startErr = errors.New("cannot start")
		d := newTestDockerRuntime(t, cli)

		_, err := d.CreateContainer(context.Background(), "img", KeepAliveCommand)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrContainerCreateFailed)
		assert.Len(t, cli.removed, 1)
	})
}

func TestDockerRuntime_CopyFile(t *testing.T) {
	t.Run("uploads single file archive", func(t *testing.T) {
		cli := newFakeDockerClient(t)
		d := newTestDockerRuntime(t, cli)

		err := d.CopyFile(context.Background(), "abc", "/app/function.py", []byte(`print("ok")`))
		require.NoError(t, err)

		require.Len(t, cli.copies, 1)
		assert.Equal(t, "abc", cli.copies[0].containerID)
		assert.Equal(t, "/app", cli.copies[0].dstPath)
		assert.Equal(t, "function.py", cli.copies[0].name)
		assert.Equal(t, `print("ok")`, string(cli.copies[0].data))
	})

	t.Run("relative path rejected", func(t *testing.T) {
		cli := newFakeDockerClient(t)
		d := newTestDockerRuntime(t, cli)

		err := d.CopyFile(context.Background(), "abc", "function.py", nil)
		assert.ErrorIs(t, err, ErrInvalidPath)
		assert.Empty(t, cli.copies)
	})

	t.Run("missing container", func(t *testing.T) {
		cli := newFakeDockerClient(t)
		cli.copyErr = fmt.Errorf("no such container: %w", errdefs.ErrNotFound)
		d := newTestDockerRuntime(t, cli)

		err := d.CopyFile(context.Background(), "gone", "/app/function.py", nil)
		assert.ErrorIs(t, err, ErrContainerNotFound)
	})

	t.Run("other failure", func(t *testing.T) {
		cli := newFakeDockerClient(t)
		cli.copyErr = errors.New("disk full")
		d := newTestDockerRuntime(t, cli)

		err := d.CopyFile(context.Background(), "abc", "/app/function.py", nil)
		assert.ErrorIs(t, err, ErrCopyFailed)
	})
}

func TestDockerRuntime_Exec(t *testing.T) {
	t.Run("demultiplexes output", func(t *testing.T) {
		cli := newFakeDockerClient(t)
		cli.execFn = func([]string) fakeExec {
			return fakeExec{stdout: "ok\n", stderr: "warning\n"}
		}
		d := newTestDockerRuntime(t, cli)

		out, err := d.Exec(context.Background(), "abc", []string{"python", "function.py"}, "/app")
		require.NoError(t, err)
		assert.Equal(t, "ok\n", out.Stdout)
		assert.Equal(t, "warning\n", out.Stderr)
		assert.Equal(t, 0, out.ExitCode)
		assert.Equal(t, [][]string{{"python", "function.py"}}, cli.commands())
	})

	t.Run("nonzero exit is not an error", func(t *testing.T) {
		cli := newFakeDockerClient(t)
		cli.execFn = func([]string) fakeExec {
			return fakeExec{exitCode: 3}
		}
		d := newTestDockerRuntime(t, cli)

		out, err := d.Exec(context.Background(), "abc", []string{"python", "function.py"}, "/app")
		require.NoError(t, err)
		assert.Equal(t, 3, out.ExitCode)
		assert.Empty(t, out.Stderr)
	})

	t.Run("missing container", func(t *testing.T) {
		cli := newFakeDockerClient(t)
		cli.execFn = func([]string) fakeExec {
			return fakeExec{createErr: fmt.Errorf("container gone: %w", errdefs.ErrNotFound)}
		}
		d := newTestDockerRuntime(t, cli)

		out, err := d.Exec(context.Background(), "gone", []string{"true"}, "/")
		assert.ErrorIs(t, err, ErrContainerNotFound)
		assert.Equal(t, -1, out.ExitCode)
	})

	t.Run("deadline kills processes", func(t *testing.T) {
		cli := newFakeDockerClient(t)
		cli.execFn = func(cmd []string) fakeExec {
			if strings.Join(cmd, " ") == strings.Join(killCommand, " ") {
				return fakeExec{}
			}
			return fakeExec{block: true}
		}
		d := newTestDockerRuntime(t, cli)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		out, err := d.Exec(ctx, "abc", []string{"python", "function.py"}, "/app")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, -1, out.ExitCode)
		assert.Less(t, time.Since(start), 5*time.Second)

		cmds := cli.commands()
		require.Len(t, cmds, 2)
		assert.Equal(t, killCommand, cmds[1])
	})
}

func TestDockerRuntime_RemoveContainer(t *testing.T) {
	cli := newFakeDockerClient(t)
	d := newTestDockerRuntime(t, cli)

	require.NoError(t, d.RemoveContainer(context.Background(), "abc"))
	assert.Equal(t, []string{"abc"}, cli.removed)

	cli.removeErr = fmt.Errorf("no such container: %w", errdefs.ErrNotFound)
	err := d.RemoveContainer(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestDockerRuntime_Reset(t *testing.T) {
	t.Run("runs reset script", func(t *testing.T) {
		cli := newFakeDockerClient(t)
		d := newTestDockerRuntime(t, cli)

		require.NoError(t, d.Reset(context.Background(), "abc", []string{"/app", ScratchDir}))

		cmds := cli.commands()
		require.Len(t, cmds, 1)
		assert.Equal(t, resetCommand([]string{"/app", ScratchDir}), cmds[0])
	})

	t.Run("nonzero exit fails", func(t *testing.T) {
		cli := newFakeDockerClient(t)
		cli.execFn = func([]string) fakeExec {
			return fakeExec{exitCode: 1, stderr: "rm: read-only file system\n"}
		}
		d := newTestDockerRuntime(t, cli)

		err := d.Reset(context.Background(), "abc", []string{"/app"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrResetFailed)
		assert.Contains(t, err.Error(), "read-only file system")
	})
}

func TestResetCommand(t *testing.T) {
	cmd := resetCommand([]string{"/app", "/tmp"})

	require.Len(t, cmd, 3)
	assert.Equal(t, "sh", cmd[0])
	assert.Equal(t, "-c", cmd[1])
	assert.True(t, strings.HasPrefix(cmd[2], "kill -9 -1 2>/dev/null; "))
	assert.Contains(t, cmd[2], "rm -rf '/app'/* '/app'/.[!.]* '/app'/..?*")
	assert.Contains(t, cmd[2], "'/tmp'/*")
	assert.True(t, strings.HasSuffix(cmd[2], "&& mkdir -p '/app' '/tmp'"))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'/app'", shellQuote("/app"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef"))
	assert.Equal(t, "short", shortID("short"))
}
