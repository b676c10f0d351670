// Package sandbox provides the container runtime used by the warm pools.
//
// The sandbox package defines the Runtime interface (create, copy, exec,
// remove and reset of long-lived containers) and implements it for several
// backends: Docker through the engine API, Podman through its
// Docker-compatible socket, and a local host-process backend for
// development. It also holds the per-runtime entry conventions that decide
// where user code is written and how it is invoked.
//
// Exec demultiplexes stdout and stderr and honours context cancellation by
// killing the in-container process, which is how execution timeouts are
// enforced.
//
// Usage:
//
//	rt, err := sandbox.NewRuntime(logger, cfg)
//	id, err := rt.CreateContainer(ctx, "serverless-python:latest", sandbox.KeepAliveCommand)
//	err = rt.CopyFile(ctx, id, "/app/function.py", []byte("print('hi')"))
//	out, err := rt.Exec(ctx, id, []string{"python", "function.py"}, "/app")
package sandbox
