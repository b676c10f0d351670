package dispatcher

import (
	"encoding/json"
	"time"
)

// Kind classifies the outcome of an execution
type Kind string

const (
	KindSuccess Kind = "success"
	// KindUnsupportedRuntime means no pool is registered for the runtime.
	KindUnsupportedRuntime Kind = "unsupported_runtime"
	// KindPoolExhausted means every container of the runtime was busy. Safe
	// to retry with backoff.
	KindPoolExhausted Kind = "pool_exhausted"
	// KindExecutionTimeout means the process was killed at the deadline.
	KindExecutionTimeout Kind = "execution_timeout"
	// KindExecutionFailure means the process ran and exited nonzero.
	KindExecutionFailure Kind = "execution_failure"
	// KindTransportFailure means the container runtime failed, not the code.
	KindTransportFailure Kind = "transport_failure"
)

// Status is the coarse outcome derived from Kind
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

const (
	// ExitCodeNotRun is reported when the process never ran or its exit
	// code is unknown.
	ExitCodeNotRun = -1
	// ExitCodeTimeout is reported when the process was killed at the deadline.
	ExitCodeTimeout = -2
)

// Request is a single invocation
type Request struct {
	Code    string
	Runtime string
	// Timeout bounds the process run time. Zero or negative selects the
	// default; values above the maximum are clamped.
	Timeout time.Duration
}

// Result is the outcome of Execute
type Result struct {
	ExecutionID string        `json:"execution_id"`
	Runtime     string        `json:"runtime"`
	Status      Status        `json:"status"`
	Kind        Kind          `json:"kind"`
	Stdout      string        `json:"stdout"`
	Stderr      string        `json:"stderr"`
	ExitCode    int           `json:"exit_code"`
	ContainerID string        `json:"container_id,omitempty"`
	Duration    time.Duration `json:"-"`
}

// MarshalJSON encodes Duration as whole milliseconds in duration_ms
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		DurationMS int64 `json:"duration_ms"`
	}{
		plain:      plain(r),
		DurationMS: r.Duration.Milliseconds(),
	})
}

// Success reports whether the code ran to completion with exit code 0
func (r Result) Success() bool {
	return r.Status == StatusSuccess
}
