package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/warmbox/metrics"
	"github.com/isdmx/warmbox/pool"
	"github.com/isdmx/warmbox/sandbox"
)

// Pools resolves the pool serving a runtime
type Pools interface {
	Get(runtime string) (*pool.Pool, error)
}

// Dispatcher executes code in pooled containers
type Dispatcher struct {
	logger         *zap.Logger
	pools          Pools
	rt             sandbox.Runtime
	metrics        *metrics.Metrics
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	resetTimeout   time.Duration
}

// Option defines a functional option for Dispatcher
type Option func(*Dispatcher)

// WithTimeouts sets the timeout used when a request has none and the upper
// bound applied to every request.
func WithTimeouts(defaultTimeout, maxTimeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.defaultTimeout = defaultTimeout
		d.maxTimeout = maxTimeout
	}
}

// WithResetTimeout bounds the container reset performed on release
func WithResetTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.resetTimeout = timeout
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// New creates a Dispatcher
func New(logger *zap.Logger, pools Pools, rt sandbox.Runtime, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:         logger,
		pools:          pools,
		rt:             rt,
		defaultTimeout: 10 * time.Second,
		maxTimeout:     60 * time.Second,
		resetTimeout:   10 * time.Second,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// outcome is what happened before the Result is assembled
type outcome struct {
	kind       Kind
	output     sandbox.ExecOutput
	diagnostic string
}

// Execute runs req.Code once and always returns a well-formed Result
func (d *Dispatcher) Execute(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	res = Result{
		ExecutionID: uuid.NewString(),
		Runtime:     req.Runtime,
	}

	logger := d.logger.With(
		zap.String("execution_id", res.ExecutionID),
		zap.String("runtime", req.Runtime),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Execution panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = buildResult(res, outcome{
				kind:       KindTransportFailure,
				output:     sandbox.ExecOutput{ExitCode: ExitCodeNotRun},
				diagnostic: fmt.Sprintf("internal error: %v", r),
			})
		}

		res.Duration = time.Since(start)
		d.metrics.ObserveExecution(runtimeLabel(res), string(res.Kind), res.Duration)

		logger.Info("Execution finished",
			zap.String("kind", string(res.Kind)),
			zap.Int("exit_code", res.ExitCode),
			zap.String("container", res.ContainerID),
			zap.Duration("duration", res.Duration))
	}()

	o := d.run(ctx, req, &res, logger)
	return buildResult(res, o)
}

// run performs the acquisition and invocation. The container is released
// before run returns, on every path.
func (d *Dispatcher) run(ctx context.Context, req Request, res *Result, logger *zap.Logger) outcome {
	p, err := d.pools.Get(req.Runtime)
	if err != nil {
		return outcome{
			kind:       KindUnsupportedRuntime,
			output:     sandbox.ExecOutput{ExitCode: ExitCodeNotRun},
			diagnostic: fmt.Sprintf("unsupported runtime: %q", req.Runtime),
		}
	}

	id, err := p.Acquire(ctx)
	if err != nil {
		return outcome{
			kind:       KindPoolExhausted,
			output:     sandbox.ExecOutput{ExitCode: ExitCodeNotRun},
			diagnostic: fmt.Sprintf("no %s container available, retry later: %v", req.Runtime, err),
		}
	}
	res.ContainerID = id
	defer d.release(p, id)

	entry := p.Entry()
	if err := d.rt.CopyFile(ctx, id, entry.Path(), []byte(req.Code)); err != nil {
		logger.Error("Failed to inject code", zap.String("container", id), zap.Error(err))
		return outcome{
			kind:       KindTransportFailure,
			output:     sandbox.ExecOutput{ExitCode: ExitCodeNotRun},
			diagnostic: fmt.Sprintf("failed to inject code: %v", err),
		}
	}

	timeout := d.effectiveTimeout(req.Timeout)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := d.rt.Exec(execCtx, id, entry.Command, entry.Workdir)
	switch {
	case err == nil && out.ExitCode == 0:
		return outcome{kind: KindSuccess, output: out}
	case err == nil:
		return outcome{kind: KindExecutionFailure, output: out}
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return outcome{
			kind:       KindExecutionTimeout,
			output:     out,
			diagnostic: fmt.Sprintf("execution timed out after %s", timeout),
		}
	default:
		logger.Error("Failed to execute code", zap.String("container", id), zap.Error(err))
		return outcome{
			kind:       KindTransportFailure,
			output:     out,
			diagnostic: fmt.Sprintf("failed to execute code: %v", err),
		}
	}
}

// release runs on its own context so a cancelled or expired request still
// gets its container reset and returned.
func (d *Dispatcher) release(p *pool.Pool, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.resetTimeout)
	defer cancel()

	p.Release(ctx, id)
}

// UnsupportedRuntimeLabel replaces the caller-supplied runtime in metric labels
// when no pool serves it, so unknown names cannot grow the series set.
const UnsupportedRuntimeLabel = "unsupported"

func runtimeLabel(res Result) string {
	if res.Kind == KindUnsupportedRuntime {
		return UnsupportedRuntimeLabel
	}
	return res.Runtime
}

func (d *Dispatcher) effectiveTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		return d.defaultTimeout
	}
	if d.maxTimeout > 0 && requested > d.maxTimeout {
		return d.maxTimeout
	}
	return requested
}

func buildResult(res Result, o outcome) Result {
	res.Kind = o.kind
	res.Stdout = o.output.Stdout

	switch o.kind {
	case KindSuccess:
		res.Status = StatusSuccess
		res.Stderr = o.output.Stderr
		res.ExitCode = 0
	case KindExecutionFailure:
		res.Status = StatusError
		res.Stderr = o.output.Stderr
		res.ExitCode = o.output.ExitCode
	case KindExecutionTimeout:
		res.Status = StatusError
		res.Stderr = appendDiagnostic(o.output.Stderr, o.diagnostic)
		res.ExitCode = ExitCodeTimeout
	case KindUnsupportedRuntime, KindPoolExhausted, KindTransportFailure:
		res.Status = StatusError
		res.Stderr = appendDiagnostic(o.output.Stderr, o.diagnostic)
		res.ExitCode = ExitCodeNotRun
	default:
		res.Kind = KindTransportFailure
		res.Status = StatusError
		res.Stderr = appendDiagnostic(o.output.Stderr, fmt.Sprintf("unknown outcome %q", o.kind))
		res.ExitCode = ExitCodeNotRun
	}

	return res
}

func appendDiagnostic(stderr, diagnostic string) string {
	if stderr == "" {
		return diagnostic
	}
	if !strings.HasSuffix(stderr, "\n") {
		stderr += "\n"
	}
	return stderr + diagnostic
}
