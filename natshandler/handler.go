package natshandler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/isdmx/warmbox/config"
	"github.com/isdmx/warmbox/dispatcher"
)

// Executor runs a single invocation
type Executor interface {
	Execute(ctx context.Context, req dispatcher.Request) dispatcher.Result
}

// ExecuteRequest is the wire form of an execution request
type ExecuteRequest struct {
	Code      string `json:"code"`
	Runtime   string `json:"runtime"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

// Handler subscribes to execution requests and replies with results
type Handler struct {
	logger   *zap.Logger
	executor Executor
	cfg      config.NATSConfig

	// respond publishes a reply; replaced in tests
	respond func(msg *nats.Msg, data []byte) error

	mu       sync.Mutex
	conn     *nats.Conn
	sub      *nats.Subscription
	stopping bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a Handler. Call Start to connect and subscribe.
func New(logger *zap.Logger, executor Executor, cfg config.NATSConfig) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		logger:   logger.With(zap.String("subject", cfg.Subject)),
		executor: executor,
		cfg:      cfg,
		respond:  (*nats.Msg).Respond,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start connects to NATS and joins the queue group on the request subject
func (h *Handler) Start() error {
	nc, err := nats.Connect(h.cfg.URL,
		nats.Name("warmbox"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			h.logger.Warn("Disconnected from NATS", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			h.logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", h.cfg.URL, err)
	}

	sub, err := nc.QueueSubscribe(h.cfg.Subject, h.cfg.Queue, h.onMessage)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", h.cfg.Subject, err)
	}

	h.mu.Lock()
	h.conn = nc
	h.sub = sub
	h.mu.Unlock()

	h.logger.Info("Listening for execution requests", zap.String("queue", h.cfg.Queue))
	return nil
}

// Stop unsubscribes, waits for in-flight executions up to ctx and closes the
// connection. Executions still running when ctx is done are cancelled.
// Requests delivered after Stop began are rejected as pool exhaustion.
func (h *Handler) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopping {
		h.mu.Unlock()
		return nil
	}
	h.stopping = true
	nc, sub := h.conn, h.sub
	h.conn, h.sub = nil, nil
	h.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			h.logger.Warn("Failed to unsubscribe", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		h.logger.Warn("Cancelling in-flight executions")
		h.cancel()
		<-done
	}

	if nc != nil {
		nc.Close()
	}
	return nil
}

// onMessage runs each request on its own goroutine so one slow function does
// not hold up the subscription; the pools bound the real concurrency.
func (h *Handler) onMessage(msg *nats.Msg) {
	h.mu.Lock()
	if h.stopping {
		h.mu.Unlock()
		h.reply(msg, encodeResult(h.logger, rejection(dispatcher.KindPoolExhausted, "server is shutting down, retry later")))
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		h.reply(msg, h.handle(h.ctx, msg.Data))
	}()
}

func (h *Handler) reply(msg *nats.Msg, data []byte) {
	if msg.Reply == "" {
		h.logger.Debug("Dropping result of request without reply subject")
		return
	}
	if err := h.respond(msg, data); err != nil {
		h.logger.Error("Failed to publish result", zap.Error(err))
	}
}

// handle decodes one request, executes it and encodes the reply. Every reply
// is a dispatcher.Result; requests that cannot be decoded never reach a
// container and come back as transport failures.
func (h *Handler) handle(ctx context.Context, data []byte) []byte {
	var req ExecuteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Warn("Failed to parse execution request", zap.Error(err))
		return encodeResult(h.logger, rejection(dispatcher.KindTransportFailure, fmt.Sprintf("invalid request: %v", err)))
	}

	if req.TimeoutMS < 0 {
		res := rejection(dispatcher.KindTransportFailure, fmt.Sprintf("timeout_ms must not be negative, got: %d", req.TimeoutMS))
		res.Runtime = req.Runtime
		return encodeResult(h.logger, res)
	}

	result := h.executor.Execute(ctx, dispatcher.Request{
		Code:    req.Code,
		Runtime: req.Runtime,
		Timeout: time.Duration(req.TimeoutMS) * time.Millisecond,
	})

	return encodeResult(h.logger, result)
}

func rejection(kind dispatcher.Kind, msg string) dispatcher.Result {
	return dispatcher.Result{
		ExecutionID: uuid.NewString(),
		Status:      dispatcher.StatusError,
		Kind:        kind,
		Stderr:      msg,
		ExitCode:    dispatcher.ExitCodeNotRun,
	}
}

func encodeResult(logger *zap.Logger, res dispatcher.Result) []byte {
	data, err := json.Marshal(res)
	if err != nil {
		logger.Error("Failed to encode result", zap.Error(err))
		return []byte(`{"status":"error","kind":"transport_failure","exit_code":-1,"stderr":"failed to encode result"}`)
	}
	return data
}
