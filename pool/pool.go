package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	concpool "github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/isdmx/warmbox/metrics"
	"github.com/isdmx/warmbox/sandbox"
)

// removeTimeout bounds a single container removal that runs after the
// caller's context may already be done.
const removeTimeout = 10 * time.Second

// State is the lifecycle state of a pooled container
type State int

const (
	StateCreated State = iota
	StateAvailable
	StateAcquired
	// StateReleasing covers the reset between Release and the container
	// re-entering the available queue. The container still counts as in use.
	StateReleasing
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAvailable:
		return "available"
	case StateAcquired:
		return "acquired"
	case StateReleasing:
		return "releasing"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Container is a snapshot of a pooled container
type Container struct {
	ID         string
	Runtime    string
	State      State
	AcquiredAt time.Time
}

// Stats is a snapshot of pool occupancy
type Stats struct {
	Runtime       string `json:"runtime"`
	TargetSize    int    `json:"target_size"`
	EffectiveSize int    `json:"effective_size"`
	Available     int    `json:"available"`
	InUse         int    `json:"in_use"`
	Closed        bool   `json:"closed"`
}

// Settings identifies what a pool runs
type Settings struct {
	Runtime string
	Image   string
	Entry   sandbox.Entry
}

type container struct {
	id         string
	state      State
	acquiredAt time.Time
}

// Pool is a fixed-size set of warm containers for one runtime
type Pool struct {
	logger            *zap.Logger
	rt                sandbox.Runtime
	settings          Settings
	metrics           *metrics.Metrics
	acquireWait       time.Duration
	createConcurrency int

	mu          sync.Mutex
	initialized bool
	closed      bool
	targetSize  int
	containers  map[string]*container
	available   []string
	inUse       map[string]time.Time
	// released is closed and replaced whenever a container becomes available
	// or the pool closes, waking bounded Acquire waits.
	released chan struct{}
	// drained is closed when the last holder releases after Cleanup started.
	drained chan struct{}
}

// Option defines a functional option for Pool
type Option func(*Pool)

// WithAcquireWait makes Acquire wait up to d for a release before failing
// with ErrPoolExhausted. Zero keeps the immediate rejection.
func WithAcquireWait(d time.Duration) Option {
	return func(p *Pool) {
		p.acquireWait = d
	}
}

// WithCreateConcurrency limits concurrent container creation in Initialize
func WithCreateConcurrency(n int) Option {
	return func(p *Pool) {
		p.createConcurrency = n
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// New creates an empty pool. Call Initialize to create its containers.
func New(logger *zap.Logger, rt sandbox.Runtime, settings Settings, opts ...Option) *Pool {
	p := &Pool{
		logger:            logger.With(zap.String("runtime", settings.Runtime)),
		rt:                rt,
		settings:          settings,
		createConcurrency: 1,
		containers:        make(map[string]*container),
		inUse:             make(map[string]time.Time),
		released:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.createConcurrency < 1 {
		p.createConcurrency = 1
	}

	return p
}

// Runtime returns the runtime name served by the pool
func (p *Pool) Runtime() string {
	return p.settings.Runtime
}

// Entry returns where code is injected and how it is invoked
func (p *Pool) Entry() sandbox.Entry {
	return p.settings.Entry
}

// Initialize creates size containers. A failed creation does not stop the
// others; when some fail the pool keeps the containers it got and the error
// wraps ErrPoolDegraded with every creation failure.
func (p *Pool) Initialize(ctx context.Context, size int) error {
	if size <= 0 {
		return fmt.Errorf("pool size must be positive, got: %d", size)
	}

	p.mu.Lock()
	if p.initialized {
		p.mu.Unlock()
		return ErrAlreadyInitialized
	}
	p.initialized = true
	p.closed = false
	p.targetSize = size
	p.mu.Unlock()

	p.logger.Info("Initializing pool", zap.Int("size", size), zap.String("image", p.settings.Image))

	workers := concpool.New().WithErrors().WithMaxGoroutines(p.createConcurrency)
	for range size {
		workers.Go(func() error {
			return p.createContainer(ctx)
		})
	}
	err := workers.Wait()

	stats := p.Stats()
	if err != nil {
		p.logger.Warn("Pool degraded",
			zap.Int("target_size", size),
			zap.Int("effective_size", stats.EffectiveSize),
			zap.Error(err))
		return fmt.Errorf("%w: %s: created %d of %d containers: %w",
			ErrPoolDegraded, p.settings.Runtime, stats.EffectiveSize, size, err)
	}

	p.logger.Info("Pool initialized", zap.Int("available", stats.Available))
	return nil
}

func (p *Pool) createContainer(ctx context.Context) error {
	id, err := p.rt.CreateContainer(ctx, p.settings.Image, sandbox.KeepAliveCommand)
	if err != nil {
		p.metrics.ContainerCreateFailed(p.settings.Runtime)
		return err
	}

	c := &container{id: id, state: StateCreated}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.remove(ctx, id)
		return fmt.Errorf("%w: container %s created after cleanup", ErrPoolClosed, id)
	}
	p.containers[id] = c
	c.state = StateAvailable
	p.available = append(p.available, id)
	p.notifyLocked()
	p.observeLocked()
	p.mu.Unlock()

	return nil
}

// Acquire hands out the oldest available container. It returns
// ErrPoolExhausted when none is available (after the configured wait, if
// any) and ErrPoolClosed once Cleanup has started.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	var deadline <-chan time.Time
	if p.acquireWait > 0 {
		timer := time.NewTimer(p.acquireWait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.metrics.AcquireRejected(p.settings.Runtime, "closed")
			return "", ErrPoolClosed
		}

		if len(p.available) > 0 {
			id := p.available[0]
			p.available = p.available[1:]

			now := time.Now()
			p.inUse[id] = now
			c := p.containers[id]
			c.state = StateAcquired
			c.acquiredAt = now

			p.observeLocked()
			p.mu.Unlock()

			p.logger.Debug("Container acquired", zap.String("container", id))
			return id, nil
		}

		wait := p.released
		p.mu.Unlock()

		if deadline == nil {
			p.metrics.AcquireRejected(p.settings.Runtime, "exhausted")
			return "", ErrPoolExhausted
		}

		select {
		case <-wait:
		case <-deadline:
			p.metrics.AcquireRejected(p.settings.Runtime, "exhausted")
			return "", ErrPoolExhausted
		case <-ctx.Done():
			p.metrics.AcquireRejected(p.settings.Runtime, "exhausted")
			return "", fmt.Errorf("%w: %w", ErrPoolExhausted, ctx.Err())
		}
	}
}

// Release resets the container and returns it to the available queue.
// Releasing an id that is not currently acquired is a no-op. When the reset
// fails the container is removed instead and the pool shrinks by one.
func (p *Pool) Release(ctx context.Context, id string) {
	p.mu.Lock()
	c, ok := p.containers[id]
	if !ok || c.state != StateAcquired {
		p.mu.Unlock()
		p.logger.Debug("Ignoring release of container not in use", zap.String("container", id))
		return
	}
	c.state = StateReleasing
	p.mu.Unlock()

	resetErr := p.rt.Reset(ctx, id, p.settings.Entry.ResetDirs())

	p.mu.Lock()
	if p.containers[id] != c {
		// Cleanup destroyed it while the reset was running.
		p.mu.Unlock()
		return
	}

	delete(p.inUse, id)
	c.acquiredAt = time.Time{}

	if resetErr != nil {
		c.state = StateDestroyed
		delete(p.containers, id)
	} else {
		c.state = StateAvailable
		p.available = append(p.available, id)
	}

	p.notifyLocked()
	p.observeLocked()
	p.mu.Unlock()

	if resetErr != nil {
		p.logger.Error("Container reset failed, removing it from the pool",
			zap.String("container", id), zap.Error(resetErr))
		p.metrics.ContainerQuarantined(p.settings.Runtime)
		p.remove(ctx, id)
		return
	}

	p.logger.Debug("Container released", zap.String("container", id))
}

// Cleanup closes the pool to new acquisitions, waits until every held
// container is released or ctx is done, and then removes all containers.
// Removal failures are collected and returned; missing containers count as
// removed.
func (p *Pool) Cleanup(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.initialized = false
	drained := p.drained
	if len(p.inUse) == 0 {
		drained = closedChan
	} else if drained == nil {
		p.drained = make(chan struct{})
		drained = p.drained
	}
	p.notifyLocked()
	p.mu.Unlock()

	select {
	case <-drained:
	case <-ctx.Done():
		p.mu.Lock()
		held := len(p.inUse)
		p.mu.Unlock()
		p.logger.Warn("Drain interrupted, removing held containers", zap.Int("in_use", held), zap.Error(ctx.Err()))
	}

	p.mu.Lock()
	ids := make([]string, 0, len(p.containers))
	for id, c := range p.containers {
		c.state = StateDestroyed
		ids = append(ids, id)
	}
	p.containers = make(map[string]*container)
	p.available = nil
	p.inUse = make(map[string]time.Time)
	p.drained = nil
	p.observeLocked()
	p.mu.Unlock()

	var errs error
	for _, id := range ids {
		if err := p.removeWithError(ctx, id); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	p.logger.Info("Pool cleaned up",
		zap.Int("removed", len(ids)-len(multierr.Errors(errs))),
		zap.Int("failed", len(multierr.Errors(errs))))

	return errs
}

// Stats returns a snapshot of pool occupancy
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Runtime:       p.settings.Runtime,
		TargetSize:    p.targetSize,
		EffectiveSize: len(p.available) + len(p.inUse),
		Available:     len(p.available),
		InUse:         len(p.inUse),
		Closed:        p.closed,
	}
}

// Container returns a snapshot of the container with the given id
func (p *Pool) Container(id string) (Container, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.containers[id]
	if !ok {
		return Container{}, false
	}

	return Container{
		ID:         c.id,
		Runtime:    p.settings.Runtime,
		State:      c.state,
		AcquiredAt: c.acquiredAt,
	}, true
}

func (p *Pool) remove(ctx context.Context, id string) {
	if err := p.removeWithError(ctx, id); err != nil {
		p.logger.Error("Failed to remove container", zap.String("container", id), zap.Error(err))
	}
}

// removeWithError runs on a context detached from ctx's cancellation so
// removal still happens after a drain timeout.
func (p *Pool) removeWithError(ctx context.Context, id string) error {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
	defer cancel()

	err := p.rt.RemoveContainer(rmCtx, id)
	if err == nil || errors.Is(err, sandbox.ErrContainerNotFound) {
		return nil
	}

	p.metrics.ContainerRemoveFailed(p.settings.Runtime)
	return fmt.Errorf("remove container %s: %w", id, err)
}

// notifyLocked wakes Acquire waiters and signals drain completion
func (p *Pool) notifyLocked() {
	close(p.released)
	p.released = make(chan struct{})

	if p.closed && len(p.inUse) == 0 && p.drained != nil {
		close(p.drained)
		p.drained = nil
	}
}

func (p *Pool) observeLocked() {
	p.metrics.SetPoolState(p.settings.Runtime, len(p.available), len(p.inUse))
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
