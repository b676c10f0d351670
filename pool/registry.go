package pool

import (
	"context"
	"fmt"
	"sort"

	concpool "github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/isdmx/warmbox/config"
	"github.com/isdmx/warmbox/metrics"
	"github.com/isdmx/warmbox/sandbox"
)

// Registry owns one Pool per configured runtime. The set of runtimes is fixed
// at construction.
type Registry struct {
	logger *zap.Logger
	pools  map[string]*Pool
	sizes  map[string]int
}

// NewRegistry builds one pool per runtime in cfg.Runtimes
func NewRegistry(logger *zap.Logger, rt sandbox.Runtime, cfg *config.Config, m *metrics.Metrics) (*Registry, error) {
	r := &Registry{
		logger: logger,
		pools:  make(map[string]*Pool, len(cfg.Runtimes)),
		sizes:  make(map[string]int, len(cfg.Runtimes)),
	}

	for name, rc := range cfg.Runtimes {
		if _, err := sandbox.DefaultEntry(name); err != nil {
			return nil, err
		}

		image := rc.Image
		if image == "" {
			image = cfg.ImageFor(name)
		}

		size := rc.PoolSize
		if size == 0 {
			size = cfg.Pool.Size
		}

		r.pools[name] = New(logger, rt, Settings{
			Runtime: name,
			Image:   image,
			Entry: sandbox.Entry{
				EntryFile: rc.EntryFile,
				Command:   rc.Command,
				Workdir:   rc.Workdir,
			},
		},
			WithAcquireWait(cfg.Pool.AcquireWait),
			WithCreateConcurrency(cfg.Pool.CreateConcurrency),
			WithMetrics(m),
		)
		r.sizes[name] = size
	}

	return r, nil
}

// Initialize initializes every pool concurrently. Failures of one pool do not
// stop the others; all of them are returned together.
func (r *Registry) Initialize(ctx context.Context) error {
	workers := concpool.New().WithErrors()
	for name, p := range r.pools {
		size := r.sizes[name]
		workers.Go(func() error {
			return p.Initialize(ctx, size)
		})
	}

	err := workers.Wait()
	r.logger.Info("Pool registry initialized", zap.Int("capacity", r.Capacity()), zap.Strings("runtimes", r.Runtimes()))
	return err
}

// Get returns the pool for runtime
func (r *Registry) Get(runtime string) (*Pool, error) {
	p, ok := r.pools[runtime]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuntimeNotFound, runtime)
	}
	return p, nil
}

// Cleanup cleans up every pool concurrently, independent of individual
// failures.
func (r *Registry) Cleanup(ctx context.Context) error {
	workers := concpool.New().WithErrors()
	for _, p := range r.pools {
		workers.Go(func() error {
			return p.Cleanup(ctx)
		})
	}

	err := workers.Wait()
	if err != nil {
		r.logger.Error("Pool registry cleanup finished with errors", zap.Error(err))
	} else {
		r.logger.Info("Pool registry cleaned up")
	}
	return err
}

// Runtimes returns the registered runtime names in sorted order
func (r *Registry) Runtimes() []string {
	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns the stats of every pool, sorted by runtime
func (r *Registry) Stats() []Stats {
	stats := make([]Stats, 0, len(r.pools))
	for _, name := range r.Runtimes() {
		stats = append(stats, r.pools[name].Stats())
	}
	return stats
}

// Capacity returns the total number of containers across all pools
func (r *Registry) Capacity() int {
	total := 0
	for _, p := range r.pools {
		total += p.Stats().EffectiveSize
	}
	return total
}
