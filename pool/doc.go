// Package pool maintains warm containers for each language runtime.
//
// A Pool owns a fixed set of pre-started containers for one runtime and hands
// them out with Acquire and takes them back with Release. Acquire never
// queues by default: when every container is held it fails immediately with
// ErrPoolExhausted. Release resets the container (stray processes killed,
// workdir and /tmp emptied) before it becomes available again; a container
// that cannot be reset is removed and the pool shrinks.
//
// A Registry owns one Pool per configured runtime and fans Initialize and
// Cleanup out to all of them.
//
// Usage:
//
//	reg, err := pool.NewRegistry(logger, runtime, cfg, m)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := reg.Initialize(ctx); err != nil {
//	    logger.Warn("pools degraded", zap.Error(err))
//	}
//	defer reg.Cleanup(context.Background())
//
//	p, err := reg.Get("python")
//	id, err := p.Acquire(ctx)
//	defer p.Release(context.Background(), id)
package pool
