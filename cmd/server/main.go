package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/warmbox/config"
	"github.com/isdmx/warmbox/dispatcher"
	"github.com/isdmx/warmbox/logger"
	"github.com/isdmx/warmbox/mcpserver"
	"github.com/isdmx/warmbox/metrics"
	"github.com/isdmx/warmbox/natshandler"
	"github.com/isdmx/warmbox/pool"
	"github.com/isdmx/warmbox/sandbox"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Container runtime based on config
			sandbox.NewRuntime,

			// Metrics on the default Prometheus registry
			func() *metrics.Metrics {
				return metrics.New(prometheus.DefaultRegisterer)
			},

			// One warm pool per runtime
			pool.NewRegistry,

			// Dispatcher
			newDispatcher,

			// MCP Server
			func(cfg *config.Config, log *zap.Logger, d *dispatcher.Dispatcher, r *pool.Registry) (*mcpserver.MCPServer, error) {
				return mcpserver.New(cfg, log, d, r)
			},
		),

		fx.Invoke(registerLifecycle),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func newDispatcher(cfg *config.Config, log *zap.Logger, registry *pool.Registry, rt sandbox.Runtime, m *metrics.Metrics) *dispatcher.Dispatcher {
	return dispatcher.New(log, registry, rt,
		dispatcher.WithTimeouts(cfg.Execution.DefaultTimeout, cfg.Execution.MaxTimeout),
		dispatcher.WithResetTimeout(cfg.Pool.ResetTimeout),
		dispatcher.WithMetrics(m),
	)
}

type lifecycleParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     *config.Config
	Logger     *zap.Logger
	Runtime    sandbox.Runtime
	Registry   *pool.Registry
	Dispatcher *dispatcher.Dispatcher
	Server     *mcpserver.MCPServer
}

func registerLifecycle(p lifecycleParams) {
	var (
		metricsServer *metrics.Server
		nats          *natshandler.Handler
	)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Registry.Initialize(ctx); err != nil {
				if !errors.Is(err, pool.ErrPoolDegraded) || p.Registry.Capacity() == 0 {
					return fmt.Errorf("failed to initialize pools: %w", err)
				}
				p.Logger.Warn("Serving with degraded pools", zap.Error(err))
			}

			if p.Config.Metrics.Enabled {
				metricsServer = metrics.NewServer(p.Logger, p.Config.Metrics.Addr, prometheus.DefaultGatherer)
				if err := metricsServer.Start(); err != nil {
					return err
				}
			}

			if p.Config.NATS.Enabled {
				nats = natshandler.New(p.Logger, p.Dispatcher, p.Config.NATS)
				if err := nats.Start(); err != nil {
					return err
				}
			}

			serve(p)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if nats != nil {
				if err := nats.Stop(ctx); err != nil {
					p.Logger.Error("Failed to stop NATS handler", zap.Error(err))
				}
			}

			if err := p.Server.Shutdown(ctx); err != nil {
				p.Logger.Error("Failed to shut down MCP server", zap.Error(err))
			}

			if metricsServer != nil {
				if err := metricsServer.Stop(ctx); err != nil {
					p.Logger.Error("Failed to stop metrics server", zap.Error(err))
				}
			}

			drainCtx, cancel := context.WithTimeout(ctx, p.Config.Pool.DrainTimeout)
			defer cancel()
			err := p.Registry.Cleanup(drainCtx)

			if closer, ok := p.Runtime.(io.Closer); ok {
				if cerr := closer.Close(); cerr != nil {
					p.Logger.Error("Failed to close container runtime", zap.Error(cerr))
				}
			}

			return err
		},
	})
}

// serve starts the configured MCP transport in the background. A transport
// that exits shuts the whole application down.
func serve(p lifecycleParams) {
	var run func() error
	switch p.Config.Server.Transport {
	case "stdio":
		run = p.Server.ServeStdio
	case "http":
		run = p.Server.ServeHTTP
	default:
		p.Logger.Info("MCP transport disabled")
		return
	}

	go func() {
		err := run()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			p.Logger.Error("MCP transport stopped", zap.Error(err))
		}
		if serr := p.Shutdowner.Shutdown(); serr != nil {
			p.Logger.Debug("Shutdown already in progress", zap.Error(serr))
		}
	}()
}
