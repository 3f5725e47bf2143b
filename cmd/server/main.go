package main

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/webplatform/sandboxd/config"
	"github.com/webplatform/sandboxd/engine"
	"github.com/webplatform/sandboxd/httpserver"
	"github.com/webplatform/sandboxd/logger"
	"github.com/webplatform/sandboxd/mcpserver"
	"github.com/webplatform/sandboxd/sandbox"
	"github.com/webplatform/sandboxd/session"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Isolation backend
			newBackend,
			func(d *sandbox.Docker) sandbox.Backend { return d },

			// Session registry and engine
			session.NewRegistry,
			engine.New,

			// Background reaper
			newReaper,

			// Transports
			newHTTPServer,
			mcpserver.New,
		),

		fx.Invoke(registerHooks),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func newBackend(cfg *config.Config, log *zap.Logger) (*sandbox.Docker, error) {
	return sandbox.NewDocker(log, &sandbox.Config{
		Host:           cfg.Sandbox.DockerHost,
		Image:          cfg.Sandbox.Image,
		Entrypoint:     cfg.Sandbox.Entrypoint,
		MemoryMB:       cfg.Sandbox.MemoryMB,
		CPUQuota:       cfg.Sandbox.CPUQuota,
		CPUPeriod:      cfg.Sandbox.CPUPeriod,
		PidsLimit:      cfg.Sandbox.PidsLimit,
		NetworkEnabled: cfg.Sandbox.NetworkEnabled,
		PoolSize:       cfg.Sandbox.PoolSize,
		StopTimeout:    time.Duration(cfg.Sandbox.StopTimeoutSec) * time.Second,
	})
}

func newReaper(cfg *config.Config, log *zap.Logger, eng *engine.Engine, reg *session.Registry, dock *sandbox.Docker) *engine.Reaper {
	return engine.NewReaper(log, eng, reg, cfg.GetSessionTTL(), cfg.GetReapInterval(), dock.Replenish)
}

func newHTTPServer(cfg *config.Config, log *zap.Logger, eng *engine.Engine) *httpserver.Server {
	return httpserver.New(log, eng, cfg.Server.HTTPAddr, cfg.Session.MaxUploadBytes)
}

func registerHooks(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
	dock *sandbox.Docker,
	reaper *engine.Reaper,
	httpSrv *httpserver.Server,
	mcpSrv *mcpserver.MCPServer,
) {
	// Backend first: daemon connectivity, image, warm pool.
	lc.Append(fx.Hook{
		OnStart: dock.Start,
		OnStop:  dock.Close,
	})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			reaper.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			reaper.Stop()
			return nil
		},
	})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := httpSrv.Start(); err != nil {
					log.Fatal("HTTP server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: httpSrv.Shutdown,
	})

	switch cfg.Server.MCPTransport {
	case "stdio":
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := mcpSrv.ServeStdio(); err != nil {
						log.Fatal("MCP stdio server failed", zap.Error(err))
					}
				}()
				return nil
			},
		})
	case "http":
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := mcpSrv.ServeHTTP(); err != nil {
						log.Fatal("MCP HTTP server failed", zap.Error(err))
					}
				}()
				return nil
			},
		})
	}
}
