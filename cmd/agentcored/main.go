// Command agentcored runs the Agent Runtime Core as a long-lived
// filesystem-backed daemon: it polls a request spool, runs each
// request through the session/budget/router/tool-loop pipeline, and
// publishes the result to a response spool.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	agentcore "github.com/havenrun/agentcore"
	"github.com/havenrun/agentcore/internal/config"
	"github.com/havenrun/agentcore/internal/daemon"
	"github.com/havenrun/agentcore/internal/observability"
	"github.com/havenrun/agentcore/internal/router"
	"github.com/havenrun/agentcore/internal/session"
	"github.com/havenrun/agentcore/provider/openrouter"
	"github.com/havenrun/agentcore/tools/fsops"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfgPath := os.Getenv("AGENTCORE_CONFIG")
	cfg := config.Load(cfgPath)

	if cfg.OpenRouter.APIKey == "" {
		logger.Error("agentcored: AGENTCORE_OPENROUTER_API_KEY is required")
		os.Exit(1)
	}

	var providerOpts []openrouter.Option
	if cfg.OpenRouter.TimeoutMs > 0 {
		providerOpts = append(providerOpts, openrouter.WithTimeout(time.Duration(cfg.OpenRouter.TimeoutMs)*time.Millisecond))
	}
	if cfg.OpenRouter.Retry {
		providerOpts = append(providerOpts, openrouter.WithRetry(true))
	}
	providerOpts = append(providerOpts, openrouter.WithLogger(logger))
	var prov agentcore.Provider = openrouter.New(cfg.OpenRouter.APIKey, cfg.OpenRouter.BaseURL, providerOpts...)

	var obsInst *observability.Instruments
	var obsShutdown func(context.Context) error
	if cfg.Observability.Enabled {
		inst, shutdown, err := observability.Init(context.Background(), cfg.Observability.ServiceName)
		if err != nil {
			logger.Error("agentcored: observability init", "error", err)
			os.Exit(1)
		}
		obsInst = inst
		obsShutdown = shutdown
		prov = observability.WrapProvider(prov, inst)
	}

	sessions, err := session.NewStore(cfg.Daemon.SessionRoot)
	if err != nil {
		logger.Error("agentcored: open session store", "error", err)
		os.Exit(1)
	}

	registry := agentcore.NewToolRegistry()
	for _, t := range fsops.New(cfg.Daemon.SessionRoot) {
		if obsInst != nil {
			registry.Add(observability.WrapTool(t, obsInst))
		} else {
			registry.Add(t)
		}
	}

	rt := router.New(prov, logger)

	worker := &daemon.Worker{
		Provider: prov,
		Sessions: sessions,
		Registry: registry,
		Router:   rt,
		Config:   cfg,
		Logger:   logger,
	}

	d := daemon.New(daemon.Config{
		RequestDir:        cfg.Daemon.RequestDir,
		ResponseDir:       cfg.Daemon.ResponseDir,
		PollInterval:      time.Duration(cfg.Daemon.PollMs) * time.Millisecond,
		HeartbeatInterval: time.Duration(cfg.Daemon.HeartbeatIntervalMs) * time.Millisecond,
		ShutdownGrace:     time.Duration(cfg.Daemon.ShutdownGraceMs) * time.Millisecond,
		WatchFS:           cfg.Daemon.WatchFS,
	}, worker.Run, logger)

	code := d.RunWithSignal()
	if obsShutdown != nil {
		if err := obsShutdown(context.Background()); err != nil {
			logger.Warn("agentcored: observability shutdown", "error", err)
		}
	}
	os.Exit(code)
}
