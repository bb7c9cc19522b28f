package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"ultaai-agent/internal/agent"
	"ultaai-agent/internal/config"
	"ultaai-agent/internal/ctxlog"
	"ultaai-agent/internal/dispatch"
	"ultaai-agent/internal/jobs"
	"ultaai-agent/internal/module"
	"ultaai-agent/internal/runner"
	"ultaai-agent/internal/server"
)

// app wires the engine to its transport and status surfaces.
type app struct {
	registry   *module.Registry
	jobs       *jobs.Manager
	dispatcher *dispatch.Dispatcher
	client     *agent.Client
	status     *server.Server
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := ctxlog.FromContext(ctx)

	inv := runner.New(cfg.ActionTimeout)

	spool, err := jobs.NewSpool(cfg.SpoolDir)
	if err != nil {
		return nil, err
	}
	mgr := jobs.NewManager(spool)

	status, err := dispatch.NewStatusModule(mgr)
	if err != nil {
		return nil, fmt.Errorf("build built-in module: %w", err)
	}
	reg, err := loadRegistry(ctx, cfg, inv, status)
	if err != nil {
		return nil, err
	}
	d := dispatch.New(reg, inv, mgr)

	tlsCfg, err := agent.TLSConfig(cfg.CA, cfg.Cert, cfg.Key, cfg.ServerFingerprint)
	if err != nil {
		return nil, err
	}
	if certPEM, err := os.ReadFile(cfg.Cert); err == nil {
		if fp, err := agent.CertFingerprint(certPEM); err == nil {
			logger.Info("Client certificate loaded.", "fingerprint_sha256", fp)
		}
	}

	agentID := agent.ResolveAgentID(cfg.AgentID, agent.DefaultAgentIDPath)
	secret := []byte(cfg.SignatureSecret)
	if len(secret) == 0 {
		logger.Warn("No signature secret configured; requests are accepted unsigned.")
	}

	a := &app{
		registry:   reg,
		jobs:       mgr,
		dispatcher: d,
		client: &agent.Client{
			URL:               cfg.Server,
			TLS:               tlsCfg,
			AgentID:           agentID,
			Secret:            secret,
			Handler:           agent.NewHandler(d, agent.NewVerifier(secret)),
			Heartbeat:         agent.NewHeartbeat(agentID, secret),
			HeartbeatInterval: cfg.HeartbeatInterval,
		},
	}
	if cfg.StatusAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		a.status = server.NewServer(cfg.StatusAddr, reg, mgr, logger)
	}
	return a, nil
}

// loadRegistry registers builtins and discovers external modules. An
// external module reusing a built-in name is rejected. An unreadable modules
// directory is reported and leaves only the built-in modules.
func loadRegistry(ctx context.Context, cfg *config.Config, reader module.MetadataReader, builtins ...*module.Module) (*module.Registry, error) {
	logger := ctxlog.FromContext(ctx)
	if cfg.ModulesDir == "" {
		logger.Info("No modules directory configured; only built-in modules are available.")
		return module.NewRegistryWith(builtins...)
	}

	loader := &module.Loader{Reader: reader, Builtins: builtins}
	if cfg.ModulesManifest != "" {
		m, err := module.LoadManifest(cfg.ModulesManifest)
		if err != nil {
			return nil, err
		}
		loader.Manifest = m
	}

	reg, err := loader.Load(ctx, cfg.ModulesDir)
	var derr *module.DiscoveryError
	if errors.As(err, &derr) {
		logger.Error("Modules directory unreadable; continuing with built-in modules only.", "error", err)
		return module.NewRegistryWith(builtins...)
	}
	return reg, err
}

// Run serves until ctx is cancelled, then waits for background jobs to
// publish their results.
func (a *app) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Agent starting.", "modules", len(a.registry.Modules()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.client.Run(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	if a.status != nil {
		g.Go(func() error { return a.status.Run(gctx) })
	}

	err := g.Wait()
	logger.Info("Shutting down; waiting for running jobs.")
	a.jobs.Wait()
	logger.Info("Agent stopped.")
	return err
}
