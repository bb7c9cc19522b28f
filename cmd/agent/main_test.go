package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultaai-agent/internal/config"
	"ultaai-agent/internal/dispatch"
	"ultaai-agent/internal/runner"
	"ultaai-agent/internal/testutil"
)

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()
	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"-h"})
	require.NoError(t, err)
	require.Contains(t, out.String(), "Usage:")
}

func TestLoadRegistry(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	testutil.WriteModule(t, dir, "reverse", testutil.ReverseModule)

	cfg := config.Defaults()
	cfg.ModulesDir = dir
	reg, err := loadRegistry(context.Background(), cfg, runner.New(time.Minute))
	require.NoError(t, err)
	_, ok := reg.Module("reverse")
	assert.True(t, ok)

	cfg.ModulesDir = filepath.Join(dir, "missing")
	reg, err = loadRegistry(context.Background(), cfg, runner.New(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, reg.Modules())

	cfg.ModulesDir = ""
	reg, err = loadRegistry(context.Background(), cfg, runner.New(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, reg.Modules())
}

func TestOpenLogger_File(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.LogFile = filepath.Join(t.TempDir(), "logs", "agent.log")
	cfg.LogFormat = "json"

	logger, closeLog, err := openLogger(cfg, os.Stderr)
	require.NoError(t, err)
	logger.Info("Hello.", "k", "v")
	closeLog()

	b, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"Hello."`)
}

func TestNewApp_RegistersStatusModule(t *testing.T) {
	t.Parallel()
	certPath, keyPath := testutil.WriteCertificate(t, t.TempDir())
	modules := t.TempDir()
	testutil.WriteModule(t, modules, "reverse", testutil.ReverseModule)

	cfg := config.Defaults()
	cfg.Server = "wss://127.0.0.1:1"
	cfg.CA, cfg.Cert, cfg.Key = certPath, certPath, keyPath
	cfg.SpoolDir = filepath.Join(t.TempDir(), "spool")
	cfg.ModulesDir = modules
	cfg.StatusAddr = "127.0.0.1:0"
	cfg.AgentID = "agent-test"

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	_, ok := a.registry.Module(dispatch.StatusModuleName)
	assert.True(t, ok)
	_, ok = a.registry.Module("reverse")
	assert.True(t, ok)
	assert.NotNil(t, a.status)
	assert.Equal(t, "agent-test", a.client.AgentID)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	assert.NoError(t, a.Run(ctx))
}

func TestNewApp_ExternalModuleCannotShadowStatus(t *testing.T) {
	t.Parallel()
	certPath, keyPath := testutil.WriteCertificate(t, t.TempDir())
	modules := t.TempDir()
	testutil.WriteModule(t, modules, "reverse", testutil.ReverseModule)
	testutil.WriteModule(t, modules, "status", testutil.Script(dispatch.StatusModuleName, "echo hi"))

	cfg := config.Defaults()
	cfg.Server = "wss://127.0.0.1:1"
	cfg.CA, cfg.Cert, cfg.Key = certPath, certPath, keyPath
	cfg.SpoolDir = filepath.Join(t.TempDir(), "spool")
	cfg.ModulesDir = modules

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)

	status, ok := a.registry.Module(dispatch.StatusModuleName)
	require.True(t, ok)
	assert.Empty(t, status.Path)
	assert.NotNil(t, status.Invoker)
	_, ok = a.registry.Module("reverse")
	assert.True(t, ok)

	require.Len(t, a.registry.Rejected(), 1)
	assert.Equal(t, filepath.Join(modules, "status"), a.registry.Rejected()[0].Path)
}

func TestLoadRegistry_BuiltinsSurviveUnreadableDirectory(t *testing.T) {
	t.Parallel()
	builtin, err := dispatch.NewStatusModule(nil)
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.ModulesDir = filepath.Join(t.TempDir(), "missing")
	reg, err := loadRegistry(context.Background(), cfg, runner.New(time.Minute), builtin)
	require.NoError(t, err)
	_, ok := reg.Module(dispatch.StatusModuleName)
	assert.True(t, ok)
}
