package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cycleline/internal/config"
	"cycleline/internal/engine"
)

func TestOpenWithoutConfigUsesDefaults(t *testing.T) {
	ws := t.TempDir()
	a, err := Open(context.Background(), Options{Workspace: ws})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, config.DefaultMaxCatchUp, a.Config.MaxCatchUp())
	assert.FileExists(t, filepath.Join(ws, ".cycleline", "cycleline.db"))

	w, err := a.Engine.CreateWorkflow(context.Background(), engine.WorkflowCreateOptions{Title: "smoke", ActorID: "t"})
	require.NoError(t, err)
	assert.True(t, w.IsVerificationNeeded)
}

func TestOpenRequireConfig(t *testing.T) {
	ws := t.TempDir()
	_, err := Open(context.Background(), Options{Workspace: ws, RequireConfig: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cl config init")

	require.NoError(t, os.WriteFile(config.Path(ws), []byte("policies:\n  allow_independent_recurrence_change: true\n"), 0o644))
	a, err := Open(context.Background(), Options{Workspace: ws, RequireConfig: true})
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, a.Config.Policies.AllowIndependentRecurrenceChange)
	assert.NotNil(t, a.Engine.Metrics)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("scheduler:\n  spec: \"not a cron\"\n"), 0o644))
	_, err := Open(context.Background(), Options{Workspace: ws})
	require.Error(t, err)
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "k=v")
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}
