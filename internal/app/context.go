// Package app wires the database, configuration, metrics and engine of a
// workspace for the CLI and the server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"cycleline/internal/config"
	"cycleline/internal/db"
	"cycleline/internal/engine"
	"cycleline/internal/metrics"
	"cycleline/internal/migrate"
)

type Options struct {
	Workspace string
	// RequireConfig fails when cycleline.yml is missing instead of using
	// the defaults.
	RequireConfig bool
	Logger        *slog.Logger
}

// App is an opened workspace.
type App struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Engine    engine.Engine
	Logger    *slog.Logger
}

// Open loads the workspace config, opens and migrates its database and
// builds the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	load := config.LoadOptional
	if opts.RequireConfig {
		load = config.Load
	}
	cfg, err := load(opts.Workspace)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug("workspace opened", slog.String("db", db.Path(opts.Workspace)), slog.Int("schema_version", version))

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	eng := engine.New(conn, cfg)
	eng.Metrics = m
	eng.Logger = logger.With(slog.String("component", "engine"))
	return &App{
		Workspace: opts.Workspace,
		DB:        conn,
		Config:    cfg,
		Registry:  registry,
		Metrics:   m,
		Engine:    eng,
		Logger:    logger,
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// NewLogger returns a text logger on w at the named level. Unknown levels
// fall back to info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
