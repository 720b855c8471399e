package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"cycleline/internal/app"
	"cycleline/internal/config"
	"cycleline/internal/engine"
	"cycleline/internal/events"
	"cycleline/internal/repo"
	"cycleline/internal/scheduler"
	"cycleline/internal/server"
)

func scheduleCmd() *cobra.Command {
	sch := &cobra.Command{
		Use:   "schedule",
		Short: "Recurring cycle generation",
	}
	sch.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Generate every cycle that is due today",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := scheduler.New(a.Engine, a.Config.ScheduleSpec(), a.Metrics, a.Logger)
				if err != nil {
					return err
				}
				cycles, runErr := s.RunOnce(ctx)
				if len(cycles) > 0 || viper.GetBool("json") {
					if err := printCycles(cycles); err != nil {
						return err
					}
				} else {
					fmt.Println("nothing due")
				}
				return runErr
			})
		},
	})
	return sch
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "cycleline.yml in the workspace holds the policies (verification default, recurrence change rule), the scheduler spec, event sinks and server settings.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate cycleline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default cycleline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every workflow, template and status change is recorded in order.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var workflowID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.LatestEventsFrom(ctx, n, 0, repo.EventFilters{
					WorkflowID: workflowID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func authCmd() *cobra.Command {
	au := &cobra.Command{
		Use:   "auth",
		Short: "API credentials",
	}
	var subject string
	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with CYCLELINE_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				subject = actorID()
			}
			tok, err := server.IssueToken(viper.GetString("jwt-secret"), subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "", "token subject (defaults to --actor-id)")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 for none")
	au.AddCommand(token)
	return au
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server, scheduler and event relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			level := viper.GetString("log-level")
			if level == "" {
				level = cfg.Log.Level
			}
			logger := app.NewLogger(os.Stderr, level)
			a, err := app.Open(cmd.Context(), app.Options{Workspace: workspace, Logger: logger})
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("addr") && a.Config.Server.Addr != "" {
				addr = a.Config.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && a.Config.Server.BasePath != "" {
				basePath = a.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:        viper.GetString("jwt-secret"),
				AllowActorHeader: allowActorHeader,
				Logger:           logger,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowActorHeader {
				return fmt.Errorf("CYCLELINE_JWT_SECRET is required for bearer auth (or pass --allow-actor-header)")
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth:     authCfg,
				Gatherer: a.Registry,
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			relay, closeRelay, err := events.NewRelay(a.Engine.Repo, a.Config, logger)
			if err != nil {
				return err
			}
			defer closeRelay()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, gctx := errgroup.WithContext(ctx)

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if a.Config.SchedulerEnabled() && !noScheduler {
				sched, err := scheduler.New(a.Engine, a.Config.ScheduleSpec(), a.Metrics, logger)
				if err != nil {
					return err
				}
				g.Go(func() error { return sched.Run(gctx) })
			}
			g.Go(func() error { return relay.Run(gctx) })

			logger.Info("serving Cycleline API",
				slog.String("addr", addr),
				slog.String("base_path", basePath),
				slog.Int("sinks", len(relay.Sinks)))
			fmt.Printf("Serving Cycleline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", config.DefaultAddr, "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", config.DefaultBasePath, "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept X-Actor-Id without a token (local use)")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run the cycle scheduler")
	return cmd
}
