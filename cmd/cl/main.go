package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cycleline/internal/app"
	"cycleline/internal/domain"
	"cycleline/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Cycleline CLI",
	Long: `Cycleline runs recurring checklists.
Core concepts:
- Workflow: a template of task groups and task definitions, optionally with a recurrence (every N days, weeks or months).
- Cycle: one generated run of a workflow. Its groups and tasks are snapshots of the template at generation time.
- Status: cycle tasks move Assigned -> InProgress -> Finished (or Declined); with verification a Finished task is then Verified.
- Rollup: group and cycle statuses follow their children automatically.
- History: a cycle leaves the current set once it is Verified, or Finished/Declined when no verification is needed.
- Event log: every change is recorded; view it with 'cl log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CYCLELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); defaults to config log.level")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(cycleCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

func openApp(ctx context.Context) (*app.App, error) {
	workspace := viper.GetString("workspace")
	level := viper.GetString("log-level")
	if level == "" {
		level = "warn"
	}
	return app.Open(ctx, app.Options{
		Workspace: workspace,
		Logger:    app.NewLogger(os.Stderr, level),
	})
}

func actorID() string {
	return viper.GetString("actor-id")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printWorkflows(items []engine.WorkflowView) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Recurrence", "Next cycle", "Template"})
	for _, w := range items {
		tw.AppendRow(table.Row{w.ID, w.Title, w.Status, recurrenceLabel(w.Workflow), deref(w.NextCycleStartDate), w.TemplateStatus})
	}
	tw.Render()
	return nil
}

func printCycles(items []domain.Cycle) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "#", "Title", "Status", "Current", "Start", "End"})
	for _, c := range items {
		tw.AppendRow(table.Row{c.ID, c.CycleNumber, c.Title, c.Status, c.IsCurrent, c.StartDate, c.EndDate})
	}
	tw.Render()
	return nil
}

func printCycleView(view engine.CycleView) error {
	if viper.GetBool("json") {
		return printJSON(view)
	}
	fmt.Printf("Cycle %d: %s [%s]", view.CycleNumber, view.Title, view.Status)
	if !view.IsCurrent {
		fmt.Print(" (history)")
	}
	fmt.Println()
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Group", "Task", "ID", "Status", "Start", "End"})
	for _, g := range view.Groups {
		tw.AppendRow(table.Row{g.Title, "", g.ID, g.Status, "", ""})
		for _, t := range g.Tasks {
			tw.AppendRow(table.Row{"", t.Title, t.ID, t.Status, t.StartDate, t.EndDate})
		}
	}
	tw.Render()
	return nil
}

func recurrenceLabel(w domain.Workflow) string {
	if w.Unit == nil || w.RepeatEvery == nil {
		return "one-time"
	}
	return fmt.Sprintf("every %d %s", *w.RepeatEvery, *w.Unit)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// changedString returns the flag value when the flag was given.
func changedString(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}

func changedBool(cmd *cobra.Command, name string, value bool) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}

func changedInt(cmd *cobra.Command, name string, value int) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}
