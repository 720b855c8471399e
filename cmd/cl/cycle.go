package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cycleline/internal/engine"
	"cycleline/internal/lifecycle"
	"cycleline/internal/repo"
)

func cycleCmd() *cobra.Command {
	cyc := &cobra.Command{
		Use:   "cycle",
		Short: "Generate and inspect cycles",
		Long:  "A cycle is one run of a workflow. Its groups and tasks are copied from the template when it is generated and do not change when the template does.",
	}
	cyc.AddCommand(cycleGenerateCmd())
	cyc.AddCommand(cycleListCmd())
	cyc.AddCommand(cycleShowCmd())
	cyc.AddCommand(cycleUpdateCmd())
	return cyc
}

func cycleGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <workflow-id>",
		Short: "Generate the next cycle of a workflow now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GenerateCycle(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				view, err := e.GetCycleView(ctx, c.ID)
				if err != nil {
					return err
				}
				return printCycleView(view)
			})
		},
	}
	return cmd
}

func cycleListCmd() *cobra.Command {
	var current string
	var limit int
	cmd := &cobra.Command{
		Use:   "list <workflow-id>",
		Short: "List cycles of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := repo.CycleFilters{WorkflowID: args[0], Limit: limit}
			if current != "" {
				v, err := strconv.ParseBool(current)
				if err != nil {
					return fmt.Errorf("--current must be true or false")
				}
				filters.Current = &v
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCycles(ctx, filters)
				if err != nil {
					return err
				}
				return printCycles(items)
			})
		},
	}
	cmd.Flags().StringVar(&current, "current", "", "true for current cycles, false for history")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}

func cycleShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <cycle-id>",
		Short: "Show cycle with its groups and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.GetCycleView(ctx, args[0])
				if err != nil {
					return err
				}
				return printCycleView(view)
			})
		},
	}
	return cmd
}

func cycleUpdateCmd() *cobra.Command {
	var title, desc, contact, start, end string
	var verification bool
	cmd := &cobra.Command{
		Use:   "update <cycle-id>",
		Short: "Update cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpdateCycle(ctx, engine.CycleUpdateOptions{
					ID:                   args[0],
					Title:                changedString(cmd, "title", title),
					Description:          changedString(cmd, "description", desc),
					Contact:              changedString(cmd, "contact", contact),
					StartDate:            changedString(cmd, "start", start),
					EndDate:              changedString(cmd, "end", end),
					IsVerificationNeeded: changedBool(cmd, "verification", verification),
					ActorID:              actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&contact, "contact", "", "contact")
	cmd.Flags().StringVar(&start, "start", "", "start date")
	cmd.Flags().StringVar(&end, "end", "", "end date")
	cmd.Flags().BoolVar(&verification, "verification", false, "verification flag (can only restate the stored value)")
	return cmd
}

func statusCmd() *cobra.Command {
	st := &cobra.Command{
		Use:   "status",
		Short: "Change cycle statuses",
		Long:  "Status writes roll up: a task change recomputes its group and cycle, and a cycle that reaches its closing status moves to history.",
	}
	st.AddCommand(statusSetCmd())
	return st
}

func statusSetCmd() *cobra.Command {
	kinds := make([]string, 0, len(lifecycle.Kinds))
	for _, k := range lifecycle.Kinds {
		kinds = append(kinds, string(k))
	}
	cmd := &cobra.Command{
		Use:       "set <kind> <id> <status>",
		Short:     "Set the status of a cycle task, cycle task group or cycle",
		Long:      "kind is one of " + strings.Join(kinds, ", ") + ".",
		Args:      cobra.ExactArgs(3),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SetStatus(ctx, engine.SetStatusOptions{
					Kind:    args[0],
					ID:      args[1],
					Status:  args[2],
					ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				for _, ch := range res.Changes {
					marker := ""
					if ch.RolledUp {
						marker = " (rollup)"
					}
					fmt.Printf("%s %s: %s -> %s%s\n", ch.Kind, ch.ID, ch.From, ch.To, marker)
				}
				if len(res.Changes) == 0 {
					fmt.Println("no change")
				}
				if res.Archived {
					fmt.Printf("cycle %s moved to history\n", res.Cycle.ID)
				}
				return nil
			})
		},
	}
	return cmd
}
