package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cycleline/internal/engine"
	"cycleline/internal/recurrence"
	"cycleline/internal/repo"
)

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Manage workflows",
		Long:    "A workflow is the template a cycle is generated from: task groups, task definitions and an optional recurrence.",
	}
	wf.AddCommand(workflowCreateCmd())
	wf.AddCommand(workflowListCmd())
	wf.AddCommand(workflowShowCmd())
	wf.AddCommand(workflowUpdateCmd())
	wf.AddCommand(workflowCloneCmd())
	wf.AddCommand(workflowActivateCmd())
	wf.AddCommand(workflowDeactivateCmd())
	return wf
}

func workflowCreateCmd() *cobra.Command {
	var id, title, desc, parent, contact, unit string
	var owners []string
	var repeatEvery int
	var verification bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorkflow(ctx, engine.WorkflowCreateOptions{
					ID:                   id,
					ParentID:             changedString(cmd, "parent", parent),
					Title:                title,
					Description:          desc,
					Owners:               owners,
					Contact:              contact,
					Unit:                 changedString(cmd, "unit", unit),
					RepeatEvery:          changedInt(cmd, "repeat-every", repeatEvery),
					IsVerificationNeeded: changedBool(cmd, "verification", verification),
					ActorID:              actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workflow id (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&parent, "parent", "", "parent workflow id")
	cmd.Flags().StringSliceVar(&owners, "owner", nil, "owner (repeatable; defaults to the actor)")
	cmd.Flags().StringVar(&contact, "contact", "", "contact (defaults to the actor)")
	cmd.Flags().StringVar(&unit, "unit", "", "recurrence unit: day, week or month")
	cmd.Flags().IntVar(&repeatEvery, "repeat-every", 0, "recurrence interval in units")
	cmd.Flags().BoolVar(&verification, "verification", true, "require verification of finished tasks (defaults to config)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func workflowListCmd() *cobra.Command {
	var status, parent string
	var templates bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWorkflows(ctx, repo.WorkflowFilters{
					Status:        status,
					ParentID:      parent,
					TemplatesOnly: templates,
					Limit:         limit,
				})
				if err != nil {
					return err
				}
				views, err := e.ListWorkflowViews(ctx, items)
				if err != nil {
					return err
				}
				return printWorkflows(views)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Draft, Active or Inactive")
	cmd.Flags().StringVar(&parent, "parent", "", "parent workflow id")
	cmd.Flags().BoolVar(&templates, "templates", false, "only workflows without a parent")
	cmd.Flags().IntVar(&limit, "limit", 100, "max results")
	return cmd
}

func workflowShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show workflow with its task groups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.GetWorkflowView(ctx, args[0])
				if err != nil {
					return err
				}
				groups, err := e.Repo.ListTaskGroups(ctx, view.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"workflow": view, "task_groups": groups})
				}
				fmt.Printf("Workflow: %s (%s)\n", view.Title, view.ID)
				fmt.Printf("Status: %s  Template: %s  Recurrence: %s\n", view.Status, view.TemplateStatus, recurrenceLabel(view.Workflow))
				if view.NextCycleStartDate != nil {
					fmt.Printf("Next cycle: %s\n", *view.NextCycleStartDate)
				}
				fmt.Printf("Verification needed: %t  Tasks: %d  Open cycle tasks: %d\n", view.IsVerificationNeeded, view.TaskCount, view.OpenCycleTasks)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Group", "Task", "ID", "Start", "End", "Type"})
				for _, g := range groups {
					tw.AppendRow(table.Row{g.Title, "", g.ID, "", "", ""})
					tasks, err := e.Repo.ListTaskDefinitions(ctx, g.ID)
					if err != nil {
						return err
					}
					for _, t := range tasks {
						tw.AppendRow(table.Row{"", t.Title, t.ID, t.StartDate, t.EndDate, t.TaskType})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workflowUpdateCmd() *cobra.Command {
	var title, desc, contact, parent, unit string
	var owners []string
	var repeatEvery int
	var verification, clearParent, clearRecurrence bool
	cmd := &cobra.Command{
		Use:   "update <workflow-id>",
		Short: "Update workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.WorkflowUpdateOptions{
				ID:                   args[0],
				Title:                changedString(cmd, "title", title),
				Description:          changedString(cmd, "description", desc),
				Contact:              changedString(cmd, "contact", contact),
				SetParent:            changedString(cmd, "parent", parent),
				IsVerificationNeeded: changedBool(cmd, "verification", verification),
				ActorID:              actorID(),
			}
			if cmd.Flags().Changed("owner") {
				opts.Owners = &owners
			}
			if clearParent {
				empty := ""
				opts.SetParent = &empty
			}
			if clearRecurrence {
				opts.Recurrence = recurrence.Change{UnitSet: true, RepeatEverySet: true}
			} else {
				opts.Recurrence = recurrence.Change{
					UnitSet:        cmd.Flags().Changed("unit"),
					Unit:           changedString(cmd, "unit", unit),
					RepeatEverySet: cmd.Flags().Changed("repeat-every"),
					RepeatEvery:    changedInt(cmd, "repeat-every", repeatEvery),
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.UpdateWorkflow(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&contact, "contact", "", "contact")
	cmd.Flags().StringSliceVar(&owners, "owner", nil, "owners (replaces the list)")
	cmd.Flags().StringVar(&parent, "parent", "", "parent workflow id")
	cmd.Flags().BoolVar(&clearParent, "clear-parent", false, "remove the parent")
	cmd.Flags().StringVar(&unit, "unit", "", "recurrence unit: day, week or month")
	cmd.Flags().IntVar(&repeatEvery, "repeat-every", 0, "recurrence interval in units")
	cmd.Flags().BoolVar(&clearRecurrence, "clear-recurrence", false, "make the workflow one-time")
	cmd.Flags().BoolVar(&verification, "verification", false, "verification flag (can only restate the stored value)")
	return cmd
}

func workflowCloneCmd() *cobra.Command {
	var title string
	var verification, people bool
	cmd := &cobra.Command{
		Use:   "clone <workflow-id>",
		Short: "Clone workflow as a new draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CloneWorkflow(ctx, engine.CloneOptions{
					SourceID:             args[0],
					Title:                changedString(cmd, "title", title),
					IsVerificationNeeded: changedBool(cmd, "verification", verification),
					ClonePeople:          people,
					ActorID:              actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title of the copy")
	cmd.Flags().BoolVar(&verification, "verification", true, "verification flag of the copy")
	cmd.Flags().BoolVar(&people, "clone-people", false, "keep the source contacts")
	return cmd
}

func workflowActivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate <workflow-id>",
		Short: "Activate workflow",
		Long:  "Activation generates the single cycle of a one-time workflow, or every cycle already due for a recurring one.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ActivateWorkflow(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Workflow %s is %s\n", res.Workflow.ID, res.Workflow.Status)
				if res.Workflow.NextCycleStartDate != nil {
					fmt.Printf("Next cycle: %s\n", *res.Workflow.NextCycleStartDate)
				}
				if len(res.Cycles) == 0 {
					return nil
				}
				return printCycles(res.Cycles)
			})
		},
	}
	return cmd
}

func workflowDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <workflow-id>",
		Short: "Deactivate workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.DeactivateWorkflow(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func groupCmd() *cobra.Command {
	grp := &cobra.Command{
		Use:   "group",
		Short: "Manage task groups of a workflow",
	}
	grp.AddCommand(groupCreateCmd())
	grp.AddCommand(groupListCmd())
	grp.AddCommand(groupUpdateCmd())
	grp.AddCommand(groupDeleteCmd())
	return grp
}

func groupCreateCmd() *cobra.Command {
	var workflowID, title, desc, contact, sortIndex string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.CreateTaskGroup(ctx, engine.TaskGroupCreateOptions{
					WorkflowID:  workflowID,
					Title:       title,
					Description: desc,
					Contact:     contact,
					SortIndex:   sortIndex,
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&contact, "contact", "", "contact (defaults to the actor)")
	cmd.Flags().StringVar(&sortIndex, "sort-index", "", "sort key")
	_ = cmd.MarkFlagRequired("workflow")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func groupListCmd() *cobra.Command {
	var workflowID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List task groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTaskGroups(ctx, workflowID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Contact", "Sort"})
				for _, g := range items {
					tw.AppendRow(table.Row{g.ID, g.Title, g.Contact, g.SortIndex})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id")
	_ = cmd.MarkFlagRequired("workflow")
	return cmd
}

func groupUpdateCmd() *cobra.Command {
	var title, desc, contact, sortIndex string
	cmd := &cobra.Command{
		Use:   "update <group-id>",
		Short: "Update task group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.UpdateTaskGroup(ctx, engine.TaskGroupUpdateOptions{
					ID:          args[0],
					Title:       changedString(cmd, "title", title),
					Description: changedString(cmd, "description", desc),
					Contact:     changedString(cmd, "contact", contact),
					SortIndex:   changedString(cmd, "sort-index", sortIndex),
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&contact, "contact", "", "contact")
	cmd.Flags().StringVar(&sortIndex, "sort-index", "", "sort key")
	return cmd
}

func groupDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <group-id>",
		Short: "Delete task group and its task definitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTaskGroup(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	tsk := &cobra.Command{
		Use:   "task",
		Short: "Manage task definitions of a task group",
	}
	tsk.AddCommand(taskCreateCmd())
	tsk.AddCommand(taskListCmd())
	tsk.AddCommand(taskUpdateCmd())
	tsk.AddCommand(taskDeleteCmd())
	return tsk
}

func taskCreateCmd() *cobra.Command {
	var groupID, title, desc, contact, start, end, taskType, sortIndex string
	var options []string
	var objectApproval bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTaskDefinition(ctx, engine.TaskDefinitionCreateOptions{
					TaskGroupID:     groupID,
					Title:           title,
					Description:     desc,
					Contact:         contact,
					StartDate:       start,
					EndDate:         end,
					TaskType:        changedString(cmd, "type", taskType),
					ResponseOptions: options,
					SortIndex:       sortIndex,
					ObjectApproval:  objectApproval,
					ActorID:         actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "task group id")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&contact, "contact", "", "contact (defaults to the actor)")
	cmd.Flags().StringVar(&start, "start", "", "start date (defaults to today)")
	cmd.Flags().StringVar(&end, "end", "", "end date (defaults to the start date)")
	cmd.Flags().StringVar(&taskType, "type", "", "text, menu or checkbox")
	cmd.Flags().StringSliceVar(&options, "option", nil, "response option (repeatable)")
	cmd.Flags().StringVar(&sortIndex, "sort-index", "", "sort key")
	cmd.Flags().BoolVar(&objectApproval, "object-approval", false, "task approves an object")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var groupID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List task definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTaskDefinitions(ctx, groupID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Start", "End", "Sort"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Title, t.TaskType, t.StartDate, t.EndDate, t.SortIndex})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "task group id")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, desc, contact, start, end, taskType, sortIndex string
	var options []string
	var objectApproval bool
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update task definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskDefinitionUpdateOptions{
				ID:             args[0],
				Title:          changedString(cmd, "title", title),
				Description:    changedString(cmd, "description", desc),
				Contact:        changedString(cmd, "contact", contact),
				StartDate:      changedString(cmd, "start", start),
				EndDate:        changedString(cmd, "end", end),
				TaskType:       changedString(cmd, "type", taskType),
				SortIndex:      changedString(cmd, "sort-index", sortIndex),
				ObjectApproval: changedBool(cmd, "object-approval", objectApproval),
				ActorID:        actorID(),
			}
			if cmd.Flags().Changed("option") {
				opts.ResponseOptions = &options
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTaskDefinition(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&contact, "contact", "", "contact")
	cmd.Flags().StringVar(&start, "start", "", "start date")
	cmd.Flags().StringVar(&end, "end", "", "end date")
	cmd.Flags().StringVar(&taskType, "type", "", "text, menu or checkbox")
	cmd.Flags().StringSliceVar(&options, "option", nil, "response options (replaces the list)")
	cmd.Flags().StringVar(&sortIndex, "sort-index", "", "sort key")
	cmd.Flags().BoolVar(&objectApproval, "object-approval", false, "task approves an object")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete task definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTaskDefinition(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}
