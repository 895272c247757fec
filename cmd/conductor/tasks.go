package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/tasks"
	"github.com/ShayCichocki/conductor/internal/verify"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	taskID        string
	taskObjective string
	taskScope     string
	taskCriteria  []string
	taskVerify    []string
	taskDeps      []string
	taskGroup     string
	taskAssignee  string
	taskVerdict   string
	verifyTimeout time.Duration
)

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	Aliases: []string{"task"},
	Short:   "Manage the workspace task graph",
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a pending task",
	Long: `Create a pending task in the current workspace.

Dependencies may name tasks that do not exist yet; the task stays blocked
until every dependency is completed.

Examples:
  conductor tasks add "Write parser" --objective "Parse workflow YAML"
  conductor tasks add "Wire CLI" --dep <parser-task-id> --group cli`,
	Args: cobra.ExactArgs(1),
	RunE: runTasksAdd,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every task in the workspace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTasks(cmd, func(svc *tasks.Service, ws string) error {
			list, err := svc.List(cmd.Context(), ws)
			if err != nil {
				return err
			}
			return printTasks(list)
		})
	},
}

var tasksReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List pending tasks whose dependencies are all completed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTasks(cmd, func(svc *tasks.Service, ws string) error {
			ready, err := svc.FindReady(cmd.Context(), ws)
			if err != nil {
				return err
			}
			return printTasks(ready)
		})
	},
}

var tasksBlockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List pending tasks that are waiting, with their blockers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTasks(cmd, func(svc *tasks.Service, ws string) error {
			blocked, err := svc.Blocked(cmd.Context(), ws)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(blocked)
			}
			if len(blocked) == 0 {
				fmt.Println("No blocked tasks.")
				return nil
			}
			for _, b := range blocked {
				fmt.Printf("%s  %s\n", shortID(b.Task.ID), b.Task.Title)
				for _, bl := range b.Blockers {
					detail := string(bl.Reason)
					if bl.Status != "" {
						detail += " (" + string(bl.Status) + ")"
					}
					fmt.Printf("    waiting on %s: %s\n", bl.DependencyID, detail)
				}
			}
			return nil
		})
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTasks(cmd, func(svc *tasks.Service, _ string) error {
			t, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(t)
			}
			printTask(t)
			return nil
		})
	},
}

var tasksStatusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Set a task's status",
	Long: `Set a task's status. Valid statuses:
  pending, in_progress, review_required, completed, needs_fix, blocked, cancelled`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := models.ParseTaskStatus(args[1])
		if err != nil {
			return err
		}
		return withTasks(cmd, func(svc *tasks.Service, _ string) error {
			t, err := svc.UpdateStatus(cmd.Context(), args[0], status)
			if err != nil {
				return err
			}
			return reportTask(t, fmt.Sprintf("%s is now %s", shortID(t.ID), t.Status))
		})
	},
}

var tasksCompleteCmd = &cobra.Command{
	Use:   "complete <id> [summary]",
	Short: "Mark a task completed",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary := ""
		if len(args) > 1 {
			summary = args[1]
		}
		return withTasks(cmd, func(svc *tasks.Service, _ string) error {
			t, err := svc.Complete(cmd.Context(), args[0], summary, models.VerificationVerdict(taskVerdict))
			if err != nil {
				return err
			}
			return reportTask(t, fmt.Sprintf("%s completed", shortID(t.ID)))
		})
	},
}

var tasksAssignCmd = &cobra.Command{
	Use:   "assign <id> <agent>",
	Short: "Record which agent is working on a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTasks(cmd, func(svc *tasks.Service, _ string) error {
			t, err := svc.Assign(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return reportTask(t, fmt.Sprintf("%s assigned to %s", shortID(t.ID), t.AssignedTo))
		})
	},
}

var tasksVerifyCmd = &cobra.Command{
	Use:   "verify <id>",
	Short: "Run a task's verification commands and record the verdict",
	Long: `Run each verification command of a task with "sh -c" in the workspace
root. When every command exits 0 the task is approved and completed;
otherwise it is marked not_approved and moves to needs_fix.`,
	Args: cobra.ExactArgs(1),
	RunE: runTasksVerify,
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTasks(cmd, func(svc *tasks.Service, _ string) error {
			if err := svc.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			printStatus("✓", "Deleted "+args[0], color.FgGreen)
			return nil
		})
	},
}

func init() {
	f := tasksAddCmd.Flags()
	f.StringVar(&taskID, "id", "", "task id (default: generated)")
	f.StringVar(&taskObjective, "objective", "", "what the task must achieve")
	f.StringVar(&taskScope, "scope", "", "parts of the workspace the task may touch")
	f.StringArrayVar(&taskCriteria, "criteria", nil, "acceptance criterion (repeatable)")
	f.StringArrayVar(&taskVerify, "verify", nil, "verification command (repeatable)")
	f.StringSliceVar(&taskDeps, "dep", nil, "dependency task id (repeatable or comma separated)")
	f.StringVar(&taskGroup, "group", "", "parallel group label")
	f.StringVar(&taskAssignee, "assign", "", "agent working on the task")

	tasksCompleteCmd.Flags().StringVar(&taskVerdict, "verdict", "", "verification verdict: approved, not_approved, blocked")
	tasksVerifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", verify.DefaultTimeout, "timeout per verification command")

	tasksCmd.AddCommand(tasksAddCmd, tasksListCmd, tasksReadyCmd, tasksBlockedCmd,
		tasksShowCmd, tasksStatusCmd, tasksCompleteCmd, tasksAssignCmd, tasksVerifyCmd, tasksDeleteCmd)
}

func runTasksAdd(cmd *cobra.Command, args []string) error {
	return withTasks(cmd, func(svc *tasks.Service, ws string) error {
		t, err := svc.Create(cmd.Context(), tasks.CreateInput{
			ID:                   taskID,
			WorkspaceID:          ws,
			Title:                args[0],
			Objective:            taskObjective,
			Scope:                taskScope,
			AcceptanceCriteria:   taskCriteria,
			VerificationCommands: taskVerify,
			Dependencies:         taskDeps,
			ParallelGroup:        taskGroup,
			AssignedTo:           taskAssignee,
		})
		if err != nil {
			return err
		}
		return reportTask(t, fmt.Sprintf("Created %s  %s", t.ID, t.Title))
	})
}

func runTasksVerify(cmd *cobra.Command, args []string) error {
	return withTasks(cmd, func(svc *tasks.Service, _ string) error {
		ctx := cmd.Context()
		t, err := svc.Get(ctx, args[0])
		if err != nil {
			return err
		}
		v := verify.New(cfg.Workspace.Root, verify.WithTimeout(verifyTimeout), verify.WithLogger(logger))
		report, err := v.Verify(ctx, t)
		if err != nil {
			return err
		}
		t, err = svc.RecordVerdict(ctx, t.ID, report.Verdict())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(report)
		}

		for _, r := range report.Results {
			if r.Passed {
				printStatus("✓", r.Command, color.FgGreen)
				continue
			}
			detail := fmt.Sprintf("exit %d", r.ExitCode)
			if r.Error != "" {
				detail = r.Error
			}
			printStatus("✗", fmt.Sprintf("%s (%s)", r.Command, detail), color.FgRed)
			if out := strings.TrimSpace(r.Output); out != "" {
				fmt.Printf("    %s\n", truncate(out, 100))
			}
		}
		if len(report.Results) == 0 {
			fmt.Println("No verification commands.")
		}
		fmt.Printf("\n%s is %s (%s)\n", shortID(t.ID), statusColor(t.Status).Sprint(t.Status), t.VerificationVerdict)
		return nil
	})
}

func withTasks(cmd *cobra.Command, fn func(*tasks.Service, string) error) error {
	ws, err := requireWorkspace()
	if err != nil {
		return err
	}
	a := newApp(cfg, logger)
	defer a.Close()

	svc, err := a.taskService()
	if err != nil {
		return err
	}
	return fn(svc, ws)
}

func reportTask(t *models.Task, message string) error {
	if jsonOutput {
		return printJSON(t)
	}
	printStatus("✓", message, color.FgGreen)
	return nil
}

func printTasks(list []*models.Task) error {
	if jsonOutput {
		if list == nil {
			list = []*models.Task{}
		}
		return printJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("No tasks.")
		return nil
	}
	for _, t := range list {
		fmt.Printf("%s  %s  %s\n", shortID(t.ID), statusColor(t.Status).Sprintf("%-15s", t.Status), truncate(t.Title, 60))
	}
	return nil
}

func printTask(t *models.Task) {
	fmt.Printf("ID:         %s\n", t.ID)
	fmt.Printf("Title:      %s\n", t.Title)
	fmt.Printf("Status:     %s\n", statusColor(t.Status).Sprint(t.Status))
	fmt.Printf("Workspace:  %s\n", t.WorkspaceID)
	if t.Objective != "" {
		fmt.Printf("Objective:  %s\n", t.Objective)
	}
	if t.Scope != "" {
		fmt.Printf("Scope:      %s\n", t.Scope)
	}
	if len(t.Dependencies) > 0 {
		fmt.Printf("Depends on: %s\n", strings.Join(t.Dependencies, ", "))
	}
	if t.ParallelGroup != "" {
		fmt.Printf("Group:      %s\n", t.ParallelGroup)
	}
	if t.AssignedTo != "" {
		fmt.Printf("Assigned:   %s\n", t.AssignedTo)
	}
	for _, c := range t.AcceptanceCriteria {
		fmt.Printf("  - %s\n", c)
	}
	for _, v := range t.VerificationCommands {
		fmt.Printf("  $ %s\n", v)
	}
	if t.CompletionSummary != "" {
		fmt.Printf("Summary:    %s\n", t.CompletionSummary)
	}
	if t.VerificationVerdict != "" {
		fmt.Printf("Verdict:    %s\n", t.VerificationVerdict)
	}
	fmt.Printf("Created:    %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:    %s\n", t.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
}

func statusColor(s models.TaskStatus) *color.Color {
	switch s {
	case models.TaskStatusCompleted:
		return color.New(color.FgGreen)
	case models.TaskStatusInProgress, models.TaskStatusReviewRequired:
		return color.New(color.FgCyan)
	case models.TaskStatusNeedsFix, models.TaskStatusBlocked:
		return color.New(color.FgYellow)
	case models.TaskStatusCancelled:
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
