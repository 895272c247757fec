package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/errs"
	"github.com/ShayCichocki/conductor/internal/provider"
	"github.com/ShayCichocki/conductor/internal/session"
)

var (
	agentProvider string
	agentCwd      string
	agentMode     string
	agentModel    string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Drive a single ACP agent session",
}

var agentRunCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Start an agent, send one prompt, and stream its updates",
	Long: `Start the configured ACP agent for a provider, send one prompt, and
print every normalized update until the turn ends.

Examples:
  conductor agent run "summarize the repo layout"
  conductor agent run --provider codex --cwd ./service "fix the failing test"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAgent,
}

func init() {
	agentRunCmd.Flags().StringVar(&agentProvider, "provider", "", "agent provider (default: workflow.default_adapter)")
	agentRunCmd.Flags().StringVar(&agentCwd, "cwd", "", "working directory for the agent (default: workspace root)")
	agentRunCmd.Flags().StringVar(&agentMode, "mode", "", "session mode to request")
	agentRunCmd.Flags().StringVar(&agentModel, "model", "", "model to record on the session")
	agentCmd.AddCommand(agentRunCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	name := strings.ToLower(agentProvider)
	if name == "" {
		name = strings.ToLower(cfg.Workflow.DefaultAdapter)
	}
	a := newApp(cfg, logger)
	defer a.Close()

	ac, ok := a.agentCommands()[name]
	if !ok {
		return errs.NotFound("agent adapter", name)
	}
	cwd := agentCwd
	if cwd == "" {
		cwd = cfg.Workspace.Root
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	rec, err := a.traceRecorder()
	if err != nil {
		return err
	}
	mgr := a.sessionManager(rec)

	sess, err := mgr.CreateSession("", cwd, cfg.Workspace.ID, name, session.Options{
		ModeID: agentMode,
		Model:  agentModel,
		Name:   "agent run",
	})
	if err != nil {
		return err
	}
	updates, unsubscribe, err := mgr.Subscribe(sess.SessionID)
	if err != nil {
		return err
	}
	defer unsubscribe()

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for u := range updates {
			printUpdate(u)
			if u.EventType == provider.EventTurnComplete || u.EventType == provider.EventError {
				return
			}
		}
	}()

	if err := mgr.StartAgent(ctx, sess.SessionID, ac.SessionCommand()); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.Canceled) {
			_ = mgr.Cancel(context.Background(), sess.SessionID)
		}
	}()

	stop, err := mgr.Prompt(ctx, sess.SessionID, strings.Join(args, " "))
	if err != nil {
		return err
	}
	// The turn_complete update is published before Prompt returns.
	<-printed
	if err := mgr.Close(sess.SessionID); err != nil {
		return err
	}

	if jsonOutput {
		rec, _ := mgr.Get(sess.SessionID)
		return printJSON(rec)
	}
	fmt.Println()
	if stop == "end_turn" {
		printStatus("✓", "Turn complete", color.FgGreen)
		return nil
	}
	printStatus("⚠", "Agent stopped: "+stop, color.FgYellow)
	return nil
}

func printUpdate(u provider.Update) {
	if jsonOutput {
		return
	}
	switch u.EventType {
	case provider.EventAgentMessage:
		if u.Message != nil {
			fmt.Print(u.Message.Content)
		}
	case provider.EventAgentThought:
		if u.Message != nil {
			color.New(color.Faint).Print(u.Message.Content)
		}
	case provider.EventToolCall, provider.EventToolCallUpdate:
		if tc := u.ToolCall; tc != nil {
			label := tc.Name
			if label == "" {
				label = tc.ID
			}
			status := tc.Status
			if status == "" {
				status = "pending"
			}
			fmt.Printf("\n%s %s (%s)\n", color.CyanString("⚙"), label, status)
		}
	case provider.EventPlanUpdate:
		fmt.Println()
		for _, item := range u.Plan {
			fmt.Printf("  [%s] %s\n", item.Status, item.Content)
		}
	case provider.EventError:
		fmt.Println()
		printStatus("✗", u.Error, color.FgRed)
	}
}
