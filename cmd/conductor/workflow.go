package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/conductor/internal/caller"
	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/internal/workflow"
)

var (
	wfPayload     []string
	wfPayloadFile string
	wfSpecialists string
)

var workflowCmd = &cobra.Command{
	Use:     "workflow",
	Aliases: []string{"wf"},
	Short:   "Run and validate workflow definitions",
}

var workflowRunCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a workflow file",
	Long: `Run each step of a workflow in order, sending it to its specialist.

Trigger payload values come from --payload-file (YAML or JSON) and then
--payload key=value pairs, which win on conflicts.

Examples:
  conductor workflow run review.yaml --payload pr=42
  conductor workflow run review.yaml --payload-file event.json --specialists ./agents`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Check workflow files without running them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			def, err := workflow.LoadFile(path)
			if err == nil {
				err = def.Validate()
			}
			if err != nil {
				failed++
				printStatus("✗", fmt.Sprintf("%s: %v", path, err), color.FgRed)
				continue
			}
			printStatus("✓", fmt.Sprintf("%s: %s (%d steps)", path, def.Name, len(def.Steps)), color.FgGreen)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d workflows invalid", failed, len(args))
		}
		return nil
	},
}

var workflowTraceCmd = &cobra.Command{
	Use:   "trace <run-id>",
	Short: "Print the recorded trace of a workflow run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cfg, logger)
		defer a.Close()
		db, err := a.database()
		if err != nil {
			return err
		}
		events, err := state.NewTraceStore(db).ListByRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(events)
		}
		if len(events) == 0 {
			fmt.Printf("No trace recorded for run %s.\n", args[0])
			return nil
		}
		for _, ev := range events {
			label := string(ev.Kind)
			if ev.Step != "" {
				label += " " + ev.Step
			}
			fmt.Printf("%s  %-32s %s\n", ev.Timestamp.Local().Format("15:04:05.000"), label, truncate(string(ev.Payload), 80))
		}
		return nil
	},
}

func init() {
	workflowRunCmd.Flags().StringArrayVarP(&wfPayload, "payload", "p", nil, "trigger payload entry key=value (repeatable)")
	workflowRunCmd.Flags().StringVar(&wfPayloadFile, "payload-file", "", "YAML or JSON file holding the trigger payload")
	workflowRunCmd.Flags().StringVar(&wfSpecialists, "specialists", "", "specialist directory to load for this run")

	workflowCmd.AddCommand(workflowRunCmd, workflowValidateCmd, workflowTraceCmd)
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	payload, err := readPayload(wfPayloadFile, wfPayload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nReceived interrupt, cancelling workflow...")
			cancel()
		case <-ctx.Done():
		}
	}()

	a := newApp(cfg, logger)
	defer a.Close()

	rec, err := a.traceRecorder()
	if err != nil {
		return err
	}
	registry := a.specialists()
	a.watchSpecialists(ctx, registry)
	sessions := a.sessionManager(rec)
	stepCaller, api := a.stepCaller(sessions)

	exec := workflow.NewExecutor(stepCaller,
		workflow.WithRegistry(registry),
		workflow.WithRecorder(rec),
		workflow.WithLogger(logger),
		workflow.WithStepTimeout(cfg.Workflow.StepTimeout),
	)
	res, err := exec.RunFile(ctx, args[0], workflow.RunOptions{Payload: payload, SpecialistDir: wfSpecialists})
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		printRunResult(res, api)
	}
	if !res.Success {
		return fmt.Errorf("workflow %s failed", res.Workflow)
	}
	return nil
}

func printRunResult(res *workflow.Result, api *caller.APICaller) {
	fmt.Printf("Workflow %s (run %s)\n\n", res.Workflow, res.RunID)
	for _, s := range res.Steps {
		attempts := ""
		if s.Attempts > 1 {
			attempts = fmt.Sprintf(", %d attempts", s.Attempts)
		}
		line := fmt.Sprintf("%s [%s] (%s%s)", s.StepName, s.Specialist, s.Duration.Round(1e6), attempts)
		if s.Success {
			printStatus("✓", line, color.FgGreen)
			if s.Output != "" {
				fmt.Printf("    %s\n", truncate(s.Output, 100))
			}
		} else {
			printStatus("✗", line, color.FgRed)
		}
	}
	fmt.Println()

	switch {
	case res.Success:
		printStatus("✓", fmt.Sprintf("Completed in %s", res.Duration.Round(1e6)), color.FgGreen)
	case res.Cancelled:
		printStatus("⚠", "Cancelled", color.FgYellow)
	case res.Aborted:
		printStatus("✗", "Aborted", color.FgRed)
	default:
		printStatus("✗", "Finished with failures", color.FgRed)
	}
	for _, f := range res.Failures() {
		fmt.Printf("    %s: %s\n", f.StepName, f.Error)
	}

	if api != nil && api.Tracker().Calls() > 0 {
		in, out := api.Tracker().Total()
		fmt.Printf("\nTokens: %d in, %d out over %d API calls\n", in, out, api.Tracker().Calls())
	}
}

// readPayload merges the payload file with key=value pairs. Values that parse
// as YAML scalars keep their type, so count=3 is a number.
func readPayload(file string, pairs []string) (map[string]any, error) {
	payload := map[string]any{}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		if err := yaml.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("parse payload: %w", err)
		}
		if payload == nil {
			payload = map[string]any{}
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.New("payload entries must look like key=value, got " + strconv.Quote(pair))
		}
		payload[key] = scalar(value)
	}
	return payload, nil
}

func scalar(s string) any {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	switch v.(type) {
	case bool, int, float64:
		return v
	default:
		return s
	}
}
