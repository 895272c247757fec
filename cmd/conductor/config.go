package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging the user config, the project
.conductor.yaml and CONDUCTOR_* environment variables.

Without arguments, displays every value. With a key, displays that value.

User configuration lives at ~/.config/conductor/config.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values := configValues(cfg)
		if len(args) == 1 {
			v, ok := values[strings.ToLower(args[0])]
			if !ok {
				return fmt.Errorf("unknown config key %q", args[0])
			}
			fmt.Println(v)
			return nil
		}
		if jsonOutput {
			return printJSON(values)
		}

		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s: %s\n", k, values[k])
		}
		fmt.Printf("\n# user config:    %s\n", config.GetUserConfigPath())
		if p := config.GetProjectConfigPath(); p != "" {
			fmt.Printf("# project config: %s\n", p)
		}
		return nil
	},
}

// configValues flattens c into dotted keys. The API key is masked.
func configValues(c *config.Config) map[string]string {
	key, _ := c.APIKey()
	values := map[string]string{
		"workspace.id":             c.Workspace.ID,
		"workspace.root":           c.Workspace.Root,
		"database.path":            c.Database.Path,
		"logging.level":            c.Logging.Level,
		"logging.format":           c.Logging.Format,
		"logging.file":             c.Logging.File,
		"specialists.dirs":         strings.Join(c.Specialists.Dirs, ","),
		"specialists.watch":        strconv.FormatBool(c.Specialists.Watch),
		"workflow.step_timeout":    c.Workflow.StepTimeout.String(),
		"workflow.default_adapter": c.Workflow.DefaultAdapter,
		"anthropic.api_key":        config.MaskAPIKey(key),
		"anthropic.model":          c.Anthropic.Model,
		"anthropic.use_bedrock":    strconv.FormatBool(c.Anthropic.UseBedrock),
		"anthropic.aws_region":     c.Anthropic.AWSRegion,
		"anthropic.aws_profile":    c.Anthropic.AWSProfile,
		"anthropic.max_tokens":     strconv.FormatInt(c.Anthropic.MaxTokens, 10),
		"trace.sqlite":             strconv.FormatBool(c.Trace.SQLite),
		"trace.log":                strconv.FormatBool(c.Trace.Log),
		"trace.nats_url":           c.Trace.NATSURL,
		"trace.nats_subject":       c.Trace.NATSSubject,
		"trace.buffer":             strconv.Itoa(c.Trace.Buffer),
	}
	for name, a := range c.Agents {
		values["agents."+name+".command"] = strings.TrimSpace(a.Command + " " + strings.Join(a.Args, " "))
	}
	return values
}
