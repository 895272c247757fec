package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/specialist"
)

var specialistsDir string

var specialistsCmd = &cobra.Command{
	Use:     "specialists",
	Aliases: []string{"specialist"},
	Short:   "Inspect the specialist registry",
}

var specialistsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List builtin and loaded specialists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		list := reg.List()
		if jsonOutput {
			return printJSON(list)
		}
		for _, d := range list {
			fmt.Printf("%-20s %-8s %-8s %s\n", d.ID, d.DefaultModelTier, d.Source, truncate(d.Description, 60))
		}
		return nil
	},
}

var specialistsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one specialist with its system prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		d, err := reg.Resolve(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(d)
		}
		fmt.Printf("ID:    %s\n", d.ID)
		fmt.Printf("Name:  %s\n", d.Name)
		fmt.Printf("Role:  %s\n", d.Role)
		fmt.Printf("Tier:  %s\n", d.DefaultModelTier)
		if d.Path != "" {
			fmt.Printf("File:  %s\n", d.Path)
		} else {
			fmt.Printf("From:  %s\n", d.Source)
		}
		if d.Description != "" {
			fmt.Printf("\n%s\n", d.Description)
		}
		fmt.Printf("\n%s\n", d.SystemPrompt)
		return nil
	},
}

func init() {
	specialistsCmd.PersistentFlags().StringVar(&specialistsDir, "dir", "", "extra specialist directory")
	specialistsCmd.AddCommand(specialistsListCmd, specialistsShowCmd)
}

func loadRegistry() (*specialist.Registry, error) {
	reg := newApp(cfg, logger).specialists()
	if specialistsDir != "" {
		if _, err := reg.LoadDir(specialistsDir); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
