package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE:  runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	fmt.Printf("User config:    %s\n", config.GetUserConfigPath())
	if project := config.GetProjectConfigPath(); project != "" {
		fmt.Printf("Project config: %s\n", project)
	}
	fmt.Println()

	fmt.Printf("agent.command:          %s\n", strings.Join(cfg.Agent.Command, " "))
	key, source, err := config.ResolveAPIKey(cfg)
	if err != nil {
		fmt.Printf("agent.api_key:          (not set)\n")
	} else {
		fmt.Printf("agent.api_key:          %s (%s)\n",
			config.MaskAPIKey(key), source)
	}
	fmt.Printf("teams.file:             %s\n", cfg.Teams.File)
	fmt.Printf("worktree.subdir:        %s\n", cfg.Worktree.Subdir)
	fmt.Printf("worktree.branch_prefix: %s\n", cfg.Worktree.BranchPrefix)
	if cfg.Defaults.BuildCommand != "" {
		fmt.Printf("defaults.build_command: %s\n", cfg.Defaults.BuildCommand)
	}
	if cfg.Defaults.TestCommand != "" {
		fmt.Printf("defaults.test_command:  %s\n", cfg.Defaults.TestCommand)
	}

	if len(cfg.GMProjects) > 0 {
		fmt.Println("\nProject presets (maestro run --preset <name>):")
		names := make([]string, 0, len(cfg.GMProjects))
		for name := range cfg.GMProjects {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := cfg.GMProjects[name]
			fmt.Printf("  %s (%d agents)\n", name, len(p.Agents))
		}
	}
	return nil
}
