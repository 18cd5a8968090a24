package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/config"
)

// cfg is the loaded configuration, shared by all subcommands.
var cfg *config.Config

// CheckBackendCLI verifies that the configured agent backend is available
// in PATH. Returns an error with installation instructions if not found.
func CheckBackendCLI() error {
	command := cfg.Agent.Command
	if len(command) == 0 {
		return fmt.Errorf("no agent backend command configured")
	}
	_, err := exec.LookPath(command[0])
	if err != nil {
		return fmt.Errorf("%s not found in PATH\n\n"+
			"Maestro drives agent teams through a CLI backend.\n\n"+
			"If you use Claude Code, install it with:\n"+
			"  npm install -g @anthropic-ai/claude-code\n\n"+
			"Or point maestro at another backend via agent.command in %s",
			command[0], config.GetUserConfigPath())
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Multi-agent team orchestrator",
	Long: `Maestro launches parallel agent teams against one repository,
each in an isolated git worktree, then merges their work back in a
conflict-minimising order and drives the build/test loop to green.

Core capabilities:
- Launches agent teams from named templates
- Isolates each session on its own branch and worktree
- Orders merges so low-overlap work lands first
- Escalates merge conflicts and build failures for a human decision
- Repairs conflicts and failing builds with a one-shot agent`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; explicit config errors are not.
		godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(teamsCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
