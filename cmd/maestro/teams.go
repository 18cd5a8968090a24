package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/pkg/models"
)

var teamsRepo string

var teamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "List the team templates available to run",
	RunE:  listTeams,
}

func init() {
	teamsCmd.Flags().StringVar(&teamsRepo, "repo", "", "Repository path (defaults to the current directory)")
}

func listTeams(cmd *cobra.Command, args []string) error {
	repo, err := resolveRepo(teamsRepo)
	if err != nil {
		return err
	}

	path := cfg.TeamsPath(repo)
	templates, err := models.LoadTemplates(path)
	if err != nil {
		return err
	}
	if len(templates) == 0 {
		fmt.Printf("No team templates in %s.\n", path)
		return nil
	}

	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("Teams (%s):\n", path)
	for _, name := range names {
		t := templates[name]
		fmt.Printf("  %s", t.Name)
		if t.Description != "" {
			fmt.Printf(" - %s", t.Description)
		}
		fmt.Printf(" (timeout %ds)\n", t.TimeoutSeconds())
		for _, tm := range t.Teammates {
			fmt.Printf("    %s: %s\n", tm.Name, tm.Role)
		}
	}
	return nil
}
