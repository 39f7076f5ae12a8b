package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/trident-go/trident"
	"github.com/dshills/trident-go/trident/artifact"
)

var (
	runsLimit     int
	runsIndexSpec string
)

var runsCmd = &cobra.Command{
	Use:   "runs [project]",
	Short: "List the project's run history",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRunsCmd,
}

func init() {
	projectCmd.AddCommand(runsCmd)
	runsCmd.Flags().IntVar(&runsLimit, "limit", 10, "Show at most this many runs (0 for all)")
	runsCmd.Flags().StringVar(&runsIndexSpec, "run-index", "", "Run index backend: sqlite:<path> or mysql:<dsn>")
}

func runRunsCmd(cmd *cobra.Command, args []string) error {
	project, err := trident.LoadProject(projectDir(args))
	if err != nil {
		return err
	}

	mgr := artifact.NewManager(artifact.Config{
		BaseDir: filepath.Join(project.Root, artifact.DefaultBaseDirName),
	}, "")
	index, err := buildRunIndex(runsIndexSpec)
	if err != nil {
		return err
	}
	mgr.WithIndex(index)

	entries, err := mgr.Runs(runsLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %-10s  %s", e.StartedAt.Format(time.RFC3339), e.Status, e.RunID)
		if e.EndedAt != nil {
			line += fmt.Sprintf("  (%s)", e.EndedAt.Sub(e.StartedAt).Round(time.Second))
		}
		if e.Error != "" {
			line += "  " + e.Error
		}
		fmt.Println(line)
	}
	return nil
}
