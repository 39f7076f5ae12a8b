// Command trident executes workflow projects: DAGs of prompt, tool, agent,
// and sub-workflow nodes declared in an agent.tml manifest.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/trident-go/trident"
	"github.com/dshills/trident-go/trident/artifact"

	// Vendor providers register themselves with the provider registry.
	_ "github.com/dshills/trident-go/trident/provider/anthropic"
	_ "github.com/dshills/trident-go/trident/provider/google"
	_ "github.com/dshills/trident-go/trident/provider/openai"
)

var version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "trident",
	Short: "Run LLM workflow projects",
	Long: `Trident executes workflow projects: directed acyclic graphs of
input, prompt, tool, agent, branch, and trigger nodes declared in an
agent.tml manifest plus .prompt files.

Examples:
  # Validate a project
  trident project validate ./my-workflow

  # Run with inputs
  trident project run ./my-workflow --input topic="ocean tides"

  # Resume the most recent interrupted run
  trident project run ./my-workflow --resume latest

  # Render the execution graph
  trident project graph ./my-workflow --format mermaid`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage and run workflow projects",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the trident version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("trident %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(trident.CodeFor(err))
	}
}

// projectDir returns the project path argument, defaulting to the current
// directory.
func projectDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

// buildRunIndex parses a --run-index specification. The empty value keeps the
// default file-backed index; "sqlite:<path>" and "mysql:<dsn>" select the SQL
// backends.
func buildRunIndex(spec string) (artifact.RunIndex, error) {
	if spec == "" {
		return nil, nil
	}
	backend, target, ok := strings.Cut(spec, ":")
	if !ok || target == "" {
		return nil, fmt.Errorf("run-index %q: want sqlite:<path> or mysql:<dsn>", spec)
	}
	switch backend {
	case "sqlite":
		return artifact.NewSQLiteRunIndex(target)
	case "mysql":
		return artifact.NewMySQLRunIndex(target)
	}
	return nil, fmt.Errorf("run-index %q: unknown backend %q", spec, backend)
}
