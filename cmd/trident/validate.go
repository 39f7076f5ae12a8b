package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/trident-go/trident"
)

var validateStrict bool

var validateCmd = &cobra.Command{
	Use:   "validate [project]",
	Short: "Validate a project's manifest, prompts, and graph",
	Long: `Validate a workflow project: manifest syntax, prompt frontmatter,
graph acyclicity, and edge mapping compatibility.

Mapping problems are warnings by default; --strict turns them into errors.

Exit codes:
  0 - project is valid
  2 - validation failed`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidateCmd,
}

func init() {
	projectCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "Treat mapping warnings as errors")
}

func runValidateCmd(cmd *cobra.Command, args []string) error {
	project, err := trident.LoadProject(projectDir(args))
	if err != nil {
		return err
	}

	warnings, err := trident.ValidateProject(project, validateStrict)
	for _, w := range warnings {
		fmt.Printf("warning: %s\n", w)
	}
	if err != nil {
		return err
	}

	dag, err := trident.BuildDAG(project)
	if err != nil {
		return err
	}
	fmt.Printf("%s: valid (%d nodes, %d edges, %d levels)\n",
		project.Name, len(dag.Nodes), len(project.Edges), len(dag.Levels))
	return nil
}
