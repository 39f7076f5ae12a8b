package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/trident-go/trident"
)

var (
	graphFormat    string
	graphDirection string
)

var graphCmd = &cobra.Command{
	Use:   "graph [project]",
	Short: "Render the execution graph",
	Long: `Render a project's execution graph.

Formats:
  ascii    tree view with node kind markers (default)
  mermaid  a mermaid flowchart for embedding in markdown`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraphCmd,
}

func init() {
	projectCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringVar(&graphFormat, "format", "ascii", "Output format: ascii or mermaid")
	graphCmd.Flags().StringVar(&graphDirection, "direction", "TD", "Mermaid direction: TD or LR")
}

func runGraphCmd(cmd *cobra.Command, args []string) error {
	project, err := trident.LoadProject(projectDir(args))
	if err != nil {
		return err
	}
	dag, err := trident.BuildDAG(project)
	if err != nil {
		return err
	}

	switch graphFormat {
	case "ascii":
		fmt.Print(dag.RenderASCII())
	case "mermaid":
		fmt.Print(dag.RenderMermaid(graphDirection))
	default:
		return fmt.Errorf("unknown format %q: want ascii or mermaid", graphFormat)
	}
	return nil
}
