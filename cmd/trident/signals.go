package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/trident-go/trident/artifact"
)

var signalsClear bool

var signalsCmd = &cobra.Command{
	Use:   "signals [project]",
	Short: "List or clear the project's workflow signals",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSignalsCmd,
}

func init() {
	projectCmd.AddCommand(signalsCmd)
	signalsCmd.Flags().BoolVar(&signalsClear, "clear", false, "Remove all signal files")
}

func runSignalsCmd(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(projectDir(args))
	if err != nil {
		return err
	}

	if signalsClear {
		removed, err := artifact.ClearAllSignals(root)
		if err != nil {
			return err
		}
		fmt.Printf("cleared %d signal(s)\n", removed)
		return nil
	}

	signals, err := artifact.ListSignals(root)
	if err != nil {
		return err
	}
	if len(signals) == 0 {
		fmt.Println("no signals")
		return nil
	}
	for _, sig := range signals {
		fmt.Printf("%s.%s  run=%s  %s\n", sig.Workflow, sig.Type, sig.RunID,
			sig.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return nil
}
