package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dshills/trident-go/trident"
	"github.com/dshills/trident-go/trident/artifact"
	"github.com/dshills/trident-go/trident/emit"
)

var (
	runInputs      []string
	runInputFile   string
	runInputFrom   []string
	runEntrypoint  string
	runResume      string
	runStartFrom   string
	runWaitFor     []string
	runTimeout     int
	runEmitSignal  bool
	runPublishTo   string
	runNoArtifacts bool
	runArtifactDir string
	runRunID       string
	runIndexSpec   string
	runDryRun      bool
	runOutput      string
	runTrace       bool
	runExportSpans bool
	runVerbose     bool
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run [project]",
	Short: "Execute a workflow project",
	Long: `Execute a workflow project from its manifest directory.

Inputs come from three sources, later ones winning on collisions:
  --input-from   a JSON file, alias:<name>, or run:<id>  (repeatable)
  --input-file   a JSON file of input values
  --input        key=value pairs; values parse as JSON when possible

Examples:
  trident project run ./my-workflow --input topic="ocean tides"
  trident project run ./my-workflow --input-from alias:research --dry-run
  trident project run ./my-workflow --resume latest --start-from summarize
  trident project run ./my-workflow --wait-for signal:upstream.completed --timeout 600`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	projectCmd.AddCommand(runCmd)

	runCmd.Flags().StringArrayVar(&runInputs, "input", nil, "Input value as key=value (repeatable)")
	runCmd.Flags().StringVar(&runInputFile, "input-file", "", "JSON file of input values")
	runCmd.Flags().StringArrayVar(&runInputFrom, "input-from", nil, "Input source: path, alias:<name>, or run:<id> (repeatable)")
	runCmd.Flags().StringVar(&runEntrypoint, "entrypoint", "", "Entrypoint node (default: manifest entrypoint)")
	runCmd.Flags().StringVar(&runResume, "resume", "", "Resume a run by id, or 'latest'")
	runCmd.Flags().StringVar(&runStartFrom, "start-from", "", "Re-execute from this node, reusing checkpointed ancestors")
	runCmd.Flags().StringArrayVar(&runWaitFor, "wait-for", nil, "Wait for a signal before running (repeatable)")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 3600, "Signal wait timeout in seconds")
	runCmd.Flags().BoolVar(&runEmitSignal, "emit-signal", false, "Emit lifecycle signals even if the manifest disables them")
	runCmd.Flags().StringVar(&runPublishTo, "publish-to", "", "Additionally write final outputs to this path")
	runCmd.Flags().BoolVar(&runNoArtifacts, "no-artifacts", false, "Skip checkpoint, trace, and output persistence")
	runCmd.Flags().StringVar(&runArtifactDir, "artifact-dir", "", "Override the .trident artifact directory")
	runCmd.Flags().StringVar(&runRunID, "run-id", "", "Fix the run id instead of generating one")
	runCmd.Flags().StringVar(&runIndexSpec, "run-index", "", "Run index backend: sqlite:<path> or mysql:<dsn>")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Execute with mock provider outputs")
	runCmd.Flags().StringVar(&runOutput, "output", "pretty", "Output format: json, text, or pretty")
	runCmd.Flags().BoolVar(&runTrace, "trace", false, "Include the per-node execution trace in the output")
	runCmd.Flags().BoolVar(&runExportSpans, "export-spans", false, "Export node spans to <artifacts>/spans.jsonl")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Log node-level progress")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	project, err := trident.LoadProject(projectDir(args))
	if err != nil {
		return err
	}

	if len(runWaitFor) > 0 {
		if _, err := artifact.WaitForSignals(ctx, artifact.WaitConfig{
			Specs:       runWaitFor,
			ProjectRoot: project.Root,
			Timeout:     time.Duration(runTimeout) * time.Second,
		}); err != nil {
			return err
		}
	}

	inputs, err := collectInputs(project.Root)
	if err != nil {
		return err
	}

	index, err := buildRunIndex(runIndexSpec)
	if err != nil {
		return err
	}

	var emitters emit.Multi
	if runVerbose {
		emitters = append(emitters, emit.NewLogEmitter(os.Stderr, runOutput == "json", slog.LevelInfo))
	}
	if runExportSpans {
		otel, done, err := newSpanEmitter(project.Root, runArtifactDir)
		if err != nil {
			return err
		}
		defer done()
		emitters = append(emitters, otel)
	}
	var emitter emit.Emitter = emitters
	if len(emitters) == 0 {
		emitter = emit.Null{}
	}

	var metrics *trident.Metrics
	if runMetricsAddr != "" {
		registry := prometheus.NewRegistry()
		metrics = trident.NewMetrics(registry)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			_ = http.ListenAndServe(runMetricsAddr, mux)
		}()
	}

	result, err := trident.Run(ctx, project, trident.RunOptions{
		Entrypoint:  runEntrypoint,
		Inputs:      inputs,
		DryRun:      runDryRun,
		Verbose:     runVerbose,
		EmitSignals: runEmitSignal,
		RunID:       runRunID,
		Resume:      runResume,
		StartFrom:   runStartFrom,
		ArtifactDir: runArtifactDir,
		NoArtifacts: runNoArtifacts,
		PublishTo:   runPublishTo,
		Emitter:     emitter,
		Metrics:     metrics,
		Index:       index,
	})
	if err != nil {
		return err
	}

	if err := printResult(os.Stdout, result); err != nil {
		return err
	}
	return result.Err
}

// collectInputs merges the three input sources: --input-from files first,
// then --input-file, then --input key=value pairs.
func collectInputs(projectRoot string) (map[string]any, error) {
	inputs := make(map[string]any)

	for _, spec := range runInputFrom {
		loaded, err := artifact.ResolveInputSource(spec, projectRoot)
		if err != nil {
			return nil, err
		}
		for k, v := range loaded {
			inputs[k] = v
		}
	}

	if runInputFile != "" {
		data, err := os.ReadFile(runInputFile)
		if err != nil {
			return nil, fmt.Errorf("input file: %w", err)
		}
		var loaded map[string]any
		if err := json.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("input file %s: %w", runInputFile, err)
		}
		for k, v := range loaded {
			inputs[k] = v
		}
	}

	for _, pair := range runInputs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("input %q: want key=value", pair)
		}
		inputs[key] = parseInputValue(raw)
	}
	return inputs, nil
}

// parseInputValue keeps numbers, booleans, and JSON structures typed;
// anything that does not parse stays a string.
func parseInputValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func printResult(w io.Writer, result *trident.ExecutionResult) error {
	switch runOutput {
	case "json":
		report := map[string]any{
			"run_id":  result.RunID,
			"success": result.Success(),
			"outputs": result.Outputs,
		}
		if runTrace {
			report["trace"] = result.Trace
		}
		if result.Err != nil {
			report["error"] = map[string]any{
				"message":   result.Err.Error(),
				"exit_code": trident.CodeFor(result.Err),
			}
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
	case "text":
		for _, key := range sortedOutputKeys(result.Outputs) {
			fmt.Fprintf(w, "%s: %s\n", key, trident.Stringify(result.Outputs[key]))
		}
	default:
		fmt.Fprintln(w, result.Summary())
		// The node-by-node breakdown appears on request, and always on failure.
		if result.Trace != nil && (runTrace || !result.Success()) {
			fmt.Fprintf(w, "\ntrace:\n")
			for _, nt := range result.Trace.Nodes {
				fmt.Fprintln(w, traceLine(nt))
			}
		}
		if len(result.Outputs) > 0 {
			data, err := json.MarshalIndent(result.Outputs, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "\noutputs:\n%s\n", data)
		}
	}
	return nil
}

// traceLine renders one node of the pretty trace:
//
//	[OK] summarize (812+64 tokens)
//	[FAILED] fetch (0+0 tokens) - invocation failed
func traceLine(nt *trident.NodeTrace) string {
	status := "OK"
	switch {
	case nt.Skipped:
		status = "SKIPPED"
	case nt.Error != "":
		status = "FAILED"
	}
	line := fmt.Sprintf("  [%s] %s (%d+%d tokens)", status, nt.NodeID, nt.TokensIn, nt.TokensOut)
	if nt.Error != "" {
		line += " - " + nt.Error
	}
	return line
}

func sortedOutputKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
