package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ShellRunner executes shell script tools. Inputs arrive two ways: the whole
// map as JSON on stdin, and each scalar as a TRIDENT_INPUT_<NAME> environment
// variable. Stdout that parses as a JSON object becomes the output map;
// anything else is wrapped as {"output": stdout}.
type ShellRunner struct {
	projectRoot string
}

// NewShellRunner creates a runner resolving script paths against projectRoot.
func NewShellRunner(projectRoot string) *ShellRunner {
	return &ShellRunner{projectRoot: projectRoot}
}

// Execute implements Runner.
func (r *ShellRunner) Execute(ctx context.Context, def Def, inputs map[string]any) (map[string]any, error) {
	if def.Path == "" {
		return nil, fmt.Errorf("tool %s has no path specified", def.ID)
	}
	script := def.Path
	if !filepath.IsAbs(script) {
		script = filepath.Join(r.projectRoot, script)
	}

	payload, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("tool %s: encode inputs: %w", def.ID, err)
	}

	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = r.projectRoot
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = os.Environ()
	for name, value := range inputs {
		cmd.Env = append(cmd.Env, fmt.Sprintf("TRIDENT_INPUT_%s=%v", strings.ToUpper(name), value))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tool %s: %w: %s", def.ID, err, strings.TrimSpace(stderr.String()))
	}

	out := strings.TrimSpace(stdout.String())
	var result map[string]any
	if err := json.Unmarshal([]byte(out), &result); err == nil {
		return result, nil
	}
	return map[string]any{"output": out}, nil
}
