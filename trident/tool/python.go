package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// PythonRunner executes python tools in a subprocess. The tool's function is
// called with the gathered inputs as keyword arguments; its return value
// comes back as JSON on stdout, with non-dict values wrapped as
// {"output": value}.
type PythonRunner struct {
	projectRoot string
	interpreter string
}

// NewPythonRunner creates a runner resolving modules against projectRoot.
func NewPythonRunner(projectRoot string) *PythonRunner {
	return &PythonRunner{projectRoot: projectRoot, interpreter: "python3"}
}

// WithInterpreter overrides the python binary.
func (r *PythonRunner) WithInterpreter(path string) *PythonRunner {
	r.interpreter = path
	return r
}

// The shim loads the module by file path, calls the function with the JSON
// payload from stdin as kwargs, and prints the result as JSON.
const pythonShim = `
import importlib.util, json, sys
req = json.load(sys.stdin)
spec = importlib.util.spec_from_file_location("trident_tool", req["module_path"])
mod = importlib.util.module_from_spec(spec)
spec.loader.exec_module(mod)
fn = getattr(mod, req["function"], None)
if fn is None or not callable(fn):
    print(json.dumps({"__error__": "function %r not found" % req["function"]}))
    sys.exit(0)
try:
    result = fn(**req["inputs"])
except Exception as e:
    print(json.dumps({"__error__": str(e)}))
    sys.exit(0)
if not isinstance(result, dict):
    result = {"output": result}
print(json.dumps(result, default=str))
`

// Execute implements Runner.
func (r *PythonRunner) Execute(ctx context.Context, def Def, inputs map[string]any) (map[string]any, error) {
	modulePath, err := r.resolveModule(def)
	if err != nil {
		return nil, err
	}
	function := def.Function
	if function == "" {
		function = "execute"
	}

	request, err := json.Marshal(map[string]any{
		"module_path": modulePath,
		"function":    function,
		"inputs":      inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("tool %s: encode request: %w", def.ID, err)
	}

	cmd := exec.CommandContext(ctx, r.interpreter, "-c", pythonShim)
	cmd.Dir = r.projectRoot
	cmd.Stdin = bytes.NewReader(request)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tool %s: %w: %s", def.ID, err, strings.TrimSpace(stderr.String()))
	}

	var result map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("tool %s: invalid output: %w", def.ID, err)
	}
	if msg, failed := result["__error__"]; failed {
		return nil, fmt.Errorf("tool %s: %v", def.ID, msg)
	}
	return result, nil
}

func (r *PythonRunner) resolveModule(def Def) (string, error) {
	switch {
	case def.Path != "":
		if filepath.IsAbs(def.Path) {
			return def.Path, nil
		}
		return filepath.Join(r.projectRoot, def.Path), nil
	case def.Module != "":
		// Dotted module names resolve under tools/: "text.clean" becomes
		// tools/text/clean.py.
		rel := strings.ReplaceAll(def.Module, ".", string(filepath.Separator)) + ".py"
		return filepath.Join(r.projectRoot, "tools", rel), nil
	}
	return "", fmt.Errorf("tool %s has no module or path specified", def.ID)
}
