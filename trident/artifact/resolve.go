package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveInputSource loads an input map from one of three source forms:
//
//   - a plain path (absolute or project-relative) to a JSON file
//   - alias:<name>, the published-outputs symlink under .trident/outputs/
//   - run:<id>, a prior run's outputs.json
//
// This is how one workflow's published outputs become another's inputs.
func ResolveInputSource(spec, projectRoot string) (map[string]any, error) {
	var path string
	switch {
	case strings.HasPrefix(spec, "alias:"):
		name := strings.TrimPrefix(spec, "alias:")
		path = filepath.Join(projectRoot, DefaultBaseDirName, "outputs", name+".json")
	case strings.HasPrefix(spec, "run:"):
		id := strings.TrimPrefix(spec, "run:")
		path = filepath.Join(projectRoot, DefaultBaseDirName, "runs", id, "outputs.json")
	case filepath.IsAbs(spec):
		path = spec
	default:
		path = filepath.Join(projectRoot, spec)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resolve input %s: %w", spec, err)
	}
	var inputs map[string]any
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("resolve input %s: %w", spec, err)
	}
	return inputs, nil
}
