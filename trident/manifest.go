package trident

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest file names, searched in order when a directory is given.
var manifestCandidates = []string{"agent.tml", "trident.tml", "trident.yaml"}

type manifestFile struct {
	Trident     string                    `yaml:"trident"`
	Name        string                    `yaml:"name"`
	Version     string                    `yaml:"version"`
	Description string                    `yaml:"description"`
	Defaults    map[string]any            `yaml:"defaults"`
	Entrypoints []string                  `yaml:"entrypoints"`
	Nodes       map[string]map[string]any `yaml:"nodes"`
	Tools       map[string]map[string]any `yaml:"tools"`
	Edges       map[string]map[string]any `yaml:"edges"`

	Orchestration struct {
		Publish struct {
			Path  string `yaml:"path"`
			Alias string `yaml:"alias"`
		} `yaml:"publish"`
		Export struct {
			Path string `yaml:"path"`
		} `yaml:"export"`
		Signals struct {
			Enabled   bool   `yaml:"enabled"`
			Directory string `yaml:"directory"`
		} `yaml:"signals"`
	} `yaml:"orchestration"`

	Env map[string]map[string]any `yaml:"env"`
}

// LoadProject loads a project from a manifest file or a directory containing
// one. Directories are searched for agent.tml, then trident.tml, then
// trident.yaml. A .env file next to the manifest is loaded into the process
// environment first, without overriding variables already set.
//
// The returned project has every .prompt file under prompts/ parsed, implicit
// input/output nodes synthesized for edge endpoints no section declares, and a
// default entrypoint chosen when the manifest names none.
func LoadProject(path string) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &ParseError{Path: path, Message: "resolve path", Cause: err}
	}

	var manifestPath, root string
	info, err := os.Stat(abs)
	switch {
	case err != nil:
		return nil, &ParseError{Path: abs, Message: "not found", Cause: err}
	case info.IsDir():
		root = abs
		for _, candidate := range manifestCandidates {
			p := filepath.Join(root, candidate)
			if _, err := os.Stat(p); err == nil {
				manifestPath = p
				break
			}
		}
		if manifestPath == "" {
			return nil, &ParseError{
				Path:    root,
				Message: fmt.Sprintf("no %s found", strings.Join(manifestCandidates, ", ")),
			}
		}
	default:
		manifestPath = abs
		root = filepath.Dir(abs)
	}

	loadDotenv(filepath.Join(root, ".env"))

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ParseError{Path: manifestPath, Message: "cannot read manifest", Cause: err}
	}
	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, &ParseError{Path: manifestPath, Message: "cannot parse manifest", Cause: err}
	}

	if mf.Trident == "" {
		return nil, &ValidationError{Message: "missing 'trident' version in manifest"}
	}
	if mf.Name == "" {
		return nil, &ValidationError{Message: "missing 'name' in manifest"}
	}

	p := newProject(mf.Name, root)
	if mf.Version != "" {
		p.Version = mf.Version
	}
	p.Description = mf.Description
	p.Entrypoints = mf.Entrypoints
	p.Defaults = parseDefaults(mf.Defaults)
	p.Env = mf.Env

	p.Orchestration.Publish.Path = mf.Orchestration.Publish.Path
	p.Orchestration.Publish.Alias = mf.Orchestration.Publish.Alias
	p.Orchestration.Export.Path = mf.Orchestration.Export.Path
	p.Orchestration.Signals.Enabled = mf.Orchestration.Signals.Enabled
	p.Orchestration.Signals.Directory = mf.Orchestration.Signals.Directory

	for _, id := range sortedKeys(mf.Nodes) {
		if err := parseNode(p, id, mf.Nodes[id]); err != nil {
			return nil, err
		}
	}

	for _, id := range sortedKeys(mf.Tools) {
		spec := mf.Tools[id]
		p.Tools[id] = &ToolDef{
			ID:          id,
			Type:        getString(spec, "type", "python"),
			Module:      getString(spec, "module", ""),
			Function:    getString(spec, "function", ""),
			Path:        getString(spec, "path", ""),
			Description: getString(spec, "description", ""),
		}
	}

	for _, id := range sortedKeys(mf.Edges) {
		spec := mf.Edges[id]
		edge := &Edge{
			ID:        id,
			FromNode:  getString(spec, "from", ""),
			ToNode:    getString(spec, "to", ""),
			Condition: getString(spec, "condition", ""),
		}
		if raw, ok := spec["mapping"].(map[string]any); ok {
			for _, target := range sortedKeys(raw) {
				edge.Mappings = append(edge.Mappings, EdgeMapping{
					TargetVar:  target,
					SourceExpr: fmt.Sprintf("%v", raw[target]),
				})
			}
		}
		p.Edges[id] = edge
	}

	if err := loadPrompts(p); err != nil {
		return nil, err
	}

	synthesizeImplicitNodes(p)

	// Default entrypoint: the first input node in id order.
	if len(p.Entrypoints) == 0 && len(p.InputNodes) > 0 {
		ids := sortedKeys(p.InputNodes)
		p.Entrypoints = []string{ids[0]}
	}

	return p, nil
}

func parseNode(p *Project, id string, spec map[string]any) error {
	switch kind := getString(spec, "type", "prompt"); kind {
	case "input":
		node := &InputNode{ID: id, Schema: make(map[string]FieldSpec)}
		if raw, ok := spec["schema"].(map[string]any); ok {
			for name, fspec := range raw {
				node.Schema[name] = parseFieldSpec(fspec)
			}
		}
		p.InputNodes[id] = node

	case "output":
		p.OutputNodes[id] = &OutputNode{
			ID:     id,
			Format: getString(spec, "format", "json"),
		}

	case "tool":
		return &ValidationError{Message: fmt.Sprintf(
			"node %q has type 'tool', but tools belong in the 'tools:' section, not 'nodes:'", id)}

	case "agent":
		agent := &AgentNode{
			ID:             id,
			PromptPath:     getString(spec, "prompt", fmt.Sprintf("prompts/%s.prompt", id)),
			Provider:       getString(spec, "provider", ""),
			Model:          getString(spec, "model", ""),
			AllowedTools:   getStringList(spec["allowed_tools"]),
			MaxTurns:       getInt(spec, "max_turns", 50),
			PermissionMode: getString(spec, "permission_mode", "acceptEdits"),
			CWD:            getString(spec, "cwd", ""),
		}
		if raw, ok := spec["mcp_servers"].(map[string]any); ok {
			agent.MCPServers = make(map[string]MCPServerConfig, len(raw))
			for name, srv := range raw {
				m, ok := srv.(map[string]any)
				if !ok {
					continue
				}
				env := make(map[string]string)
				if e, ok := m["env"].(map[string]any); ok {
					for k, v := range e {
						env[k] = fmt.Sprintf("%v", v)
					}
				}
				agent.MCPServers[name] = MCPServerConfig{
					Command: getString(m, "command", ""),
					Args:    getStringList(m["args"]),
					Env:     env,
				}
			}
		}
		p.Agents[id] = agent

	case "branch":
		workflow := getString(spec, "workflow", "")
		if workflow == "" {
			return &ValidationError{Message: fmt.Sprintf("branch node %q missing required 'workflow' path", id)}
		}
		p.Branches[id] = &BranchNode{
			ID:            id,
			WorkflowPath:  workflow,
			Condition:     getString(spec, "condition", ""),
			LoopWhile:     getString(spec, "loop_while", ""),
			MaxIterations: getInt(spec, "max_iterations", 10),
		}

	case "trigger":
		workflow := getString(spec, "workflow", "")
		if workflow == "" {
			return &ValidationError{Message: fmt.Sprintf("trigger node %q missing required 'workflow' path", id)}
		}
		p.Triggers[id] = &TriggerNode{
			ID:           id,
			WorkflowPath: workflow,
			Mode:         getString(spec, "mode", TriggerFireAndForget),
			PassOutputs:  getBool(spec, "pass_outputs", false),
			EmitSignal:   getBool(spec, "emit_signal", false),
			Condition:    getString(spec, "condition", ""),
		}

	case "prompt":
		// Prompt nodes come from .prompt files; a nodes: entry is ignored.

	default:
		return &ValidationError{Message: fmt.Sprintf("node %q has unknown type %q", id, kind)}
	}
	return nil
}

// loadPrompts parses every prompts/*.prompt file. A prompt whose id matches a
// declared agent node attaches to the agent instead of becoming its own node.
func loadPrompts(p *Project) error {
	dir := filepath.Join(p.Root, "prompts")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &ParseError{Path: dir, Message: "cannot read prompts directory", Cause: err}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".prompt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		node, err := ParsePromptFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if agent, ok := p.Agents[node.ID]; ok {
			agent.Prompt = node
			continue
		}
		p.Prompts[node.ID] = node
	}

	// Agents whose prompt file lives outside prompts/ or uses a different id.
	for _, agent := range p.Agents {
		if agent.Prompt != nil {
			continue
		}
		path := agent.PromptPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.Root, path)
		}
		if _, err := os.Stat(path); err != nil {
			continue // resolved again at dispatch; missing file fails there
		}
		node, err := ParsePromptFile(path)
		if err != nil {
			return err
		}
		agent.Prompt = node
	}
	return nil
}

// synthesizeImplicitNodes creates input nodes for edge sources and output
// nodes for edge targets that no section declares.
func synthesizeImplicitNodes(p *Project) {
	known := make(map[string]struct{})
	for _, id := range p.NodeIDs() {
		known[id] = struct{}{}
	}

	froms := make(map[string]struct{})
	tos := make(map[string]struct{})
	for _, e := range p.Edges {
		froms[e.FromNode] = struct{}{}
		tos[e.ToNode] = struct{}{}
	}

	for _, id := range sortedKeys(froms) {
		if _, ok := known[id]; !ok {
			p.InputNodes[id] = &InputNode{ID: id, Schema: make(map[string]FieldSpec)}
			known[id] = struct{}{}
		}
	}
	for _, id := range sortedKeys(tos) {
		if _, ok := known[id]; !ok {
			p.OutputNodes[id] = &OutputNode{ID: id, Format: "json"}
		}
	}
}

// loadDotenv loads KEY=VALUE lines into the process environment. Existing
// variables win. Single or double quotes around values are stripped.
func loadDotenv(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
}

// parseFieldSpec accepts both schema syntaxes: the compact string form
// "type, description" and the mapping form {type, description}.
func parseFieldSpec(v any) FieldSpec {
	switch t := v.(type) {
	case string:
		if typ, desc, ok := strings.Cut(t, ","); ok {
			return FieldSpec{Type: strings.TrimSpace(typ), Description: strings.TrimSpace(desc)}
		}
		return FieldSpec{Type: strings.TrimSpace(t)}
	case map[string]any:
		return FieldSpec{
			Type:        getString(t, "type", "string"),
			Description: getString(t, "description", ""),
		}
	default:
		return FieldSpec{Type: fmt.Sprintf("%v", v)}
	}
}

func parseDefaults(m map[string]any) Defaults {
	var d Defaults
	if m == nil {
		return d
	}
	d.Model = getString(m, "model", "")
	if f, ok := asFloat(m["temperature"]); ok {
		d.Temperature = &f
	}
	if n, ok := asInt(m["max_tokens"]); ok {
		d.MaxTokens = &n
	}
	return d
}

func getString(m map[string]any, key, def string) string {
	if v, ok := m[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return def
}

func getBool(m map[string]any, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

func getInt(m map[string]any, key string, def int) int {
	if n, ok := asInt(m[key]); ok {
		return n
	}
	return def
}

func getStringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case []string:
		return t
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	}
	return 0, false
}
