package trident

// Project is the in-memory representation of a parsed project: the manifest,
// the prompt files, and everything the DAG builder and executor need. Node
// kinds are a closed set; each kind lives in its own map keyed by node id,
// and ids are unique across all kinds.

// NodeKind identifies one of the seven node variants.
type NodeKind string

const (
	KindInput   NodeKind = "input"
	KindOutput  NodeKind = "output"
	KindPrompt  NodeKind = "prompt"
	KindTool    NodeKind = "tool"
	KindAgent   NodeKind = "agent"
	KindBranch  NodeKind = "branch"
	KindTrigger NodeKind = "trigger"
)

// FieldSpec describes a single schema field: its declared type and a
// human-readable description. Types are string, number, integer, boolean,
// array, object.
type FieldSpec struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// InputField describes one input of a prompt or agent node.
type InputField struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// OutputSchema declares the shape of a prompt/agent node's output.
// Format is "text" or "json"; Fields is only meaningful for json.
type OutputSchema struct {
	Format string               `json:"format"`
	Fields map[string]FieldSpec `json:"fields,omitempty"`
}

// PromptNode is a parsed .prompt file: frontmatter plus template body.
type PromptNode struct {
	ID          string
	Name        string
	Description string
	Model       string
	Temperature *float64
	MaxTokens   *int
	Inputs      map[string]InputField
	Output      OutputSchema
	Body        string
	FilePath    string
}

// InputNode holds externally supplied values. The schema documents the
// expected fields; values arrive through RunOptions.Inputs.
type InputNode struct {
	ID     string
	Schema map[string]FieldSpec
}

// OutputNode collects the fields mapped into it and becomes part of the
// run's final outputs map. It accepts any fields and has no downstream edges.
type OutputNode struct {
	ID     string
	Format string
}

// ToolDef describes a deterministic function tool. The function's parameter
// names define its input contract; the runtime passes gathered inputs as
// named arguments.
type ToolDef struct {
	ID          string
	Type        string // "python", "shell", "http"
	Module      string
	Function    string
	Path        string
	Description string
}

// MCPServerConfig describes one MCP server an agent may talk to.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// AgentNode is an autonomous multi-turn LLM loop with tool access.
// PromptPath points at the .prompt file driving it; Prompt is filled when
// the file is loaded.
type AgentNode struct {
	ID             string
	PromptPath     string
	Provider       string // agent provider name; empty means the default
	Model          string
	AllowedTools   []string
	MCPServers     map[string]MCPServerConfig
	MaxTurns       int
	PermissionMode string
	CWD            string
	Prompt         *PromptNode
}

// SelfWorkflow is the workflow_path sentinel for recursing into the current
// project.
const SelfWorkflow = "self"

// BranchNode calls another workflow, optionally in a loop. WorkflowPath is a
// project directory relative to the current root, or the sentinel "self".
type BranchNode struct {
	ID            string
	WorkflowPath  string
	Condition     string
	LoopWhile     string
	MaxIterations int
}

// Trigger modes.
const (
	TriggerFireAndForget = "fire-and-forget"
	TriggerWait          = "wait"
)

// TriggerNode starts another workflow as a side effect: detached
// (fire-and-forget) or inline (wait).
type TriggerNode struct {
	ID           string
	WorkflowPath string
	Mode         string
	PassOutputs  bool
	EmitSignal   bool
	Condition    string
}

// EdgeMapping binds one target variable to a dotted path into the source
// node's output.
type EdgeMapping struct {
	TargetVar  string
	SourceExpr string
}

// Edge connects two nodes and carries the field mappings plus an optional
// gating condition evaluated against the source node's output.
type Edge struct {
	ID        string
	FromNode  string
	ToNode    string
	Mappings  []EdgeMapping
	Condition string
}

// Defaults are project-wide model settings that prompt nodes inherit.
type Defaults struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// PublishConfig names where a run's outputs are additionally written.
type PublishConfig struct {
	Path  string
	Alias string
}

// SignalsConfig controls signal emission for the project.
type SignalsConfig struct {
	Enabled   bool
	Directory string
}

// OrchestrationConfig groups the cross-run coordination settings.
type OrchestrationConfig struct {
	Publish PublishConfig
	Export  struct{ Path string }
	Signals SignalsConfig
}

// Project is a loaded workflow project.
type Project struct {
	Name          string
	Root          string
	Version       string
	Description   string
	Defaults      Defaults
	Entrypoints   []string
	Orchestration OrchestrationConfig
	Env           map[string]map[string]any

	InputNodes  map[string]*InputNode
	OutputNodes map[string]*OutputNode
	Prompts     map[string]*PromptNode
	Tools       map[string]*ToolDef
	Agents      map[string]*AgentNode
	Branches    map[string]*BranchNode
	Triggers    map[string]*TriggerNode
	Edges       map[string]*Edge
}

// NodeIDs returns the ids of every node across all kinds.
func (p *Project) NodeIDs() []string {
	ids := make(map[string]struct{})
	for id := range p.InputNodes {
		ids[id] = struct{}{}
	}
	for id := range p.OutputNodes {
		ids[id] = struct{}{}
	}
	for id := range p.Prompts {
		ids[id] = struct{}{}
	}
	for id := range p.Tools {
		ids[id] = struct{}{}
	}
	for id := range p.Agents {
		ids[id] = struct{}{}
	}
	for id := range p.Branches {
		ids[id] = struct{}{}
	}
	for id := range p.Triggers {
		ids[id] = struct{}{}
	}
	return sortedKeys(ids)
}

// KindOf reports the kind of a node id, or false if unknown.
func (p *Project) KindOf(id string) (NodeKind, bool) {
	switch {
	case p.InputNodes[id] != nil:
		return KindInput, true
	case p.OutputNodes[id] != nil:
		return KindOutput, true
	case p.Prompts[id] != nil:
		return KindPrompt, true
	case p.Tools[id] != nil:
		return KindTool, true
	case p.Agents[id] != nil:
		return KindAgent, true
	case p.Branches[id] != nil:
		return KindBranch, true
	case p.Triggers[id] != nil:
		return KindTrigger, true
	}
	return "", false
}

func newProject(name, root string) *Project {
	return &Project{
		Name:        name,
		Root:        root,
		Version:     "0.1",
		InputNodes:  make(map[string]*InputNode),
		OutputNodes: make(map[string]*OutputNode),
		Prompts:     make(map[string]*PromptNode),
		Tools:       make(map[string]*ToolDef),
		Agents:      make(map[string]*AgentNode),
		Branches:    make(map[string]*BranchNode),
		Triggers:    make(map[string]*TriggerNode),
		Edges:       make(map[string]*Edge),
	}
}
