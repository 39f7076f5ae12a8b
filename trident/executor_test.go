package trident

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dshills/trident-go/trident/agent"
	"github.com/dshills/trident-go/trident/artifact"
	"github.com/dshills/trident-go/trident/provider"
	"github.com/dshills/trident-go/trident/tool"
)

// chainProject builds request -> greet -> result with a prompt in the middle.
// The model's vendor prefix is parameterized so each test can register its own
// scripted provider.
func chainProject(t *testing.T, vendor string) *Project {
	t.Helper()
	p := newProject("chain", t.TempDir())
	p.Entrypoints = []string{"request"}
	p.InputNodes["request"] = &InputNode{ID: "request", Schema: map[string]FieldSpec{
		"topic": {Type: "string"},
	}}
	p.Prompts["greet"] = &PromptNode{
		ID:     "greet",
		Model:  vendor + "/model-x",
		Inputs: map[string]InputField{"topic": {Type: "string", Required: true}},
		Output: OutputSchema{Format: "text"},
		Body:   "Say hello to {{topic}}.",
	}
	p.OutputNodes["result"] = &OutputNode{ID: "result"}
	p.Edges["e1"] = &Edge{ID: "e1", FromNode: "request", ToNode: "greet", Mappings: []EdgeMapping{
		{TargetVar: "topic", SourceExpr: "topic"},
	}}
	p.Edges["e2"] = &Edge{ID: "e2", FromNode: "greet", ToNode: "result"}
	return p
}

func registerProvider(vendor string, m *provider.Mock) {
	provider.Register(vendor, func() (provider.Provider, error) { return m, nil })
}

func TestRunDryRun(t *testing.T) {
	p := chainProject(t, "nobody")

	result, err := Run(context.Background(), p, RunOptions{
		DryRun: true,
		Inputs: map[string]any{"topic": "tides"},
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("run failed: %v", result.Err)
	}

	out, ok := result.Outputs["result"].(map[string]any)
	if !ok {
		t.Fatalf("outputs = %v", result.Outputs)
	}
	if out["text"] != "[DRY RUN] Mock text response" {
		t.Errorf("text = %v", out["text"])
	}
	if len(result.Trace.Nodes) != 3 {
		t.Errorf("trace has %d nodes, want 3", len(result.Trace.Nodes))
	}
}

func TestRunWithProvider(t *testing.T) {
	mock := provider.NewMock("Hello, tides!")
	registerProvider("scripted", mock)

	p := chainProject(t, "scripted")
	result, err := Run(context.Background(), p, RunOptions{
		Inputs: map[string]any{"topic": "tides"},
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("run failed: %v", result.Err)
	}

	calls := mock.Calls()
	if len(calls) != 1 || !strings.Contains(calls[0], "Say hello to tides.") {
		t.Errorf("rendered prompt = %v", calls)
	}
	out := result.Outputs["result"].(map[string]any)
	if out["text"] != "Hello, tides!" {
		t.Errorf("text = %v", out["text"])
	}
}

func TestRunJSONOutput(t *testing.T) {
	mock := provider.NewMock("Sure thing:\n```json\n{\"summary\": \"hi\", \"confidence\": 0.8}\n```")
	registerProvider("jsonv", mock)

	p := chainProject(t, "jsonv")
	p.Prompts["greet"].Output = OutputSchema{Format: "json", Fields: map[string]FieldSpec{
		"summary":    {Type: "string"},
		"confidence": {Type: "number"},
	}}

	result, err := Run(context.Background(), p, RunOptions{
		Inputs: map[string]any{"topic": "tides"},
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("run failed: %v", result.Err)
	}

	out := result.Outputs["result"].(map[string]any)
	if out["summary"] != "hi" {
		t.Errorf("summary = %v", out["summary"])
	}
	// Raw response text travels alongside the parsed fields.
	if text, _ := out["text"].(string); !strings.Contains(text, "```json") {
		t.Errorf("text = %v", out["text"])
	}
}

func TestRunSetupErrors(t *testing.T) {
	t.Run("unknown entrypoint", func(t *testing.T) {
		p := chainProject(t, "nobody")
		_, err := Run(context.Background(), p, RunOptions{Entrypoint: "ghost", DryRun: true})
		var serr *SetupError
		if !errors.As(err, &serr) {
			t.Fatalf("expected SetupError, got %v", err)
		}
	})

	t.Run("input nodes without entrypoint", func(t *testing.T) {
		p := chainProject(t, "nobody")
		p.Entrypoints = nil
		_, err := Run(context.Background(), p, RunOptions{DryRun: true})
		var serr *SetupError
		if !errors.As(err, &serr) {
			t.Fatalf("expected SetupError, got %v", err)
		}
	})

	t.Run("prompt without model", func(t *testing.T) {
		p := chainProject(t, "nobody")
		p.Prompts["greet"].Model = ""
		_, err := Run(context.Background(), p, RunOptions{DryRun: true})
		var serr *SetupError
		if !errors.As(err, &serr) {
			t.Fatalf("expected SetupError, got %v", err)
		}
	})

	t.Run("start-from without resume", func(t *testing.T) {
		p := chainProject(t, "nobody")
		_, err := Run(context.Background(), p, RunOptions{DryRun: true, StartFrom: "greet"})
		var serr *SetupError
		if !errors.As(err, &serr) {
			t.Fatalf("expected SetupError, got %v", err)
		}
	})
}

func TestRunRequiredInputMissing(t *testing.T) {
	p := chainProject(t, "nobody")

	result, err := Run(context.Background(), p, RunOptions{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if result.Success() {
		t.Fatal("expected node failure")
	}

	var nerr *NodeExecutionError
	if !errors.As(result.Err, &nerr) || nerr.NodeID != "greet" {
		t.Fatalf("err = %v", result.Err)
	}
	var serr *SchemaValidationError
	if !errors.As(result.Err, &serr) {
		t.Fatalf("expected SchemaValidationError cause, got %v", result.Err)
	}
	if CodeFor(result.Err) != ExitRuntimeError {
		t.Errorf("exit code = %d", CodeFor(result.Err))
	}
}

func TestRunEdgeConditionSkips(t *testing.T) {
	p := chainProject(t, "nobody")
	p.Edges["e1"].Condition = "topic == \"storms\""

	result, err := Run(context.Background(), p, RunOptions{
		DryRun: true,
		Inputs: map[string]any{"topic": "tides"},
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("run failed: %v", result.Err)
	}

	var greet *NodeTrace
	for _, nt := range result.Trace.Nodes {
		if nt.NodeID == "greet" {
			greet = nt
		}
	}
	if greet == nil || !greet.Skipped {
		t.Fatalf("greet trace = %+v", greet)
	}
	// The skipped node produced nothing, so the output node is empty.
	out := result.Outputs["result"].(map[string]any)
	if len(out) != 0 {
		t.Errorf("result output = %v", out)
	}
}

// A condition that fails to evaluate counts as false: the node is skipped
// rather than the run failing.
func TestRunEdgeConditionError(t *testing.T) {
	p := chainProject(t, "nobody")
	p.Edges["e1"].Condition = "topic >>"

	result, err := Run(context.Background(), p, RunOptions{
		DryRun: true,
		Inputs: map[string]any{"topic": "tides"},
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("run failed: %v", result.Err)
	}
	for _, nt := range result.Trace.Nodes {
		if nt.NodeID == "greet" && !nt.Skipped {
			t.Errorf("greet trace = %+v, want skipped", nt)
		}
	}
}

func TestRunNodeFailure(t *testing.T) {
	mock := provider.NewMock().FailWith(&provider.Error{Provider: "broken", Message: "overloaded"})
	registerProvider("broken", mock)

	p := chainProject(t, "broken")
	result, err := Run(context.Background(), p, RunOptions{
		Inputs: map[string]any{"topic": "tides"},
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if result.Success() {
		t.Fatal("expected failure")
	}
	if CodeFor(result.Err) != ExitProviderError {
		t.Errorf("exit code = %d, want %d", CodeFor(result.Err), ExitProviderError)
	}

	// The failed node's trace records the error type.
	for _, nt := range result.Trace.Nodes {
		if nt.NodeID == "greet" && nt.ErrorType != "Error" {
			t.Errorf("error type = %q", nt.ErrorType)
		}
	}
}

func TestRunResume(t *testing.T) {
	artifacts := t.TempDir()

	p := chainProject(t, "resume-a")
	p.Prompts["second"] = &PromptNode{
		ID:     "second",
		Model:  "resume-b/model-x",
		Output: OutputSchema{Format: "text"},
		Body:   "Polish: {{text}}",
	}
	delete(p.Edges, "e2")
	p.Edges["e2"] = &Edge{ID: "e2", FromNode: "greet", ToNode: "second", Mappings: []EdgeMapping{
		{TargetVar: "text", SourceExpr: "output.text"},
	}}
	p.Edges["e3"] = &Edge{ID: "e3", FromNode: "second", ToNode: "result"}

	first := provider.NewMock("draft greeting")
	registerProvider("resume-a", first)
	registerProvider("resume-b", provider.NewMock().FailWith(
		&provider.Error{Provider: "resume-b", Message: "quota exhausted"}))

	run1, err := Run(context.Background(), p, RunOptions{
		Inputs:      map[string]any{"topic": "tides"},
		ArtifactDir: artifacts,
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if run1.Success() {
		t.Fatal("first run should fail at the second prompt")
	}

	// Fix the backend and resume; the first prompt replays from checkpoint.
	registerProvider("resume-b", provider.NewMock("polished greeting"))

	run2, err := Run(context.Background(), p, RunOptions{
		Resume:      run1.RunID,
		ArtifactDir: artifacts,
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if !run2.Success() {
		t.Fatalf("resumed run failed: %v", run2.Err)
	}
	if run2.RunID != run1.RunID {
		t.Errorf("resumed run id = %s, want %s", run2.RunID, run1.RunID)
	}
	if calls := first.Calls(); len(calls) != 1 {
		t.Errorf("replayed node re-executed: %d calls", len(calls))
	}

	out := run2.Outputs["result"].(map[string]any)
	if out["text"] != "polished greeting" {
		t.Errorf("text = %v", out["text"])
	}
}

// strictMock replays its script and fails once it runs out, so a looping
// branch stops making progress at a known iteration.
type strictMock struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (m *strictMock) Name() string { return "strict-mock" }

func (m *strictMock) Complete(_ context.Context, prompt string, cfg provider.CompletionConfig) (*provider.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.responses) == 0 {
		return nil, &provider.Error{Provider: "strict-mock", Message: "script exhausted"}
	}
	content := m.responses[0]
	m.responses = m.responses[1:]
	return &provider.Result{Content: content, Model: cfg.Model}, nil
}

func (m *strictMock) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

const refinerManifest = `trident: "0.3"
name: refiner
nodes:
  feed:
    type: input
  sink:
    type: output
edges:
  e1:
    from: feed
    to: improve
    mapping:
      draft: draft
  e2:
    from: improve
    to: sink
`

const improvePrompt = `---
id: improve
model: flakybranch/model-x
input:
  draft:
    type: string
output:
  format: json
  schema:
    draft: string, the improved text
    done: boolean, whether refinement is finished
---
Improve this draft: {{draft}}
`

func TestRunBranchResume(t *testing.T) {
	artifacts := t.TempDir()

	p := newProject("refining", writeProject(t, map[string]string{
		"sub/agent.tml":              refinerManifest,
		"sub/prompts/improve.prompt": improvePrompt,
	}))
	p.Entrypoints = []string{"request"}
	p.InputNodes["request"] = &InputNode{ID: "request"}
	p.Branches["refine"] = &BranchNode{
		ID:            "refine",
		WorkflowPath:  "sub",
		LoopWhile:     "done == false",
		MaxIterations: 5,
	}
	p.OutputNodes["result"] = &OutputNode{ID: "result"}
	p.Edges["e1"] = &Edge{ID: "e1", FromNode: "request", ToNode: "refine"}
	p.Edges["e2"] = &Edge{ID: "e2", FromNode: "refine", ToNode: "result"}

	// Iteration 0 succeeds and asks for another pass; iteration 1 fails.
	first := &strictMock{responses: []string{`{"draft": "v2", "done": false}`}}
	provider.Register("flakybranch", func() (provider.Provider, error) { return first, nil })

	run1, err := Run(context.Background(), p, RunOptions{
		Inputs:      map[string]any{"draft": "v1"},
		ArtifactDir: artifacts,
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if run1.Success() {
		t.Fatal("first run should fail at iteration 1")
	}
	var berr *BranchError
	if !errors.As(run1.Err, &berr) || berr.Iteration != 1 {
		t.Fatalf("err = %v", run1.Err)
	}

	// Fix the backend; the resumed branch picks up at iteration 1 with the
	// outputs of iteration 0 as its inputs.
	provider.Register("flakybranch", func() (provider.Provider, error) {
		return provider.NewMock(`{"draft": "v3", "done": true}`), nil
	})

	run2, err := Run(context.Background(), p, RunOptions{
		Resume:      run1.RunID,
		ArtifactDir: artifacts,
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if !run2.Success() {
		t.Fatalf("resumed run failed: %v", run2.Err)
	}
	if got := first.callCount(); got != 2 {
		t.Errorf("completed iteration re-executed: %d calls to the first backend", got)
	}

	out := run2.Outputs["result"].(map[string]any)
	if out["draft"] != "v3" || out["done"] != true {
		t.Errorf("final output = %v", out)
	}

	mgr := artifact.NewManager(artifact.Config{BaseDir: artifacts}, run1.RunID)
	states, err := mgr.LoadBranchIterations("refine")
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 2 {
		t.Fatalf("iteration states = %d, want 2", len(states))
	}
	if !states[0].Success || !states[1].Success {
		t.Errorf("iteration success flags = %v, %v", states[0].Success, states[1].Success)
	}
}

const watchPrompt = `---
id: improve
model: watchful/model-x
input:
  draft:
    type: string
output:
  format: json
  schema:
    draft: string, the improved text
    done: boolean, whether refinement is finished
---
Improve this draft: {{draft}}
`

// checkpointWatch answers like a scripted provider but also snapshots the
// parent run's persisted branch state on every call, so the test can see what
// a crash at that moment would find on disk.
type checkpointWatch struct {
	mu        sync.Mutex
	mgr       *artifact.Manager
	responses []string
	seen      []int
}

func (w *checkpointWatch) Name() string { return "watchful" }

func (w *checkpointWatch) Complete(_ context.Context, _ string, cfg provider.CompletionConfig) (*provider.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state := -1
	if cp, err := w.mgr.LoadCheckpoint(); err == nil && cp != nil {
		if n, ok := cp.BranchStates["refine"]; ok {
			state = n
		}
	}
	w.seen = append(w.seen, state)

	if len(w.responses) == 0 {
		return nil, &provider.Error{Provider: "watchful", Message: "script exhausted"}
	}
	content := w.responses[0]
	w.responses = w.responses[1:]
	return &provider.Result{Content: content, Model: cfg.Model}, nil
}

func (w *checkpointWatch) snapshots() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int(nil), w.seen...)
}

// Every completed branch iteration must reach disk before the next one
// starts; otherwise a crash mid-loop would replay finished work.
func TestRunBranchCheckpointPerIteration(t *testing.T) {
	artifacts := t.TempDir()
	const runID = "watched-run"

	p := newProject("refining", writeProject(t, map[string]string{
		"sub/agent.tml":              refinerManifest,
		"sub/prompts/improve.prompt": watchPrompt,
	}))
	p.Entrypoints = []string{"request"}
	p.InputNodes["request"] = &InputNode{ID: "request"}
	p.Branches["refine"] = &BranchNode{
		ID:            "refine",
		WorkflowPath:  "sub",
		LoopWhile:     "done == false",
		MaxIterations: 5,
	}
	p.OutputNodes["result"] = &OutputNode{ID: "result"}
	p.Edges["e1"] = &Edge{ID: "e1", FromNode: "request", ToNode: "refine"}
	p.Edges["e2"] = &Edge{ID: "e2", FromNode: "refine", ToNode: "result"}

	watch := &checkpointWatch{
		mgr: artifact.NewManager(artifact.Config{BaseDir: artifacts}, runID),
		responses: []string{
			`{"draft": "v2", "done": false}`,
			`{"draft": "v3", "done": true}`,
		},
	}
	provider.Register("watchful", func() (provider.Provider, error) { return watch, nil })

	result, err := Run(context.Background(), p, RunOptions{
		Inputs:      map[string]any{"draft": "v1"},
		ArtifactDir: artifacts,
		RunID:       runID,
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("run failed: %v", result.Err)
	}

	seen := watch.snapshots()
	if len(seen) != 2 {
		t.Fatalf("provider called %d times, want 2", len(seen))
	}
	if seen[0] != -1 {
		t.Errorf("branch state before iteration 0 = %d, want none", seen[0])
	}
	if seen[1] != 0 {
		t.Errorf("branch state during iteration 1 = %d, want 0 persisted", seen[1])
	}
}

func TestRunToolNode(t *testing.T) {
	p := newProject("tooling", t.TempDir())
	p.Entrypoints = []string{"request"}
	p.InputNodes["request"] = &InputNode{ID: "request"}
	p.Tools["word_count"] = &ToolDef{ID: "word_count", Type: "python", Module: "text.stats", Function: "word_count"}
	p.OutputNodes["result"] = &OutputNode{ID: "result"}
	p.Edges["e1"] = &Edge{ID: "e1", FromNode: "request", ToNode: "word_count"}
	p.Edges["e2"] = &Edge{ID: "e2", FromNode: "word_count", ToNode: "result"}

	mock := tool.NewMock().Respond("word_count", map[string]any{"words": 7})
	tools := tool.NewDispatcher(p.Root).WithRunner("python", mock)

	result, err := Run(context.Background(), p, RunOptions{
		Inputs: map[string]any{"text": "seven words of input text right here"},
		Tools:  tools,
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("run failed: %v", result.Err)
	}

	out := result.Outputs["result"].(map[string]any)
	if out["words"] != 7 {
		t.Errorf("words = %v", out["words"])
	}
	if calls := mock.Calls(); len(calls) != 1 || calls[0] != "word_count" {
		t.Errorf("tool calls = %v", calls)
	}
}

func TestRunToolFailure(t *testing.T) {
	p := newProject("tooling", t.TempDir())
	p.Entrypoints = []string{"request"}
	p.InputNodes["request"] = &InputNode{ID: "request"}
	p.Tools["cleaner"] = &ToolDef{ID: "cleaner", Type: "python", Module: "text.clean"}
	p.Edges["e1"] = &Edge{ID: "e1", FromNode: "request", ToNode: "cleaner"}

	tools := tool.NewDispatcher(p.Root).WithRunner("python",
		tool.NewMock().FailWith("cleaner", errors.New("module not found")))

	result, err := Run(context.Background(), p, RunOptions{Tools: tools})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if result.Success() {
		t.Fatal("expected failure")
	}
	var terr *ToolError
	if !errors.As(result.Err, &terr) || terr.Tool != "cleaner" {
		t.Fatalf("err = %v", result.Err)
	}
}

func TestRunAgentNode(t *testing.T) {
	agent.Register(agent.NewMock("claude", `{"answer": "42"}`))

	p := newProject("agents", t.TempDir())
	p.Entrypoints = []string{"request"}
	p.InputNodes["request"] = &InputNode{ID: "request"}
	p.Agents["solver"] = &AgentNode{
		ID:       "solver",
		MaxTurns: 10,
		Prompt: &PromptNode{
			ID:     "solver",
			Inputs: map[string]InputField{"question": {Type: "string", Required: true}},
			Output: OutputSchema{Format: "json", Fields: map[string]FieldSpec{
				"answer": {Type: "string"},
			}},
			Body: "Answer: {{question}}",
		},
	}
	p.OutputNodes["result"] = &OutputNode{ID: "result"}
	p.Edges["e1"] = &Edge{ID: "e1", FromNode: "request", ToNode: "solver"}
	p.Edges["e2"] = &Edge{ID: "e2", FromNode: "solver", ToNode: "result"}

	result, err := Run(context.Background(), p, RunOptions{
		Inputs: map[string]any{"question": "meaning of life"},
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("run failed: %v", result.Err)
	}

	out := result.Outputs["result"].(map[string]any)
	if out["answer"] != "42" {
		t.Errorf("answer = %v", out["answer"])
	}

	var solver *NodeTrace
	for _, nt := range result.Trace.Nodes {
		if nt.NodeID == "solver" {
			solver = nt
		}
	}
	if solver == nil || solver.SessionID != "mock-session" || solver.NumTurns != 1 {
		t.Errorf("solver trace = %+v", solver)
	}
}

// agentProject builds request -> solver -> result with one agent node.
func agentProject(t *testing.T) *Project {
	t.Helper()
	p := newProject("agents", t.TempDir())
	p.Entrypoints = []string{"request"}
	p.InputNodes["request"] = &InputNode{ID: "request"}
	p.Agents["solver"] = &AgentNode{
		ID: "solver",
		Prompt: &PromptNode{
			ID:     "solver",
			Output: OutputSchema{Format: "text"},
			Body:   "Answer: {{question}}",
		},
	}
	p.OutputNodes["result"] = &OutputNode{ID: "result"}
	p.Edges["e1"] = &Edge{ID: "e1", FromNode: "request", ToNode: "solver"}
	p.Edges["e2"] = &Edge{ID: "e2", FromNode: "solver", ToNode: "result"}
	return p
}

// MCP servers declared on the node reach the agent runtime.
func TestRunAgentMCPServers(t *testing.T) {
	mock := agent.NewMock("claude", "done")
	agent.Register(mock)

	p := agentProject(t)
	p.Agents["solver"].MCPServers = map[string]MCPServerConfig{
		"files": {
			Command: "mcp-files",
			Args:    []string{"--root", "."},
			Env:     map[string]string{"FILES_MODE": "ro"},
		},
	}

	result, err := Run(context.Background(), p, RunOptions{
		Inputs: map[string]any{"question": "anything"},
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("run failed: %v", result.Err)
	}

	cfgs := mock.Configs()
	if len(cfgs) != 1 {
		t.Fatalf("agent executed %d times, want 1", len(cfgs))
	}
	spec, ok := cfgs[0].MCPServers["files"]
	if !ok {
		t.Fatalf("MCPServers = %v", cfgs[0].MCPServers)
	}
	if spec.Command != "mcp-files" || len(spec.Args) != 2 || spec.Env["FILES_MODE"] != "ro" {
		t.Errorf("spec = %+v", spec)
	}
}

// Re-executing an agent node on a resumed run continues the session the
// checkpoint recorded for it.
func TestRunAgentSessionContinuation(t *testing.T) {
	artifacts := t.TempDir()
	mock := agent.NewMock("claude", "first pass", "second pass")
	agent.Register(mock)

	p := agentProject(t)
	run1, err := Run(context.Background(), p, RunOptions{
		Inputs:      map[string]any{"question": "anything"},
		ArtifactDir: artifacts,
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if !run1.Success() {
		t.Fatalf("first run failed: %v", run1.Err)
	}

	run2, err := Run(context.Background(), p, RunOptions{
		Resume:      run1.RunID,
		StartFrom:   "solver",
		ArtifactDir: artifacts,
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if !run2.Success() {
		t.Fatalf("resumed run failed: %v", run2.Err)
	}

	cfgs := mock.Configs()
	if len(cfgs) != 2 {
		t.Fatalf("agent executed %d times, want 2", len(cfgs))
	}
	if cfgs[0].ResumeSessionID != "" {
		t.Errorf("fresh run resume session = %q", cfgs[0].ResumeSessionID)
	}
	if cfgs[1].ResumeSessionID != "mock-session" {
		t.Errorf("resumed session = %q, want the checkpoint's", cfgs[1].ResumeSessionID)
	}

	t.Run("explicit override wins", func(t *testing.T) {
		over := agent.NewMock("claude", "third pass")
		agent.Register(over)

		run3, err := Run(context.Background(), p, RunOptions{
			Resume:         run1.RunID,
			StartFrom:      "solver",
			ArtifactDir:    artifacts,
			ResumeSessions: map[string]string{"solver": "pinned-session"},
		})
		if err != nil {
			t.Fatalf("unexpected setup error: %v", err)
		}
		if !run3.Success() {
			t.Fatalf("run failed: %v", run3.Err)
		}
		cfgs := over.Configs()
		if len(cfgs) != 1 || cfgs[0].ResumeSessionID != "pinned-session" {
			t.Errorf("configs = %+v", cfgs)
		}
	})
}

const subWorkflowManifest = `trident: "0.3"
name: sub-flow
nodes:
  feed:
    type: input
  sink:
    type: output
edges:
  e1:
    from: feed
    to: sink
`

func TestRunBranch(t *testing.T) {
	t.Run("single pass", func(t *testing.T) {
		p := newProject("branchy", writeProject(t, map[string]string{
			"sub/agent.tml": subWorkflowManifest,
		}))
		p.Entrypoints = []string{"request"}
		p.InputNodes["request"] = &InputNode{ID: "request"}
		p.Branches["expand"] = &BranchNode{ID: "expand", WorkflowPath: "sub", MaxIterations: 5}
		p.OutputNodes["result"] = &OutputNode{ID: "result"}
		p.Edges["e1"] = &Edge{ID: "e1", FromNode: "request", ToNode: "expand"}
		p.Edges["e2"] = &Edge{ID: "e2", FromNode: "expand", ToNode: "result"}

		result, err := Run(context.Background(), p, RunOptions{
			DryRun: true,
			Inputs: map[string]any{"seed": "start"},
		})
		if err != nil {
			t.Fatalf("unexpected setup error: %v", err)
		}
		if !result.Success() {
			t.Fatalf("run failed: %v", result.Err)
		}
		out := result.Outputs["result"].(map[string]any)
		if out["seed"] != "start" {
			t.Errorf("branch output = %v", out)
		}
	})

	t.Run("loop hits max iterations", func(t *testing.T) {
		p := newProject("branchy", writeProject(t, map[string]string{
			"sub/agent.tml": subWorkflowManifest,
		}))
		p.Entrypoints = []string{"request"}
		p.InputNodes["request"] = &InputNode{ID: "request"}
		p.Branches["expand"] = &BranchNode{
			ID:            "expand",
			WorkflowPath:  "sub",
			LoopWhile:     "1 > 0",
			MaxIterations: 2,
		}
		p.Edges["e1"] = &Edge{ID: "e1", FromNode: "request", ToNode: "expand"}

		result, err := Run(context.Background(), p, RunOptions{
			DryRun: true,
			Inputs: map[string]any{"seed": "start"},
		})
		if err != nil {
			t.Fatalf("unexpected setup error: %v", err)
		}
		if result.Success() {
			t.Fatal("expected max-iterations failure")
		}
		var berr *BranchError
		if !errors.As(result.Err, &berr) || !strings.Contains(berr.Message, "Max iterations") {
			t.Fatalf("err = %v", result.Err)
		}
	})

	t.Run("false pre-condition passes inputs through", func(t *testing.T) {
		p := newProject("branchy", t.TempDir())
		p.Entrypoints = []string{"request"}
		p.InputNodes["request"] = &InputNode{ID: "request"}
		p.Branches["expand"] = &BranchNode{
			ID:           "expand",
			WorkflowPath: "missing-on-purpose",
			Condition:    "seed == \"never\"",
		}
		p.OutputNodes["result"] = &OutputNode{ID: "result"}
		p.Edges["e1"] = &Edge{ID: "e1", FromNode: "request", ToNode: "expand"}
		p.Edges["e2"] = &Edge{ID: "e2", FromNode: "expand", ToNode: "result"}

		result, err := Run(context.Background(), p, RunOptions{
			DryRun: true,
			Inputs: map[string]any{"seed": "start"},
		})
		if err != nil {
			t.Fatalf("unexpected setup error: %v", err)
		}
		if !result.Success() {
			t.Fatalf("run failed: %v", result.Err)
		}
		out := result.Outputs["result"].(map[string]any)
		if out["seed"] != "start" {
			t.Errorf("pass-through output = %v", out)
		}

		// The sub-workflow never ran, and the trace says so.
		var expand *NodeTrace
		for _, nt := range result.Trace.Nodes {
			if nt.NodeID == "expand" {
				expand = nt
			}
		}
		if expand == nil || !expand.Skipped {
			t.Errorf("expand trace = %+v, want skipped", expand)
		}
	})
}

func TestRunTriggerWait(t *testing.T) {
	p := newProject("triggering", writeProject(t, map[string]string{
		"sub/agent.tml": subWorkflowManifest,
	}))
	p.Entrypoints = []string{"request"}
	p.InputNodes["request"] = &InputNode{ID: "request"}
	p.Triggers["notify"] = &TriggerNode{
		ID:           "notify",
		WorkflowPath: "sub",
		Mode:         TriggerWait,
		PassOutputs:  true,
	}
	p.OutputNodes["result"] = &OutputNode{ID: "result"}
	p.Edges["e1"] = &Edge{ID: "e1", FromNode: "request", ToNode: "notify"}
	p.Edges["e2"] = &Edge{ID: "e2", FromNode: "notify", ToNode: "result"}

	result, err := Run(context.Background(), p, RunOptions{
		DryRun: true,
		Inputs: map[string]any{"seed": "start"},
	})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("run failed: %v", result.Err)
	}

	out := result.Outputs["result"].(map[string]any)
	if out["triggered"] != true || out["status"] != "completed" {
		t.Errorf("trigger output = %v", out)
	}
	if out["seed"] != "start" {
		t.Errorf("pass_outputs did not merge sub-run outputs: %v", out)
	}
}

func TestGatherInputs(t *testing.T) {
	p := chainProject(t, "nobody")
	p.Edges["e2"].Mappings = []EdgeMapping{
		{TargetVar: "greeting", SourceExpr: "output.text"},
	}
	ex, err := newExecutor(p, RunOptions{DryRun: true, Inputs: map[string]any{"topic": "x"}})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("output prefix strips first", func(t *testing.T) {
		ex.outputs = map[string]map[string]any{"greet": {"text": "hello"}}
		got := ex.gatherInputs("result")
		if got["greeting"] != "hello" {
			t.Errorf("gathered = %v", got)
		}
	})

	t.Run("literal output key still resolves", func(t *testing.T) {
		ex.outputs = map[string]map[string]any{"greet": {"output": map[string]any{"text": "nested"}}}
		got := ex.gatherInputs("result")
		if got["greeting"] != "nested" {
			t.Errorf("gathered = %v", got)
		}
	})

	t.Run("unmapped edge merges whole source", func(t *testing.T) {
		plain := chainProject(t, "nobody")
		plain.Edges["e1"].Mappings = nil
		pex, err := newExecutor(plain, RunOptions{DryRun: true, Inputs: map[string]any{"topic": "x"}})
		if err != nil {
			t.Fatal(err)
		}
		pex.outputs = map[string]map[string]any{"request": {"topic": "x", "limit": 3}}
		got := pex.gatherInputs("greet")
		if got["topic"] != "x" || got["limit"] != 3 {
			t.Errorf("gathered = %v", got)
		}
	})

	t.Run("nil never overwrites a value", func(t *testing.T) {
		ex.outputs = map[string]map[string]any{"greet": {"text": nil}}
		got := map[string]any{"greeting": "kept"}
		// Simulate a second edge resolving nil after an earlier edge provided
		// a value.
		for _, m := range p.Edges["e2"].Mappings {
			value := resolveSource(ex.outputs["greet"], m.SourceExpr)
			if value == nil && got[m.TargetVar] != nil {
				continue
			}
			got[m.TargetVar] = value
		}
		if got["greeting"] != "kept" {
			t.Errorf("gathered = %v", got)
		}
	})
}

func TestFlattenOutputs(t *testing.T) {
	flat := flattenOutputs(map[string]any{
		"a_report": map[string]any{"summary": "first", "extra": 1},
		"z_report": map[string]any{"summary": "last"},
	})
	if flat["summary"] != "last" {
		t.Errorf("later output node should win: %v", flat)
	}
	if flat["extra"] != 1 {
		t.Errorf("non-colliding fields kept: %v", flat)
	}
}

func TestCollectFinalOutputsFallback(t *testing.T) {
	p := newProject("no-outputs", t.TempDir())
	p.Entrypoints = []string{"request"}
	p.InputNodes["request"] = &InputNode{ID: "request"}
	p.Prompts["greet"] = &PromptNode{
		ID:     "greet",
		Model:  "nobody/model-x",
		Output: OutputSchema{Format: "text"},
		Body:   "hi",
	}
	p.Edges["e1"] = &Edge{ID: "e1", FromNode: "request", ToNode: "greet"}

	result, err := Run(context.Background(), p, RunOptions{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected setup error: %v", err)
	}
	// With no output nodes the last executed node stands in.
	if _, ok := result.Outputs["greet"]; !ok {
		t.Errorf("outputs = %v", result.Outputs)
	}
}
