package trident

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/trident-go/trident/agent"
	"github.com/dshills/trident-go/trident/provider"
	"github.com/dshills/trident-go/trident/tool"
)

// dispatch executes one node. The trace is always returned, even on failure;
// errors come back wrapped as NodeExecutionError so exit codes survive.
func (ex *executor) dispatch(ctx context.Context, nodeID string) (*NodeTrace, error) {
	kind, _ := ex.project.KindOf(nodeID)
	trace := &NodeTrace{NodeID: nodeID, StartedAt: time.Now().UTC()}
	ex.opts.Metrics.NodeStarted()
	ex.emitVerbose("node_start", nodeID, nil)

	if !ex.inboundConditionsPass(nodeID) {
		trace.Skipped = true
		trace.EndedAt = time.Now().UTC()
		ex.opts.Metrics.NodeFinished(kind, "skipped", trace.Duration())
		ex.emitVerbose("node_skipped", nodeID, nil)
		return trace, nil
	}

	inputs := ex.gatherInputs(nodeID)
	trace.Inputs = inputs
	err := ex.execute(ctx, nodeID, kind, inputs, trace)

	trace.EndedAt = time.Now().UTC()
	if err != nil {
		wrapped := &NodeExecutionError{
			NodeID:   nodeID,
			NodeKind: kind,
			Message:  "execution failed",
			Inputs:   inputs,
			Cause:    err,
		}
		trace.Error = err.Error()
		trace.ErrorType = errorTypeName(err)
		ex.opts.Metrics.NodeFinished(kind, "failed", trace.Duration())
		ex.emit("node_failed", nodeID, map[string]any{"error": err.Error()})
		return trace, wrapped
	}

	ex.opts.Metrics.NodeFinished(kind, "completed", trace.Duration())
	meta := map[string]any{"duration_ms": trace.Duration().Milliseconds()}
	if trace.CostUSD > 0 {
		meta["cost_usd"] = trace.CostUSD
	}
	ex.emitVerbose("node_complete", nodeID, meta)
	return trace, nil
}

func (ex *executor) execute(ctx context.Context, nodeID string, kind NodeKind, inputs map[string]any, trace *NodeTrace) error {
	switch kind {
	case KindInput:
		out, err := CopyValue(ex.inputs)
		if err != nil {
			return err
		}
		if out == nil {
			out = make(map[string]any)
		}
		trace.Output = out
		return nil
	case KindOutput:
		trace.Output = inputs
		return nil
	case KindPrompt:
		return ex.executePrompt(ctx, ex.project.Prompts[nodeID], inputs, trace)
	case KindTool:
		return ex.executeTool(ctx, ex.project.Tools[nodeID], inputs, trace)
	case KindAgent:
		return ex.executeAgent(ctx, ex.project.Agents[nodeID], inputs, trace)
	case KindBranch:
		return ex.executeBranch(ctx, ex.project.Branches[nodeID], inputs, trace)
	case KindTrigger:
		return ex.executeTrigger(ctx, ex.project.Triggers[nodeID], inputs, trace)
	}
	return fmt.Errorf("unknown node kind for %q", nodeID)
}

// inboundConditionsPass evaluates every conditioned incoming edge against its
// source output. Any false condition skips the node; evaluation errors count
// as false.
func (ex *executor) inboundConditionsPass(nodeID string) bool {
	for _, edge := range ex.dag.Nodes[nodeID].Incoming {
		if edge.Condition == "" {
			continue
		}
		src := ex.outputs[edge.FromNode]
		ok, err := EvalCondition(edge.Condition, src)
		if err != nil {
			ex.emitVerbose("edge_condition_error", nodeID, map[string]any{
				"edge":  edge.ID,
				"error": err.Error(),
			})
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// gatherInputs assembles a node's input map from its incoming edges in edge-id
// order. An edge without mappings merges the whole source output; mapped
// fields resolve dotted paths, retrying without a leading "output." prefix.
// A nil resolved value never overwrites a value an earlier edge provided.
func (ex *executor) gatherInputs(nodeID string) map[string]any {
	gathered := make(map[string]any)
	for _, edge := range ex.dag.Nodes[nodeID].Incoming {
		src := ex.outputs[edge.FromNode]
		if src == nil {
			continue
		}
		if len(edge.Mappings) == 0 {
			for key, value := range src {
				if value != nil || gathered[key] == nil {
					gathered[key] = value
				}
			}
			continue
		}
		for _, m := range edge.Mappings {
			value := resolveSource(src, m.SourceExpr)
			if value == nil && gathered[m.TargetVar] != nil {
				continue
			}
			gathered[m.TargetVar] = value
		}
	}
	return gathered
}

func resolveSource(src map[string]any, expr string) any {
	if trimmed, found := strings.CutPrefix(expr, "output."); found {
		if v := GetPath(src, trimmed); v != nil {
			return v
		}
	}
	return GetPath(src, expr)
}

func (ex *executor) executePrompt(ctx context.Context, node *PromptNode, inputs map[string]any, trace *NodeTrace) error {
	if err := applyInputContract(node.ID, node.Inputs, inputs); err != nil {
		return err
	}

	if ex.opts.DryRun {
		trace.Output = MockOutput(node.Output)
		return nil
	}

	prompt := RenderTemplate(node.Body, inputs)
	model := ex.resolveModel(node)
	prov, bare, err := provider.ForModel(model)
	if err != nil {
		return err
	}

	cfg := provider.CompletionConfig{
		Model:       bare,
		Temperature: node.Temperature,
		Format:      node.Output.Format,
	}
	if cfg.Temperature == nil {
		cfg.Temperature = ex.project.Defaults.Temperature
	}
	if node.MaxTokens != nil {
		cfg.MaxTokens = *node.MaxTokens
	} else if ex.project.Defaults.MaxTokens != nil {
		cfg.MaxTokens = *ex.project.Defaults.MaxTokens
	}
	if node.Output.Format == "json" {
		cfg.Schema = JSONSchemaFor(node.Output)
	}

	result, err := provider.CompleteWithRetry(ctx, prov, prompt, cfg)
	if err != nil {
		return err
	}

	trace.Model = model
	trace.TokensIn = result.InputTokens
	trace.TokensOut = result.OutputTokens
	trace.CostUSD = ex.costs.Record(model, node.ID, result.InputTokens, result.OutputTokens)
	ex.opts.Metrics.TokensUsed(model, result.InputTokens, result.OutputTokens)

	output, err := shapeOutput(node.ID, node.Output, result.Content)
	if err != nil {
		return err
	}
	trace.Output = output
	return nil
}

// shapeOutput turns raw model text into the node's output map. Text format
// wraps verbatim; json format extracts, parses, and validates, keeping the
// raw text alongside the parsed fields.
func shapeOutput(nodeID string, schema OutputSchema, content string) (map[string]any, error) {
	if schema.Format != "json" {
		return map[string]any{"text": content}, nil
	}

	parsed, err := agent.ExtractJSON(content)
	if err != nil {
		return nil, &SchemaValidationError{
			Message: fmt.Sprintf("node %s: response is not valid JSON: %v", nodeID, err),
		}
	}
	if err := ValidateOutput(nodeID, schema, parsed); err != nil {
		return nil, err
	}

	output := map[string]any{"text": content}
	for k, v := range parsed {
		output[k] = v
	}
	return output, nil
}

// applyInputContract checks required inputs and fills declared defaults
// in place. Missing required inputs with no default fail the node.
func applyInputContract(nodeID string, declared map[string]InputField, inputs map[string]any) error {
	for _, name := range sortedKeys(declared) {
		field := declared[name]
		if _, present := inputs[name]; present && inputs[name] != nil {
			continue
		}
		if field.Default != nil {
			inputs[name] = field.Default
			continue
		}
		if field.Required {
			return &SchemaValidationError{
				Message: fmt.Sprintf("node %s: required input %q is missing", nodeID, name),
			}
		}
	}
	return nil
}

func (ex *executor) executeTool(ctx context.Context, def *ToolDef, inputs map[string]any, trace *NodeTrace) error {
	output, err := ex.tools.Execute(ctx, toolDef(def), inputs)
	if err != nil {
		return &ToolError{Tool: def.ID, Message: "invocation failed", Cause: err}
	}
	trace.Output = output
	return nil
}

func toolDef(def *ToolDef) tool.Def {
	return tool.Def{
		ID:          def.ID,
		Type:        def.Type,
		Module:      def.Module,
		Function:    def.Function,
		Path:        def.Path,
		Description: def.Description,
	}
}

func (ex *executor) executeAgent(ctx context.Context, node *AgentNode, inputs map[string]any, trace *NodeTrace) error {
	prompt := node.Prompt
	if prompt == nil {
		return fmt.Errorf("agent %s: prompt file %s not loaded", node.ID, node.PromptPath)
	}
	if err := applyInputContract(node.ID, prompt.Inputs, inputs); err != nil {
		return err
	}

	if ex.opts.DryRun {
		trace.Output = MockOutput(prompt.Output)
		trace.SessionID = "dry-run"
		return nil
	}

	ag, err := agent.ForName(node.Provider)
	if err != nil {
		return err
	}

	cfg := agent.Config{
		Model:          node.Model,
		MaxTurns:       node.MaxTurns,
		PermissionMode: node.PermissionMode,
		CWD:            node.CWD,
		Tools:          ex.agentTools(node.AllowedTools),
		Handler:        ex.agentToolHandler(),
		MCPServers:     agentMCPServers(node.MCPServers),
		OutputFormat:   prompt.Output.Format,
	}
	if cfg.Model == "" {
		cfg.Model = prompt.Model
	}
	if cfg.CWD == "" {
		cfg.CWD = ex.project.Root
	} else if !filepath.IsAbs(cfg.CWD) {
		cfg.CWD = filepath.Join(ex.project.Root, cfg.CWD)
	}
	if prompt.Output.Format == "json" {
		cfg.Schema = JSONSchemaFor(prompt.Output)
	}
	if sessions := ex.opts.ResumeSessions; sessions != nil {
		cfg.ResumeSessionID = sessions[node.ID]
	}
	// A resumed run re-executing this node (via start-from) continues the
	// session recorded in the checkpoint unless the caller overrides it.
	if cfg.ResumeSessionID == "" && ex.resumed != nil {
		if data, ok := ex.resumed.CompletedNodes[node.ID]; ok {
			cfg.ResumeSessionID = data.SessionID
		}
	}
	if ex.opts.Verbose || ex.opts.OnAgentMessage != nil {
		cfg.OnMessage = func(text string) {
			ex.emitVerbose("agent_message", node.ID, map[string]any{"text": text})
			if ex.opts.OnAgentMessage != nil {
				ex.opts.OnAgentMessage(node.ID, text)
			}
		}
	}

	rendered := RenderTemplate(prompt.Body, inputs)
	result, err := ag.Execute(ctx, rendered, cfg)
	if err != nil {
		return err
	}

	if prompt.Output.Format == "json" {
		if err := ValidateOutput(node.ID, prompt.Output, result.Output); err != nil {
			return err
		}
	}

	trace.Output = result.Output
	trace.SessionID = result.SessionID
	trace.NumTurns = result.NumTurns
	trace.TokensIn = result.InputTokens
	trace.TokensOut = result.OutputTokens
	trace.CostUSD = result.CostUSD
	if trace.CostUSD == 0 && result.InputTokens > 0 {
		trace.CostUSD = ex.costs.Record(node.Model, node.ID, result.InputTokens, result.OutputTokens)
	}
	return nil
}

// agentMCPServers converts the manifest's MCP server entries for the agent
// runtime.
func agentMCPServers(servers map[string]MCPServerConfig) map[string]agent.MCPServerSpec {
	if len(servers) == 0 {
		return nil
	}
	specs := make(map[string]agent.MCPServerSpec, len(servers))
	for name, srv := range servers {
		specs[name] = agent.MCPServerSpec{
			Command: srv.Command,
			Args:    srv.Args,
			Env:     srv.Env,
		}
	}
	return specs
}

// agentTools exposes the project tools named in allowed_tools to the agent.
// Names that match no project tool are assumed to be the agent runtime's own
// built-ins and pass through unlisted.
func (ex *executor) agentTools(allowed []string) []agent.ToolSpec {
	var specs []agent.ToolSpec
	for _, name := range allowed {
		def, ok := ex.project.Tools[name]
		if !ok {
			continue
		}
		specs = append(specs, agent.ToolSpec{
			Name:        def.ID,
			Description: def.Description,
			InputSchema: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": true,
			},
		})
	}
	return specs
}

func (ex *executor) agentToolHandler() agent.ToolHandler {
	return func(ctx context.Context, name string, args map[string]any) (any, error) {
		def, ok := ex.project.Tools[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		return ex.tools.Execute(ctx, toolDef(def), args)
	}
}

func (ex *executor) emitVerbose(msg, nodeID string, meta map[string]any) {
	if !ex.opts.Verbose {
		return
	}
	ex.emit(msg, nodeID, meta)
}

// errorTypeName reports a short type name for trace records, e.g. "ToolError".
func errorTypeName(err error) string {
	name := fmt.Sprintf("%T", err)
	name = strings.TrimPrefix(name, "*")
	if dot := strings.LastIndex(name, "."); dot >= 0 {
		name = name[dot+1:]
	}
	return name
}
