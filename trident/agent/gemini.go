package agent

import (
	"context"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

func init() {
	Register(&Gemini{})
}

// Gemini drives the Gemini API in a function-calling loop over a chat
// session: function calls are dispatched through the configured ToolHandler
// and fed back as function responses until the model produces a final answer
// or the turn budget is exhausted. MCP servers are not supported and are
// ignored.
type Gemini struct{}

// Name implements Agent.
func (g *Gemini) Name() string { return "gemini" }

const geminiDefaultModel = "gemini-1.5-flash"

// Execute implements Agent.
func (g *Gemini) Execute(ctx context.Context, prompt string, cfg Config) (*Result, error) {
	key := os.Getenv("GOOGLE_API_KEY")
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("gemini agent: create client: %w", err)
	}
	defer client.Close()

	modelName := cfg.Model
	if modelName == "" {
		modelName = geminiDefaultModel
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 50
	}
	sessionID := cfg.ResumeSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	model := client.GenerativeModel(modelName)
	if len(cfg.Tools) > 0 {
		model.Tools = geminiTools(cfg.Tools)
	} else if cfg.OutputFormat == "json" {
		// JSON response mode cannot be combined with function declarations;
		// with tools the schema instructions in the prompt take over.
		model.ResponseMIMEType = "application/json"
	}

	session := model.StartChat()
	parts := []genai.Part{genai.Text(withSchemaInstructions(prompt, cfg))}

	result := &Result{SessionID: sessionID}
	var finalText string

	for turn := 0; turn < maxTurns; turn++ {
		resp, err := session.SendMessage(ctx, parts...)
		if err != nil {
			return nil, fmt.Errorf("agent turn %d: %w", turn+1, err)
		}
		result.NumTurns = turn + 1
		if resp.UsageMetadata != nil {
			result.InputTokens += int(resp.UsageMetadata.PromptTokenCount)
			result.OutputTokens += int(resp.UsageMetadata.CandidatesTokenCount)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return nil, fmt.Errorf("agent turn %d: empty response", turn+1)
		}

		var calls []genai.FunctionCall
		for _, part := range resp.Candidates[0].Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				finalText = string(p)
				if cfg.OnMessage != nil {
					cfg.OnMessage(string(p))
				}
			case genai.FunctionCall:
				calls = append(calls, p)
			}
		}

		if len(calls) == 0 {
			break
		}
		parts = parts[:0]
		for _, call := range calls {
			parts = append(parts, genai.FunctionResponse{
				Name:     call.Name,
				Response: g.runTool(ctx, cfg, call.Name, call.Args),
			})
		}
	}

	result.Text = finalText
	output, err := ParseOutput(finalText, cfg.OutputFormat)
	if err != nil {
		return nil, err
	}
	result.Output = output
	return result, nil
}

// runTool dispatches one function call. Gemini function responses are maps,
// so scalar results are wrapped under "result" and failures under "error".
func (g *Gemini) runTool(ctx context.Context, cfg Config, name string, args map[string]any) map[string]any {
	if cfg.Handler == nil {
		return map[string]any{"error": fmt.Sprintf("tool %s is not available", name)}
	}
	if args == nil {
		args = map[string]any{}
	}
	value, err := cfg.Handler(ctx, name, args)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": value}
}

func geminiTools(specs []ToolSpec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(specs))
	for i, spec := range specs {
		declarations[i] = &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  geminiSchema(spec.InputSchema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// geminiSchema converts a JSON Schema object to the genai schema type. Only
// the object/properties/required shape the tool specs use is covered.
func geminiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	result := &genai.Schema{Type: genai.TypeObject}

	if props, ok := schema["properties"].(map[string]any); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			prop := &genai.Schema{Type: genai.TypeString}
			if spec, ok := raw.(map[string]any); ok {
				if t, ok := spec["type"].(string); ok {
					prop.Type = geminiType(t)
				}
				if desc, ok := spec["description"].(string); ok {
					prop.Description = desc
				}
			}
			properties[name] = prop
		}
		result.Properties = properties
	}

	switch required := schema["required"].(type) {
	case []string:
		result.Required = required
	case []any:
		for _, v := range required {
			if s, ok := v.(string); ok {
				result.Required = append(result.Required, s)
			}
		}
	}
	return result
}

func geminiType(name string) genai.Type {
	switch name {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	return genai.TypeUnspecified
}
