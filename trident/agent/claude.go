package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
)

func init() {
	Register(&Claude{})
}

// Claude drives the Anthropic Messages API in a tool-use loop: the model's
// tool_use blocks are dispatched through the configured ToolHandler and fed
// back as tool_result blocks until the model produces a final answer or the
// turn budget is exhausted.
type Claude struct {
	client *anthropic.Client
}

// Name implements Agent.
func (c *Claude) Name() string { return DefaultProvider }

// DefaultModel is used when neither the node nor the project names one.
const DefaultModel = "claude-3-5-sonnet-20241022"

func (c *Claude) ensureClient() error {
	if c.client != nil {
		return nil
	}
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}
	client := anthropic.NewClient(option.WithAPIKey(key))
	c.client = &client
	return nil
}

// Execute implements Agent.
func (c *Claude) Execute(ctx context.Context, prompt string, cfg Config) (*Result, error) {
	if err := c.ensureClient(); err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 50
	}
	sessionID := cfg.ResumeSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var mcp *mcpToolset
	available := cfg.Tools
	if len(cfg.MCPServers) > 0 {
		var err error
		mcp, err = connectMCPServers(ctx, cfg.MCPServers)
		if err != nil {
			return nil, err
		}
		defer mcp.Close()
		available = append(append([]ToolSpec(nil), cfg.Tools...), mcp.specs...)
	}

	tools := make([]anthropic.ToolUnionParam, 0, len(available))
	for _, spec := range available {
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: spec.InputSchema["properties"],
				},
			},
		})
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(withSchemaInstructions(prompt, cfg))),
	}

	result := &Result{SessionID: sessionID}
	var finalText string

	for turn := 0; turn < maxTurns; turn++ {
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: 8192,
			Messages:  messages,
		}
		if len(tools) > 0 {
			params.Tools = tools
		}

		message, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("agent turn %d: %w", turn+1, err)
		}

		result.NumTurns = turn + 1
		result.InputTokens += int(message.Usage.InputTokens)
		result.OutputTokens += int(message.Usage.OutputTokens)

		var toolResults []anthropic.ContentBlockParamUnion
		for _, block := range message.Content {
			switch block.Type {
			case "text":
				finalText = block.Text
				if cfg.OnMessage != nil {
					cfg.OnMessage(block.Text)
				}
			case "tool_use":
				content, isError := c.dispatchTool(ctx, cfg, mcp, block.Name, block.Input)
				toolResults = append(toolResults,
					anthropic.NewToolResultBlock(block.ID, content, isError))
			}
		}

		if len(toolResults) == 0 {
			break
		}
		messages = append(messages, message.ToParam())
		messages = append(messages, anthropic.NewUserMessage(toolResults...))
	}

	result.Text = finalText
	output, err := ParseOutput(finalText, cfg.OutputFormat)
	if err != nil {
		return nil, err
	}
	result.Output = output
	return result, nil
}

// dispatchTool routes mcp__-prefixed names to the connected MCP servers and
// everything else to the configured ToolHandler.
func (c *Claude) dispatchTool(ctx context.Context, cfg Config, mcp *mcpToolset, name string, input json.RawMessage) (string, bool) {
	args := make(map[string]any)
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return fmt.Sprintf("invalid tool arguments: %v", err), true
		}
	}
	if mcp != nil {
		if content, isError, handled := mcp.Call(name, args); handled {
			return content, isError
		}
	}
	if cfg.Handler == nil {
		return fmt.Sprintf("tool %s is not available", name), true
	}
	value, err := cfg.Handler(ctx, name, args)
	if err != nil {
		return err.Error(), true
	}
	switch v := value.(type) {
	case string:
		return v, false
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), false
		}
		return string(data), false
	}
}

// ParseOutput turns the final assistant text into the node output map:
// {"text": ...} for text format, or the extracted JSON object (plus the raw
// text) for json format.
func ParseOutput(text, format string) (map[string]any, error) {
	if format != "json" {
		return map[string]any{"text": text}, nil
	}
	parsed, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}
	parsed["text"] = text
	return parsed, nil
}

func withSchemaInstructions(prompt string, cfg Config) string {
	if cfg.OutputFormat != "json" {
		return prompt
	}
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nWhen you are done, respond with a single JSON object as your final message.")
	if cfg.Schema != nil {
		if schema, err := json.Marshal(cfg.Schema); err == nil {
			sb.WriteString(" It must match this JSON Schema:\n")
			sb.Write(schema)
		}
	}
	return sb.String()
}
