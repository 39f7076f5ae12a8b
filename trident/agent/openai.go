package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
)

func init() {
	Register(&OpenAI{})
}

// OpenAI drives the Chat Completions API in a function-calling loop: tool
// calls are dispatched through the configured ToolHandler and fed back as
// tool messages until the model produces a final answer or the turn budget
// is exhausted. MCP servers are not supported and are ignored.
type OpenAI struct {
	client *openai.Client
}

// Name implements Agent.
func (o *OpenAI) Name() string { return "openai" }

const openAIDefaultModel = "gpt-4o"

func (o *OpenAI) ensureClient() error {
	if o.client != nil {
		return nil
	}
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set")
	}
	client := openai.NewClient(option.WithAPIKey(key))
	o.client = &client
	return nil
}

// Execute implements Agent.
func (o *OpenAI) Execute(ctx context.Context, prompt string, cfg Config) (*Result, error) {
	if err := o.ensureClient(); err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = openAIDefaultModel
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 50
	}
	sessionID := cfg.ResumeSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(cfg.Tools))
	for _, spec := range cfg.Tools {
		tools = append(tools, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        spec.Name,
			Description: openai.String(spec.Description),
			Parameters:  shared.FunctionParameters(spec.InputSchema),
		}))
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(withSchemaInstructions(prompt, cfg)),
	}

	result := &Result{SessionID: sessionID}
	var finalText string

	for turn := 0; turn < maxTurns; turn++ {
		params := openai.ChatCompletionNewParams{
			Model:    shared.ChatModel(model),
			Messages: messages,
		}
		if len(tools) > 0 {
			params.Tools = tools
		}

		completion, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("agent turn %d: %w", turn+1, err)
		}
		if len(completion.Choices) == 0 {
			return nil, fmt.Errorf("agent turn %d: empty response", turn+1)
		}

		msg := completion.Choices[0].Message
		result.NumTurns = turn + 1
		result.InputTokens += int(completion.Usage.PromptTokens)
		result.OutputTokens += int(completion.Usage.CompletionTokens)

		if msg.Content != "" {
			finalText = msg.Content
			if cfg.OnMessage != nil {
				cfg.OnMessage(msg.Content)
			}
		}

		if len(msg.ToolCalls) == 0 {
			break
		}
		messages = append(messages, msg.ToParam())
		for _, call := range msg.ToolCalls {
			content := o.runTool(ctx, cfg, call.Function.Name, call.Function.Arguments)
			messages = append(messages, openai.ToolMessage(content, call.ID))
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

func (o *OpenAI) runTool(ctx context.Context, cfg Config, name, rawArgs string) string {
	if cfg.Handler == nil {
		return fmt.Sprintf("tool %s is not available", name)
	}
	args := make(map[string]any)
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return fmt.Sprintf("invalid tool arguments: %v", err)
		}
	}
	value, err := cfg.Handler(ctx, name, args)
	if err != nil {
		return err.Error()
	}
	switch v := value.(type) {
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
