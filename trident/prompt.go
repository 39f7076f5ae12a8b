package trident

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var frontmatterDelim = regexp.MustCompile(`(?m)^---\s*$`)

type promptFrontmatter struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Model       string         `yaml:"model"`
	Temperature *float64       `yaml:"temperature"`
	MaxTokens   *int           `yaml:"max_tokens"`
	Input       map[string]any `yaml:"input"`
	Output      *struct {
		Format string         `yaml:"format"`
		Schema map[string]any `yaml:"schema"`
	} `yaml:"output"`
}

// ParsePromptFile parses a .prompt file: YAML frontmatter between two ---
// delimiters, then a free-form template body.
//
// The frontmatter requires an id. Input fields accept either a bare entry
// (a required string) or a mapping with type, description, required, and
// default. Output schema fields accept both the compact "type, description"
// string form and the {type, description} mapping form.
func ParsePromptFile(path string) (*PromptNode, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Message: "cannot read prompt file", Cause: err}
	}

	parts := frontmatterDelim.Split(string(content), 3)
	if len(parts) < 3 {
		return nil, &ParseError{Path: path, Message: "missing frontmatter delimiters"}
	}

	var fm promptFrontmatter
	if err := yaml.Unmarshal([]byte(parts[1]), &fm); err != nil {
		return nil, &ParseError{Path: path, Message: "invalid frontmatter", Cause: err}
	}
	if fm.ID == "" {
		return nil, &ParseError{Path: path, Message: "missing required 'id' in frontmatter"}
	}

	node := &PromptNode{
		ID:          fm.ID,
		Name:        fm.Name,
		Description: fm.Description,
		Model:       fm.Model,
		Temperature: fm.Temperature,
		MaxTokens:   fm.MaxTokens,
		Inputs:      make(map[string]InputField),
		Output:      OutputSchema{Format: "text"},
		Body:        strings.TrimSpace(parts[2]),
		FilePath:    path,
	}

	for name, raw := range fm.Input {
		switch spec := raw.(type) {
		case map[string]any:
			field := InputField{
				Type:        getString(spec, "type", "string"),
				Description: getString(spec, "description", ""),
				Required:    getBool(spec, "required", true),
			}
			if d, ok := spec["default"]; ok {
				field.Default = d
			}
			node.Inputs[name] = field
		default:
			node.Inputs[name] = InputField{Type: "string", Required: true}
		}
	}

	if fm.Output != nil {
		if fm.Output.Format != "" {
			node.Output.Format = fm.Output.Format
		}
		if fm.Output.Format != "text" && fm.Output.Format != "json" && fm.Output.Format != "" {
			return nil, &ParseError{
				Path:    path,
				Message: fmt.Sprintf("output format must be text or json, got %q", fm.Output.Format),
			}
		}
		if len(fm.Output.Schema) > 0 {
			node.Output.Fields = make(map[string]FieldSpec, len(fm.Output.Schema))
			for fname, fspec := range fm.Output.Schema {
				node.Output.Fields[fname] = parseFieldSpec(fspec)
			}
		}
	}

	return node, nil
}
