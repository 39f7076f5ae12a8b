package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initTemplate string

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Scaffold a new workflow project",
	Long: `Scaffold a new workflow project: an agent.tml manifest plus a
prompts/ directory.

Templates:
  minimal   one prompt between an input and an output node (default)
  standard  a two-stage pipeline with a python tool`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInitCmd,
}

func init() {
	projectCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initTemplate, "template", "minimal", "Project template: minimal or standard")
}

func runInitCmd(cmd *cobra.Command, args []string) error {
	dir := projectDir(args)

	var files map[string]string
	switch initTemplate {
	case "minimal":
		files = minimalTemplate
	case "standard":
		files = standardTemplate
	default:
		return fmt.Errorf("unknown template %q: want minimal or standard", initTemplate)
	}

	for _, name := range sortedOutputKeys(asAnyMap(files)) {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists; refusing to overwrite", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(files[name]), 0o644); err != nil {
			return err
		}
		fmt.Printf("created %s\n", path)
	}
	fmt.Printf("\nproject ready; try: trident project run %s --dry-run --input topic=example\n", dir)
	return nil
}

func asAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var minimalTemplate = map[string]string{
	"agent.tml": `trident: "0.3"
name: my-workflow
description: A minimal single-prompt workflow.

defaults:
  model: anthropic/claude-3-5-sonnet-20241022
  temperature: 0.7

nodes:
  request:
    type: input
    schema:
      topic: string, the subject to write about

  result:
    type: output
    format: json

edges:
  request_to_answer:
    from: request
    to: answer
    mapping:
      topic: topic

  answer_to_result:
    from: answer
    to: result
`,
	"prompts/answer.prompt": `---
id: answer
name: Answer
input:
  topic:
    type: string
    required: true
output:
  format: text
---
Write three interesting facts about {{topic}}.
`,
}

var standardTemplate = map[string]string{
	"agent.tml": `trident: "0.3"
name: my-pipeline
description: A two-stage research pipeline with a post-processing tool.

defaults:
  model: anthropic/claude-3-5-sonnet-20241022
  temperature: 0.7

nodes:
  request:
    type: input
    schema:
      topic: string, the subject to research

  report:
    type: output
    format: json

tools:
  word_count:
    type: python
    module: text.stats
    function: word_count
    description: Count words in a piece of text.

edges:
  request_to_research:
    from: request
    to: research
    mapping:
      topic: topic

  research_to_summarize:
    from: research
    to: summarize
    mapping:
      findings: text

  summarize_to_count:
    from: summarize
    to: word_count
    mapping:
      text: summary

  summarize_to_report:
    from: summarize
    to: report

  count_to_report:
    from: word_count
    to: report
`,
	"prompts/research.prompt": `---
id: research
name: Research
input:
  topic:
    type: string
    required: true
output:
  format: text
---
Research the topic below and list the five most important findings.

Topic: {{topic}}
`,
	"prompts/summarize.prompt": `---
id: summarize
name: Summarize
input:
  findings:
    type: string
    required: true
output:
  format: json
  schema:
    summary: string, a two-sentence summary
    confidence: number, confidence from 0 to 1
---
Summarize these findings as JSON with a "summary" string and a
"confidence" number between 0 and 1.

Findings:
{{findings}}
`,
	"tools/text/stats.py": `def word_count(text):
    return {"words": len(str(text).split())}
`,
	".env": `# API keys for providers used by this project.
# ANTHROPIC_API_KEY=
# OPENAI_API_KEY=
`,
}
