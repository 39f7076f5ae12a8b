package trident

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MappingWarning is a non-fatal finding from edge mapping validation.
// Strict mode promotes warnings to a ValidationError.
type MappingWarning struct {
	EdgeID  string
	Message string
}

func (w MappingWarning) String() string {
	return fmt.Sprintf("edge %s: %s", w.EdgeID, w.Message)
}

// ValidateProject builds the DAG, validates edge mappings, and recursively
// validates sub-workflow references. In strict mode mapping warnings become
// errors. The returned warnings are informational when err is nil.
func ValidateProject(p *Project, strict bool) ([]MappingWarning, error) {
	dag, err := BuildDAG(p)
	if err != nil {
		return nil, err
	}

	warnings := ValidateMappings(p, dag)
	if strict && len(warnings) > 0 {
		msgs := make([]string, len(warnings))
		for i, w := range warnings {
			msgs[i] = w.String()
		}
		return warnings, &ValidationError{Message: "strict validation failed:\n  " + strings.Join(msgs, "\n  ")}
	}

	visited := map[string]struct{}{p.Root: {}}
	if err := validateSubWorkflows(p, strict, visited); err != nil {
		return warnings, err
	}
	return warnings, nil
}

// ValidateMappings checks every edge mapping against the fields its source
// node produces and its target node expects, including type compatibility.
func ValidateMappings(p *Project, d *DAG) []MappingWarning {
	var warnings []MappingWarning

	for _, edgeID := range sortedKeys(p.Edges) {
		edge := p.Edges[edgeID]
		produced := producedFields(p, edge.FromNode)
		expected := expectedFields(p, edge.ToNode)

		for _, m := range edge.Mappings {
			srcField := m.SourceExpr
			srcField = strings.TrimPrefix(srcField, "output.")
			if i := strings.Index(srcField, "."); i > 0 {
				srcField = srcField[:i]
			}

			srcType, srcKnown := produced[srcField]
			if produced != nil && !srcKnown {
				warnings = append(warnings, MappingWarning{
					EdgeID: edge.ID,
					Message: fmt.Sprintf("source field %q not produced by node %q (has: %s)",
						srcField, edge.FromNode, strings.Join(sortedKeys(produced), ", ")),
				})
				continue
			}

			dstType, dstKnown := expected[m.TargetVar]
			if expected != nil && !dstKnown {
				warnings = append(warnings, MappingWarning{
					EdgeID: edge.ID,
					Message: fmt.Sprintf("target variable %q not expected by node %q (wants: %s)",
						m.TargetVar, edge.ToNode, strings.Join(sortedKeys(expected), ", ")),
				})
				continue
			}

			if srcKnown && dstKnown && !typesCompatible(srcType, dstType) {
				warnings = append(warnings, MappingWarning{
					EdgeID: edge.ID,
					Message: fmt.Sprintf("type mismatch: %s.%s is %s but %s.%s expects %s",
						edge.FromNode, srcField, srcType, edge.ToNode, m.TargetVar, dstType),
				})
			}
		}
	}
	return warnings
}

// producedFields returns field name to type for a node's output, or nil when
// the set is open (anything may be produced).
func producedFields(p *Project, id string) map[string]string {
	switch {
	case p.InputNodes[id] != nil:
		node := p.InputNodes[id]
		if len(node.Schema) == 0 {
			return nil
		}
		fields := make(map[string]string, len(node.Schema))
		for name, spec := range node.Schema {
			fields[name] = spec.Type
		}
		return fields

	case p.Prompts[id] != nil:
		node := p.Prompts[id]
		fields := map[string]string{"text": "string"}
		if node.Output.Format == "json" {
			for name, spec := range node.Output.Fields {
				fields[name] = spec.Type
			}
		}
		return fields

	case p.Tools[id] != nil:
		// Actual fields unknown until the callable runs.
		return map[string]string{"output": ""}

	case p.Agents[id] != nil:
		fields := map[string]string{"text": "string"}
		if prompt := p.Agents[id].Prompt; prompt != nil && prompt.Output.Format == "json" {
			for name, spec := range prompt.Output.Fields {
				fields[name] = spec.Type
			}
		}
		return fields

	case p.Branches[id] != nil:
		return map[string]string{"output": "", "text": "string"}

	case p.Triggers[id] != nil:
		return map[string]string{"triggered": "boolean", "status": "string", "output": ""}

	case p.OutputNodes[id] != nil:
		return map[string]string{}
	}
	return nil
}

// expectedFields returns field name to type for a node's inputs, or nil when
// the node accepts anything.
func expectedFields(p *Project, id string) map[string]string {
	switch {
	case p.Prompts[id] != nil:
		node := p.Prompts[id]
		if len(node.Inputs) == 0 {
			return nil
		}
		fields := make(map[string]string, len(node.Inputs))
		for name, f := range node.Inputs {
			fields[name] = f.Type
		}
		return fields

	case p.Agents[id] != nil:
		prompt := p.Agents[id].Prompt
		if prompt == nil || len(prompt.Inputs) == 0 {
			return nil
		}
		fields := make(map[string]string, len(prompt.Inputs))
		for name, f := range prompt.Inputs {
			fields[name] = f.Type
		}
		return fields
	}
	// Output, tool, branch, trigger, and input nodes accept anything.
	return nil
}

// typesCompatible implements the loose compatibility rules: integer and
// number interchange, object/array serialize to string, unknown or untyped
// fields match anything.
func typesCompatible(src, dst string) bool {
	if src == "" || dst == "" || src == dst {
		return true
	}
	known := map[string]bool{
		"string": true, "number": true, "integer": true,
		"boolean": true, "array": true, "object": true,
	}
	if !known[src] || !known[dst] {
		return true
	}
	switch {
	case src == "integer" && dst == "number", src == "number" && dst == "integer":
		return true
	case (src == "object" || src == "array") && dst == "string":
		return true
	case src == "string" && (dst == "object" || dst == "array"):
		return true
	}
	return false
}

// validateSubWorkflows loads every branch and trigger target, builds its DAG,
// validates its mappings, and recurses. Visited project roots detect
// cross-file cycles; the `self` sentinel is allowed recursion.
func validateSubWorkflows(p *Project, strict bool, visited map[string]struct{}) error {
	paths := make([]string, 0, len(p.Branches)+len(p.Triggers))
	for _, id := range sortedKeys(p.Branches) {
		paths = append(paths, p.Branches[id].WorkflowPath)
	}
	for _, id := range sortedKeys(p.Triggers) {
		paths = append(paths, p.Triggers[id].WorkflowPath)
	}

	for _, wf := range paths {
		if wf == SelfWorkflow {
			continue
		}
		target := wf
		if !filepath.IsAbs(target) {
			target = filepath.Join(p.Root, target)
		}
		target = filepath.Clean(target)
		if _, seen := visited[target]; seen {
			return &ValidationError{Message: fmt.Sprintf("circular workflow reference: %s", target)}
		}

		sub, err := LoadProject(target)
		if err != nil {
			return &ValidationError{Message: fmt.Sprintf("sub-workflow %s: %v", wf, err)}
		}

		dag, err := BuildDAG(sub)
		if err != nil {
			return err
		}
		warnings := ValidateMappings(sub, dag)
		if strict && len(warnings) > 0 {
			msgs := make([]string, len(warnings))
			for i, w := range warnings {
				msgs[i] = w.String()
			}
			return &ValidationError{Message: fmt.Sprintf(
				"sub-workflow %s strict validation failed:\n  %s", wf, strings.Join(msgs, "\n  "))}
		}

		visited[target] = struct{}{}
		if err := validateSubWorkflows(sub, strict, visited); err != nil {
			return err
		}
		delete(visited, target)
	}
	return nil
}
