package trident

import (
	"fmt"
	"sort"
	"strings"
)

// DAGNode is one vertex in the execution graph. It carries only the id, the
// kind tag, and the attached edges; kind-specific configuration stays in the
// Project and is looked up by id at dispatch time.
type DAGNode struct {
	ID       string
	Kind     NodeKind
	Incoming []*Edge
	Outgoing []*Edge
}

// DAG is the validated execution graph. Order is the flattened topological
// order; Levels groups nodes that may run concurrently, each level sorted by
// id for determinism.
type DAG struct {
	Nodes  map[string]*DAGNode
	Order  []string
	Levels [][]string
}

// BuildDAG builds and validates the execution graph for a project.
//
// Every node id across all kinds becomes a vertex. Edges must reference known
// nodes and may not form self-loops. Layering uses Kahn's algorithm taking
// all zero-in-degree nodes per round; if the layers do not cover the node set
// a cycle exists and the remaining nodes are reported.
func BuildDAG(p *Project) (*DAG, error) {
	nodes := make(map[string]*DAGNode)
	for _, id := range p.NodeIDs() {
		kind, _ := p.KindOf(id)
		nodes[id] = &DAGNode{ID: id, Kind: kind}
	}

	for _, edgeID := range sortedKeys(p.Edges) {
		edge := p.Edges[edgeID]
		from, ok := nodes[edge.FromNode]
		if !ok {
			return nil, &DAGError{Message: fmt.Sprintf(
				"edge %s references unknown source node: %s", edge.ID, edge.FromNode)}
		}
		to, ok := nodes[edge.ToNode]
		if !ok {
			return nil, &DAGError{Message: fmt.Sprintf(
				"edge %s references unknown target node: %s", edge.ID, edge.ToNode)}
		}
		if edge.FromNode == edge.ToNode {
			return nil, &DAGError{Message: fmt.Sprintf(
				"edge %s is a self-loop on node %s", edge.ID, edge.FromNode)}
		}
		from.Outgoing = append(from.Outgoing, edge)
		to.Incoming = append(to.Incoming, edge)
	}

	// Stable edge order per node so downstream tie-breaks are reproducible.
	for _, node := range nodes {
		sort.Slice(node.Incoming, func(i, j int) bool { return node.Incoming[i].ID < node.Incoming[j].ID })
		sort.Slice(node.Outgoing, func(i, j int) bool { return node.Outgoing[i].ID < node.Outgoing[j].ID })
	}

	inDegree := make(map[string]int, len(nodes))
	for id, node := range nodes {
		inDegree[id] = len(node.Incoming)
	}

	var levels [][]string
	var order []string
	placed := 0
	for placed < len(nodes) {
		var level []string
		for id, deg := range inDegree {
			if deg == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			remaining := make([]string, 0, len(nodes)-placed)
			for id, deg := range inDegree {
				if deg > 0 {
					remaining = append(remaining, id)
				}
			}
			sort.Strings(remaining)
			return nil, &DAGError{Message: fmt.Sprintf(
				"cycle detected in DAG, nodes involved: %s", strings.Join(remaining, ", "))}
		}
		sort.Strings(level)
		for _, id := range level {
			delete(inDegree, id)
			for _, edge := range nodes[id].Outgoing {
				if _, pending := inDegree[edge.ToNode]; pending {
					inDegree[edge.ToNode]--
				}
			}
		}
		levels = append(levels, level)
		order = append(order, level...)
		placed += len(level)
	}

	return &DAG{Nodes: nodes, Order: order, Levels: levels}, nil
}

// Ancestors returns the transitive upstream closure of a node (not including
// the node itself).
func (d *DAG) Ancestors(id string) map[string]struct{} {
	result := make(map[string]struct{})
	var walk func(string)
	walk = func(cur string) {
		node, ok := d.Nodes[cur]
		if !ok {
			return
		}
		for _, edge := range node.Incoming {
			if _, seen := result[edge.FromNode]; seen {
				continue
			}
			result[edge.FromNode] = struct{}{}
			walk(edge.FromNode)
		}
	}
	walk(id)
	return result
}

// Upstream returns the direct predecessors of a node.
func (d *DAG) Upstream(id string) []string {
	node, ok := d.Nodes[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(node.Incoming))
	for _, edge := range node.Incoming {
		out = append(out, edge.FromNode)
	}
	return out
}

// Downstream returns the direct successors of a node.
func (d *DAG) Downstream(id string) []string {
	node, ok := d.Nodes[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(node.Outgoing))
	for _, edge := range node.Outgoing {
		out = append(out, edge.ToNode)
	}
	return out
}

var kindSymbols = map[NodeKind]string{
	KindInput:   "[I]",
	KindOutput:  "[O]",
	KindPrompt:  "[P]",
	KindTool:    "[T]",
	KindAgent:   "[A]",
	KindBranch:  "[B]",
	KindTrigger: "[G]",
}

func symbolFor(kind NodeKind) string {
	if s, ok := kindSymbols[kind]; ok {
		return s
	}
	return "[?]"
}

// RenderASCII renders the graph as indented text in execution order.
func (d *DAG) RenderASCII() string {
	if len(d.Nodes) == 0 {
		return "No nodes found"
	}

	var b strings.Builder
	b.WriteString("DAG Visualization:\n\n")
	for i, id := range d.Order {
		node := d.Nodes[id]
		fmt.Fprintf(&b, "%s %s\n", symbolFor(node.Kind), id)
		for j, edge := range node.Outgoing {
			connector := "├──"
			if j == len(node.Outgoing)-1 {
				connector = "└──"
			}
			target := d.Nodes[edge.ToNode]
			fmt.Fprintf(&b, "  %s> %s %s", connector, symbolFor(target.Kind), edge.ToNode)
			if edge.Condition != "" {
				fmt.Fprintf(&b, " (if %s)", edge.Condition)
			}
			b.WriteString("\n")
		}
		if i < len(d.Order)-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString("\nLegend: [I] Input, [P] Prompt, [T] Tool, [A] Agent, [B] Branch, [G] Trigger, [O] Output")
	return b.String()
}

// RenderMermaid renders the graph as a Mermaid flowchart. Direction is one of
// TD, LR, BT, RL.
func (d *DAG) RenderMermaid(direction string) string {
	switch direction {
	case "TD", "LR", "BT", "RL":
	default:
		direction = "TD"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "flowchart %s\n", direction)
	for _, id := range d.Order {
		node := d.Nodes[id]
		switch node.Kind {
		case KindInput:
			fmt.Fprintf(&b, "  %s([%s])\n", id, id)
		case KindOutput:
			fmt.Fprintf(&b, "  %s[[%s]]\n", id, id)
		case KindBranch, KindTrigger:
			fmt.Fprintf(&b, "  %s{{%s}}\n", id, id)
		default:
			fmt.Fprintf(&b, "  %s[%s]\n", id, id)
		}
	}
	for _, id := range d.Order {
		for _, edge := range d.Nodes[id].Outgoing {
			if edge.Condition != "" {
				fmt.Fprintf(&b, "  %s -->|%s| %s\n", edge.FromNode, edge.Condition, edge.ToNode)
			} else {
				fmt.Fprintf(&b, "  %s --> %s\n", edge.FromNode, edge.ToNode)
			}
		}
	}
	return b.String()
}
