package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DAGBuilder validates a step set and computes a deterministic execution
// order.
type DAGBuilder struct {
	// steps maps step IDs to their definitions
	steps map[string]*Step

	// index preserves declaration order for tie-breaking
	index map[string]int

	// dependents maps step IDs to the steps that depend on them
	dependents map[string][]string

	// inDegree tracks the number of unfinished dependencies of each step
	inDegree map[string]int

	// levels groups step IDs by dependency depth
	levels [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		steps:      make(map[string]*Step),
		index:      make(map[string]int),
		dependents: make(map[string][]string),
		inDegree:   make(map[string]int),
	}
}

// Build validates the steps and returns them in topological order.
// Among steps whose dependencies are satisfied, declaration order wins.
// Cycles, duplicate IDs and unknown dependencies are Configuration errors.
func (b *DAGBuilder) Build(steps []Step) ([]Step, error) {
	if len(steps) == 0 {
		return []Step{}, nil
	}

	if err := b.initialize(steps); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	return b.order(), nil
}

func (b *DAGBuilder) initialize(steps []Step) error {
	for i := range steps {
		step := &steps[i]
		if step.ID == "" {
			return NewConfigurationError(fmt.Sprintf("step %d has an empty ID", i), nil).
				WithCode(CodeValidation)
		}

		if _, exists := b.steps[step.ID]; exists {
			return NewConfigurationError(fmt.Sprintf("duplicate step ID: %s", step.ID), nil).
				WithCode(CodeDuplicateStep).WithStep(step.ID)
		}

		b.steps[step.ID] = step
		b.index[step.ID] = i
		b.inDegree[step.ID] = 0
	}

	for i := range steps {
		step := &steps[i]
		seen := make(map[string]bool, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			if _, exists := b.steps[dep]; !exists {
				return NewConfigurationError(
					fmt.Sprintf("step %s depends on unknown step %s", step.ID, dep), nil,
				).WithCode(CodeUnknownDependency).WithStep(step.ID).
					WithRemediation("Declare the missing step or remove it from depends_on")
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true

			b.dependents[dep] = append(b.dependents[dep], step.ID)
			b.inDegree[step.ID]++
		}
	}

	return nil
}

// detectCycles uses depth-first search in declaration order so the
// reported cycle is stable across runs.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	for _, id := range b.sortedIDs() {
		if visited[id] {
			continue
		}
		if cycle := b.visit(id, visited, onStack, nil); cycle != nil {
			return NewConfigurationError(
				fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, " -> ")), nil,
			).WithCode(CodeCycle).
				WithRemediation("Remove one of the depends_on entries forming the cycle")
		}
	}

	return nil
}

func (b *DAGBuilder) visit(id string, visited, onStack map[string]bool, path []string) []string {
	visited[id] = true
	onStack[id] = true
	path = append(path, id)

	for _, next := range b.dependents[id] {
		if !visited[next] {
			if cycle := b.visit(next, visited, onStack, path); cycle != nil {
				return cycle
			}
			continue
		}
		if onStack[next] {
			for i, p := range path {
				if p == next {
					return append(append([]string{}, path[i:]...), next)
				}
			}
		}
	}

	onStack[id] = false
	return nil
}

// order runs Kahn's algorithm level by level, keeping declaration order
// within a level.
func (b *DAGBuilder) order() []Step {
	remaining := make(map[string]int, len(b.inDegree))
	for id, d := range b.inDegree {
		remaining[id] = d
	}

	current := make([]string, 0)
	for _, id := range b.sortedIDs() {
		if remaining[id] == 0 {
			current = append(current, id)
		}
	}

	ordered := make([]Step, 0, len(b.steps))
	for len(current) > 0 {
		b.levels = append(b.levels, current)

		next := make([]string, 0)
		for _, id := range current {
			ordered = append(ordered, *b.steps[id])
			for _, dependent := range b.dependents[id] {
				remaining[dependent]--
				if remaining[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool { return b.index[next[i]] < b.index[next[j]] })
		current = next
	}

	return ordered
}

func (b *DAGBuilder) sortedIDs() []string {
	ids := make([]string, 0, len(b.steps))
	for id := range b.steps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return b.index[ids[i]] < b.index[ids[j]] })
	return ids
}

// ToDOT renders the built graph in Graphviz DOT format. Steps at the same
// dependency depth share a rank.
func (b *DAGBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Setup {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n")

	for _, id := range b.sortedIDs() {
		step := b.steps[id]
		fmt.Fprintf(&sb, "  %q [label=%q];\n", id, fmt.Sprintf("%s (%s)", id, step.Action.Kind))
	}
	for _, level := range b.levels {
		if len(level) < 2 {
			continue
		}
		sb.WriteString("  { rank=same;")
		for _, id := range level {
			fmt.Fprintf(&sb, " %q;", id)
		}
		sb.WriteString(" }\n")
	}
	for _, id := range b.sortedIDs() {
		for _, dep := range b.steps[id].DependsOn {
			fmt.Fprintf(&sb, "  %q -> %q;\n", dep, id)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
