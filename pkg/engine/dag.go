package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Edge is a dependency between two selected steps: From must run before To.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Tags []string `json:"tags"`
}

// dependencyGraph is built over the selected steps, indexed by recipe position.
type dependencyGraph struct {
	steps []*StepDefinition

	// succ and pred hold node indices, sorted ascending
	succ [][]int
	pred [][]int

	// via maps from*len+to to the tags that created the edge
	via map[int][]string
}

// buildGraph adds an edge A -> B for every tag A provides and B requires,
// A != B. When both steps require and provide the tag (two in-place updates
// of one field or effect) only the edge that follows recipe order is added.
func buildGraph(steps []*StepDefinition) *dependencyGraph {
	n := len(steps)
	g := &dependencyGraph{
		steps: steps,
		succ:  make([][]int, n),
		pred:  make([][]int, n),
		via:   make(map[int][]string),
	}

	providers := make(map[string][]int)
	for i, s := range steps {
		for _, tag := range s.Provides {
			providers[tag] = append(providers[tag], i)
		}
	}

	for b, consumer := range steps {
		for _, tag := range consumer.Requires {
			for _, a := range providers[tag] {
				if a == b {
					continue
				}
				if mutates(steps[a], tag) && mutates(consumer, tag) && a > b {
					continue
				}
				g.addEdge(a, b, tag)
			}
		}
	}

	for i := range g.succ {
		sort.Ints(g.succ[i])
		sort.Ints(g.pred[i])
	}
	return g
}

func mutates(s *StepDefinition, tag string) bool {
	return contains(s.Requires, tag) && contains(s.Provides, tag)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (g *dependencyGraph) addEdge(from, to int, tag string) {
	key := from*len(g.steps) + to
	if _, exists := g.via[key]; !exists {
		g.succ[from] = append(g.succ[from], to)
		g.pred[to] = append(g.pred[to], from)
	}
	g.via[key] = append(g.via[key], tag)
}

// unsatisfied returns the first required tag, in recipe order and then
// declaration order, that reaches its step through no edge.
func (g *dependencyGraph) unsatisfied() (stepID, tag string, found bool) {
	for b, s := range g.steps {
		for _, t := range s.Requires {
			satisfied := false
			for _, a := range g.pred[b] {
				if contains(g.via[a*len(g.steps)+b], t) {
					satisfied = true
					break
				}
			}
			if !satisfied {
				return s.ID, t, true
			}
		}
	}
	return "", "", false
}

// order returns a topological order using Kahn's algorithm. Among ready
// steps the one with the lowest recipe index runs first.
func (g *dependencyGraph) order() ([]int, error) {
	n := len(g.steps)
	inDegree := make([]int, n)
	ready := make([]int, 0, n)
	for i := range g.steps {
		inDegree[i] = len(g.pred[i])
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	out := make([]int, 0, n)
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		out = append(out, next)

		for _, dependent := range g.succ[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				at := sort.SearchInts(ready, dependent)
				ready = append(ready, 0)
				copy(ready[at+1:], ready[at:])
				ready[at] = dependent
			}
		}
	}

	if len(out) != n {
		remaining := make(map[int]bool, n-len(out))
		for i, d := range inDegree {
			if d > 0 {
				remaining[i] = true
			}
		}
		return nil, NewCyclicDependencyError(g.findCycle(remaining))
	}
	return out, nil
}

// findCycle runs a depth-first search over the steps Kahn could not order
// and returns the first cycle found, in cycle order.
func (g *dependencyGraph) findCycle(remaining map[int]bool) []string {
	visited := make(map[int]bool)
	recStack := make(map[int]bool)

	for start := range g.steps {
		if !remaining[start] || visited[start] {
			continue
		}
		if cycle := g.findCycleUtil(start, remaining, visited, recStack, nil); cycle != nil {
			ids := make([]string, len(cycle))
			for i, idx := range cycle {
				ids[i] = g.steps[idx].ID
			}
			return ids
		}
	}

	// unreachable when remaining is non-empty; report every stuck step
	var ids []string
	for i := range g.steps {
		if remaining[i] {
			ids = append(ids, g.steps[i].ID)
		}
	}
	return ids
}

func (g *dependencyGraph) findCycleUtil(node int, remaining, visited, recStack map[int]bool, path []int) []int {
	visited[node] = true
	recStack[node] = true
	path = append(path, node)

	for _, dependent := range g.succ[node] {
		if !remaining[dependent] {
			continue
		}
		if !visited[dependent] {
			if cycle := g.findCycleUtil(dependent, remaining, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					return append([]int(nil), path[i:]...)
				}
			}
		}
	}

	recStack[node] = false
	return nil
}

// edges lists the graph edges ordered by source then target position.
func (g *dependencyGraph) edges(position []int) []Edge {
	var out []Edge
	for from := range g.steps {
		for _, to := range g.succ[from] {
			out = append(out, Edge{
				From: g.steps[from].ID,
				To:   g.steps[to].ID,
				Tags: dedupe(g.via[from*len(g.steps)+to]),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := position[g.indexOf(out[i].From)], position[g.indexOf(out[j].From)]
		if pi != pj {
			return pi < pj
		}
		return position[g.indexOf(out[i].To)] < position[g.indexOf(out[j].To)]
	})
	return out
}

func (g *dependencyGraph) indexOf(id string) int {
	for i, s := range g.steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

// toDOT renders a plan as a Graphviz digraph, one cluster per phase.
func toDOT(steps []PlannedStep, edges []Edge) string {
	var sb strings.Builder

	sb.WriteString("digraph ExecutionPlan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	var phases []string
	byPhase := make(map[string][]PlannedStep)
	for _, s := range steps {
		if _, ok := byPhase[s.Phase]; !ok {
			phases = append(phases, s.Phase)
		}
		byPhase[s.Phase] = append(byPhase[s.Phase], s)
	}

	for i, phase := range phases {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_%d {\n", i))
		sb.WriteString(fmt.Sprintf("    label=%q;\n", phase))
		sb.WriteString("    style=dashed;\n")
		for _, s := range byPhase[phase] {
			label := fmt.Sprintf("%d. %s", s.Index+1, s.ID)
			if s.Config.Strategy != "" {
				label += "\\n[" + s.Config.Strategy + "]"
			}
			sb.WriteString(fmt.Sprintf("    %q [label=\"%s\"];\n", s.ID, label))
		}
		sb.WriteString("  }\n\n")
	}

	for _, e := range edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q [label=%q];\n", e.From, e.To, strings.Join(e.Tags, ", ")))
	}

	sb.WriteString("}\n")
	return sb.String()
}
