// Cycle detection and topological sort algorithms adapted from TaskWing
// (https://github.com/josephgoksu/TaskWing) under MIT License.
package memorycore

import (
	"fmt"
	"strings"
)

// dependencyGraph is the in-memory adjacency-list view of TaskDependency
// edges used by TaskGraph to enforce INV-6 (acyclic at every committed
// state) and to compute readySet/executionOrder.
type dependencyGraph struct {
	nodes map[string]bool
	edges map[string][]string // from -> depends_on
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{
		nodes: make(map[string]bool),
		edges: make(map[string][]string),
	}
}

func (g *dependencyGraph) addNode(id string) {
	g.nodes[id] = true
	if _, exists := g.edges[id]; !exists {
		g.edges[id] = []string{}
	}
}

// addEdge adds a directed edge from -> to ("from" depends on "to"). Fails
// with a *CycleError if the edge would introduce a cycle.
func (g *dependencyGraph) addEdge(from, to string) error {
	g.addNode(from)
	g.addNode(to)

	if g.wouldCreateCycle(from, to) {
		if hasCycle, path := g.hasCycleAfterEdge(from, to); hasCycle {
			return &CycleError{Path: path}
		}
	}

	g.edges[from] = append(g.edges[from], to)
	return nil
}

// removeEdge removes a single from->to edge, if present.
func (g *dependencyGraph) removeEdge(from, to string) {
	deps := g.edges[from]
	out := deps[:0]
	for _, d := range deps {
		if d != to {
			out = append(out, d)
		}
	}
	g.edges[from] = out
}

// hasCycle performs DFS-based cycle detection; returns the cycle path if found.
func (g *dependencyGraph) hasCycle() (bool, []string) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	parent := make(map[string]string)

	var dfs func(node string) (bool, []string)
	dfs = func(node string) (bool, []string) {
		visited[node] = true
		recStack[node] = true

		for _, neighbor := range g.edges[node] {
			if !visited[neighbor] {
				parent[neighbor] = node
				if hasCycle, path := dfs(neighbor); hasCycle {
					return true, path
				}
			} else if recStack[neighbor] {
				cycle := []string{neighbor}
				current := node
				for current != neighbor {
					cycle = append([]string{current}, cycle...)
					current = parent[current]
				}
				cycle = append([]string{neighbor}, cycle...)
				return true, cycle
			}
		}

		recStack[node] = false
		return false, nil
	}

	for node := range g.nodes {
		if !visited[node] {
			if hasCycle, path := dfs(node); hasCycle {
				return true, path
			}
		}
	}

	return false, nil
}

func (g *dependencyGraph) hasCycleAfterEdge(from, to string) (bool, []string) {
	original := make([]string, len(g.edges[from]))
	copy(original, g.edges[from])
	g.edges[from] = append(g.edges[from], to)

	hasCycle, path := g.hasCycle()

	g.edges[from] = original
	return hasCycle, path
}

// wouldCreateCycle reports whether adding from->to would create a cycle:
// true iff "to" can already reach "from".
func (g *dependencyGraph) wouldCreateCycle(from, to string) bool {
	return g.canReach(to, from)
}

func (g *dependencyGraph) canReach(from, to string) bool {
	if from == to {
		return true
	}

	visited := make(map[string]bool)
	queue := []string{from}
	visited[from] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, neighbor := range g.edges[current] {
			if neighbor == to {
				return true
			}
			if !visited[neighbor] {
				visited[neighbor] = true
				queue = append(queue, neighbor)
			}
		}
	}

	return false
}

// topologicalSort returns nodes in dependency-first order via Kahn's
// algorithm (dependencies before dependents).
func (g *dependencyGraph) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int)
	for node := range g.nodes {
		inDegree[node] = 0
	}
	for _, neighbors := range g.edges {
		for _, neighbor := range neighbors {
			inDegree[neighbor]++
		}
	}

	queue := []string{}
	for node, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, node)
		}
	}

	result := []string{}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		for _, neighbor := range g.edges[current] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if len(result) != len(g.nodes) {
		if hasCycle, path := g.hasCycle(); hasCycle {
			return nil, &CycleError{Path: path}
		}
		return nil, fmt.Errorf("topological sort failed: graph may contain cycle")
	}

	// Kahn's algorithm yields dependents before their dependencies here,
	// since edges point from->depends_on and we drain zero in-degree (no
	// dependents) nodes first; depends_on-heavy nodes have high in-degree
	// since edges point toward them. Reverse to get "execute leaf
	// dependencies first".
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// blockers returns the direct+transitive "depends_on" closure for nodeID.
func (g *dependencyGraph) blockers(nodeID string) []string {
	if !g.nodes[nodeID] {
		return nil
	}

	visited := make(map[string]bool)
	queue := []string{nodeID}
	visited[nodeID] = true
	var blockers []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, dependency := range g.edges[current] {
			if !visited[dependency] {
				visited[dependency] = true
				blockers = append(blockers, dependency)
				queue = append(queue, dependency)
			}
		}
	}

	return blockers
}

// CycleError reports a circular dependency.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return "circular dependency detected"
	}
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Path, " -> "))
}

// IsCycleError reports whether err is a *CycleError.
func IsCycleError(err error) bool {
	_, ok := err.(*CycleError)
	return ok
}
