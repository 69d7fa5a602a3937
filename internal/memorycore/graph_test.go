package memorycore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyGraph_AddEdgeDetectsCycle(t *testing.T) {
	g := newDependencyGraph()
	require.NoError(t, g.addEdge("b", "a")) // b depends on a
	require.NoError(t, g.addEdge("c", "b")) // c depends on b

	err := g.addEdge("a", "c") // a depends on c would close the loop
	require.Error(t, err)
	assert.True(t, IsCycleError(err))
}

func TestDependencyGraph_AddEdgeSelfCycle(t *testing.T) {
	g := newDependencyGraph()
	err := g.addEdge("a", "a")
	require.Error(t, err)
	assert.True(t, IsCycleError(err))
}

func TestDependencyGraph_RemoveEdgeBreaksCycleRisk(t *testing.T) {
	g := newDependencyGraph()
	require.NoError(t, g.addEdge("b", "a"))
	g.removeEdge("b", "a")
	// now a->b is safe again
	require.NoError(t, g.addEdge("a", "b"))
}

func TestDependencyGraph_TopologicalSortLeafFirst(t *testing.T) {
	g := newDependencyGraph()
	// c depends on b, b depends on a: a is the leaf dependency.
	require.NoError(t, g.addEdge("c", "b"))
	require.NoError(t, g.addEdge("b", "a"))

	order, err := g.topologicalSort()
	require.NoError(t, err)
	require.Len(t, order, 3)

	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	assert.Less(t, pos["a"], pos["b"], "a (leaf dependency) must come before b")
	assert.Less(t, pos["b"], pos["c"], "b must come before c (which depends on it)")
}

func TestDependencyGraph_Blockers(t *testing.T) {
	g := newDependencyGraph()
	require.NoError(t, g.addEdge("c", "b"))
	require.NoError(t, g.addEdge("b", "a"))

	blockers := g.blockers("c")
	assert.ElementsMatch(t, []string{"a", "b"}, blockers)

	assert.Empty(t, g.blockers("a"))
	assert.Nil(t, g.blockers("nonexistent"))
}

func TestDependencyGraph_CanReach(t *testing.T) {
	g := newDependencyGraph()
	require.NoError(t, g.addEdge("c", "b"))
	require.NoError(t, g.addEdge("b", "a"))

	assert.True(t, g.canReach("c", "a"))
	assert.False(t, g.canReach("a", "c"))
	assert.True(t, g.canReach("a", "a"))
}

func TestCycleError_MessageIncludesPath(t *testing.T) {
	err := &CycleError{Path: []string{"a", "b", "a"}}
	assert.Contains(t, err.Error(), "a -> b -> a")
}

func TestIsCycleError_FalseForOtherErrors(t *testing.T) {
	assert.False(t, IsCycleError(ErrConflict))
}
