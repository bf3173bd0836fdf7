package flow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter is the state used throughout the engine tests.
type counter struct {
	Value int
	Trail []string
}

func step(name string) NodeFunc[counter] {
	return func(_ Context, s counter) (counter, error) {
		s.Value++
		s.Trail = append(s.Trail, name)
		return s, nil
	}
}

func TestNewGraph(t *testing.T) {
	g := NewGraph[counter]()
	assert.NotNil(t, g)
	assert.NotNil(t, g.nodes)
	assert.NotNil(t, g.edges)
	assert.NotNil(t, g.conditionalEdges)
	assert.Empty(t, g.entryPoint)
}

func TestGraph_AddNode(t *testing.T) {
	g := NewGraph[counter]().
		AddNode("a", step("a")).
		AddNode("b", step("b"))

	assert.Len(t, g.nodes, 2)
	assert.Contains(t, g.nodes, "a")
	assert.Contains(t, g.nodes, "b")
}

func TestGraph_AddNode_Chaining(t *testing.T) {
	g := NewGraph[counter]()
	assert.Same(t, g, g.AddNode("a", step("a")))
}

func TestGraph_AddNode_EmptyID_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "flow: node ID cannot be empty", func() {
		NewGraph[counter]().AddNode("", step("a"))
	})
}

func TestGraph_AddNode_ReservedID_Panics(t *testing.T) {
	for _, id := range []string{"END", "end", "End", "__end__", "__END__"} {
		t.Run(id, func(t *testing.T) {
			assert.PanicsWithValue(t, "flow: node ID cannot be reserved word 'END'", func() {
				NewGraph[counter]().AddNode(id, step("a"))
			})
		})
	}
}

func TestGraph_AddNode_WhitespaceID_Panics(t *testing.T) {
	for _, id := range []string{"node a", "node\ta", "node\na", " node", "node "} {
		assert.PanicsWithValue(t, "flow: node ID cannot contain whitespace", func() {
			NewGraph[counter]().AddNode(id, step("a"))
		})
	}
}

func TestGraph_AddNode_NilFunc_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "flow: node function cannot be nil", func() {
		NewGraph[counter]().AddNode("a", nil)
	})
}

func TestGraph_AddNode_Duplicate_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "flow: duplicate node ID: a", func() {
		NewGraph[counter]().
			AddNode("a", step("a")).
			AddNode("a", step("a"))
	})
}

func TestGraph_AddConditionalEdge_NilRouter_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "flow: router function cannot be nil", func() {
		NewGraph[counter]().AddNode("a", step("a")).AddConditionalEdge("a", nil)
	})
}

func TestCompile_Valid(t *testing.T) {
	cg, err := NewGraph[counter]().
		AddNode("a", step("a")).
		AddNode("b", step("b")).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntry("a").
		Compile()

	require.NoError(t, err)
	assert.Equal(t, "a", cg.EntryPoint())
	assert.ElementsMatch(t, []string{"a", "b"}, cg.NodeIDs())
	assert.True(t, cg.HasNode("a"))
	assert.False(t, cg.HasNode("missing"))
	assert.Equal(t, []string{"b"}, cg.Successors("a"))
	assert.Equal(t, []string{"a"}, cg.Predecessors("b"))
}

func TestCompile_NoEntryPoint(t *testing.T) {
	_, err := NewGraph[counter]().
		AddNode("a", step("a")).
		AddEdge("a", END).
		Compile()

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoEntryPoint)
}

func TestCompile_EntryNotFound(t *testing.T) {
	_, err := NewGraph[counter]().
		AddNode("a", step("a")).
		AddEdge("a", END).
		SetEntry("missing").
		Compile()

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestCompile_EdgeTargetNotFound(t *testing.T) {
	_, err := NewGraph[counter]().
		AddNode("a", step("a")).
		AddEdge("a", "ghost").
		SetEntry("a").
		Compile()

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestCompile_NoPathToEnd(t *testing.T) {
	_, err := NewGraph[counter]().
		AddNode("a", step("a")).
		AddNode("b", step("b")).
		AddEdge("a", "b").
		AddEdge("b", "a").
		SetEntry("a").
		Compile()

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPathToEnd)
}

func TestCompile_JoinsAllErrors(t *testing.T) {
	_, err := NewGraph[counter]().
		AddNode("a", step("a")).
		AddEdge("a", "ghost").
		Compile()

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoEntryPoint))
	assert.True(t, errors.Is(err, ErrNodeNotFound))
}

func TestMustCompile_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() {
		NewGraph[counter]().AddNode("a", step("a")).MustCompile()
	})
}
