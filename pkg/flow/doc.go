// Package flow implements the workflow graph engine used by every
// support scenario: a directed graph of named nodes connected by
// unconditional or conditional edges, executed synchronously from a
// single entry point until the END sentinel is reached.
//
// Build a graph with NewGraph, compile it once at startup with Compile,
// and share the resulting CompiledGraph across goroutines. Nodes are
// plain functions over the state type; continuity between runs is
// carried entirely in the state, never inside the engine.
package flow
