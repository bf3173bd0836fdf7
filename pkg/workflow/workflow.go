// Package workflow defines the named workflow unit and the immutable
// registry the boundary layer routes through. The registry is built
// once at startup and injected; there is no global mutable state.
package workflow

import (
	"fmt"
	"sort"

	"github.com/tobiasgrim/supportflow/pkg/conversation"
	"github.com/tobiasgrim/supportflow/pkg/flow"
)

// Workflow is one support scenario: a name plus the compiled node graph
// that handles it end-to-end. Every workflow follows the same
// check, decide, respond shape built from the engine primitives.
type Workflow struct {
	// Name is the stable identifier the router selects by.
	Name string

	// Graph is the compiled node graph. One inbound message triggers
	// exactly one traversal; continuity between turns is carried in the
	// conversation state's resume tag.
	Graph *flow.CompiledGraph[conversation.State]
}

// Registry is the immutable name -> workflow map.
type Registry struct {
	workflows   map[string]*Workflow
	names       []string
	defaultName string
}

// NewRegistry builds a registry from the given workflows.
// defaultName is the safe routing target and must refer to one of them.
func NewRegistry(defaultName string, workflows ...*Workflow) (*Registry, error) {
	m := make(map[string]*Workflow, len(workflows))
	for _, wf := range workflows {
		if wf == nil || wf.Name == "" || wf.Graph == nil {
			return nil, fmt.Errorf("registry: workflow must have a name and a compiled graph")
		}
		if _, exists := m[wf.Name]; exists {
			return nil, fmt.Errorf("registry: duplicate workflow %q", wf.Name)
		}
		m[wf.Name] = wf
	}
	if _, ok := m[defaultName]; !ok {
		return nil, fmt.Errorf("registry: default workflow %q not registered", defaultName)
	}

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Registry{
		workflows:   m,
		names:       names,
		defaultName: defaultName,
	}, nil
}

// Get returns the workflow for a name.
func (r *Registry) Get(name string) (*Workflow, bool) {
	wf, ok := r.workflows[name]
	return wf, ok
}

// Default returns the safe default workflow.
func (r *Registry) Default() *Workflow {
	return r.workflows[r.defaultName]
}

// Names returns the registered workflow names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of registered workflows.
func (r *Registry) Len() int {
	return len(r.workflows)
}
