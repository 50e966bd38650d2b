package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reductus/engine/internal/dataflow"
	"github.com/reductus/engine/internal/registry"
	"github.com/reductus/engine/internal/template"
)

func noop(_ dataflow.ActionContext, _ dataflow.Inputs, _ map[string]any) (dataflow.Outputs, error) {
	return nil, nil
}

func setup(t *testing.T) (*registry.Registry, *template.Template) {
	t.Helper()
	r := registry.New()
	_, err := r.Register(&registry.ModuleDefinition{
		ID:      "load",
		Outputs: []registry.OutputTerminal{{ID: "output", Datatype: "refldata"}},
		Action:  noop,
	})
	require.NoError(t, err)
	_, err = r.Register(&registry.ModuleDefinition{
		ID:      "scale",
		Inputs:  []registry.InputTerminal{{ID: "data", Datatype: "refldata", Required: true}},
		Outputs: []registry.OutputTerminal{{ID: "output", Datatype: "refldata"}},
		Fields:  []registry.Field{{ID: "factor", Datatype: registry.FieldFloat}},
		Action:  noop,
	})
	require.NoError(t, err)

	tmpl := &template.Template{
		Modules: []template.Module{
			{ModuleID: "load"},
			{ModuleID: "scale", Config: map[string]any{"factor": 2.0}},
		},
		Wires: []template.Wire{
			{Source: template.WireEnd{Node: 0, Terminal: "output"}, Target: template.WireEnd{Node: 1, Terminal: "data"}},
		},
	}
	return r, tmpl
}

func TestComputeIsDeterministic(t *testing.T) {
	r, tmpl := setup(t)
	req := Request{Target: 1, ReturnType: "data"}

	a, err := Compute(tmpl, r, req)
	require.NoError(t, err)
	b, err := Compute(tmpl, r, req)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 40)
}

func TestComputeChangesWithConfig(t *testing.T) {
	r, tmpl := setup(t)
	req := Request{Target: 1, ReturnType: "data"}

	before, err := Compute(tmpl, r, req)
	require.NoError(t, err)

	tmpl.Modules[1].Config["factor"] = 3.0
	after, err := Compute(tmpl, r, req)
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestComputeChangesOnVersionBump(t *testing.T) {
	r, tmpl := setup(t)
	req := Request{Target: 1, ReturnType: "data"}

	before, err := Compute(tmpl, r, req)
	require.NoError(t, err)

	_, err = r.Register(&registry.ModuleDefinition{
		ID:      "scale",
		Inputs:  []registry.InputTerminal{{ID: "data", Datatype: "refldata", Required: true}},
		Outputs: []registry.OutputTerminal{{ID: "output", Datatype: "refldata"}},
		Fields:  []registry.Field{{ID: "factor", Datatype: registry.FieldFloat}},
		Action:  noop,
	})
	require.NoError(t, err)

	after, err := Compute(tmpl, r, req)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestComputeChangesWithUnrelatedBranch(t *testing.T) {
	r, tmpl := setup(t)
	req := Request{Target: 1, ReturnType: "data"}
	before, err := Compute(tmpl, r, req)
	require.NoError(t, err)

	tmpl.Modules = append(tmpl.Modules, template.Module{ModuleID: "load"})
	after, err := Compute(tmpl, r, req)
	require.NoError(t, err)

	assert.NotEqual(t, before, after, "fingerprint is over-invalidating: unrelated node changes still shift it")
}
