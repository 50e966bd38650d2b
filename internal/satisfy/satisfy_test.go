package satisfy

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

func testRegistry(t *testing.T) *registry.Registry {
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
		Action:  noop,
	})
	require.NoError(t, err)
	return r
}

func TestCheckSatisfiedChain(t *testing.T) {
	r := testRegistry(t)
	tmpl := &template.Template{
		Modules: []template.Module{{ModuleID: "load"}, {ModuleID: "scale"}},
		Wires: []template.Wire{
			{Source: template.WireEnd{Node: 0, Terminal: "output"}, Target: template.WireEnd{Node: 1, Terminal: "data"}},
		},
	}
	res, err := Check(tmpl, r, 1)
	require.NoError(t, err)
	assert.True(t, res.Satisfied)
}

func TestCheckUnsatisfiedMissingWire(t *testing.T) {
	r := testRegistry(t)
	tmpl := &template.Template{
		Modules: []template.Module{{ModuleID: "load"}, {ModuleID: "scale"}},
	}
	res, err := Check(tmpl, r, 1)
	require.NoError(t, err)
	assert.False(t, res.Satisfied)
	assert.Contains(t, res.Reasons[1], "data")
}

func TestSatisfactionIsMonotonicOnAddedWire(t *testing.T) {
	r := testRegistry(t)
	tmpl := &template.Template{
		Modules: []template.Module{{ModuleID: "load"}, {ModuleID: "scale"}},
	}
	before, err := Check(tmpl, r, 1)
	require.NoError(t, err)
	assert.False(t, before.Satisfied)

	tmpl.Wires = append(tmpl.Wires, template.Wire{
		Source: template.WireEnd{Node: 0, Terminal: "output"},
		Target: template.WireEnd{Node: 1, Terminal: "data"},
	})
	after, err := Check(tmpl, r, 1)
	require.NoError(t, err)
	assert.True(t, after.Satisfied)
}

func TestUnsatisfiedPropagatesForward(t *testing.T) {
	r := testRegistry(t)
	tmpl := &template.Template{
		Modules: []template.Module{{ModuleID: "scale"}, {ModuleID: "scale"}},
		Wires: []template.Wire{
			{Source: template.WireEnd{Node: 0, Terminal: "output"}, Target: template.WireEnd{Node: 1, Terminal: "data"}},
		},
	}
	res, err := Check(tmpl, r, 1)
	require.NoError(t, err)
	assert.False(t, res.Satisfied, "node 0 itself is unsatisfied, so node 1 cannot be satisfied either")
}
