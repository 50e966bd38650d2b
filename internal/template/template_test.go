package template

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reductus/engine/internal/dataflow"
	"github.com/reductus/engine/internal/engerr"
	"github.com/reductus/engine/internal/registry"
)

func noopAction(_ dataflow.ActionContext, _ dataflow.Inputs, _ map[string]any) (dataflow.Outputs, error) {
	return nil, nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	defs := []*registry.ModuleDefinition{
		{
			ID:      "load",
			Outputs: []registry.OutputTerminal{{ID: "output", Datatype: "refldata"}},
			Action:  noopAction,
		},
		{
			ID:     "scale",
			Inputs: []registry.InputTerminal{{ID: "data", Datatype: "refldata", Required: true}},
			Outputs: []registry.OutputTerminal{{ID: "output", Datatype: "refldata"}},
			Fields: []registry.Field{{ID: "factor", Datatype: registry.FieldFloat, Default: 1.0}},
			Action: noopAction,
		},
		{
			ID: "sum",
			Inputs: []registry.InputTerminal{
				{ID: "data", Datatype: "refldata", Required: true, Multiple: true},
			},
			Outputs: []registry.OutputTerminal{{ID: "output", Datatype: "refldata"}},
			Action:  noopAction,
		},
	}
	for _, d := range defs {
		_, err := r.Register(d)
		require.NoError(t, err)
	}
	return r
}

func chainTemplate() *Template {
	return &Template{
		Modules: []Module{
			{ModuleID: "load"},
			{ModuleID: "scale", Config: map[string]any{"factor": 2.0}},
			{ModuleID: "sum"},
		},
		Wires: []Wire{
			{Source: WireEnd{0, "output"}, Target: WireEnd{1, "data"}},
			{Source: WireEnd{1, "output"}, Target: WireEnd{2, "data"}},
		},
	}
}

func TestWireEndJSONRoundTrip(t *testing.T) {
	tmpl := chainTemplate()
	data, err := tmpl.Export()
	require.NoError(t, err)

	imported, err := Import(data, testRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, tmpl.Wires, imported.Wires)
}

func TestImportRejectsUnknownModule(t *testing.T) {
	data := []byte(`{"modules":[{"module":"bogus"}],"wires":[]}`)
	_, err := Import(data, testRegistry(t))
	require.Error(t, err)
	var ee *engerr.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, engerr.KindInvalidTemplate, ee.Kind)
}

func TestValidateAcceptsChain(t *testing.T) {
	err := chainTemplate().Validate(testRegistry(t))
	assert.NoError(t, err)
}

func TestValidateRejectsDatatypeMismatch(t *testing.T) {
	r := testRegistry(t)
	_, _ = r.Register(&registry.ModuleDefinition{
		ID:      "intsrc",
		Outputs: []registry.OutputTerminal{{ID: "output", Datatype: "int"}},
		Action:  noopAction,
	})
	tmpl := &Template{
		Modules: []Module{{ModuleID: "intsrc"}, {ModuleID: "scale"}},
		Wires:   []Wire{{Source: WireEnd{0, "output"}, Target: WireEnd{1, "data"}}},
	}
	err := tmpl.Validate(r)
	require.Error(t, err)
	var ee *engerr.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, engerr.KindValidation, ee.Kind)
}

func TestValidateRejectsDuplicateSingletonWire(t *testing.T) {
	r := testRegistry(t)
	tmpl := &Template{
		Modules: []Module{{ModuleID: "load"}, {ModuleID: "load"}, {ModuleID: "scale"}},
		Wires: []Wire{
			{Source: WireEnd{0, "output"}, Target: WireEnd{2, "data"}},
			{Source: WireEnd{1, "output"}, Target: WireEnd{2, "data"}},
		},
	}
	err := tmpl.Validate(r)
	require.Error(t, err)
}

func TestValidateRejectsOutOfRangeNode(t *testing.T) {
	r := testRegistry(t)
	tmpl := &Template{
		Modules: []Module{{ModuleID: "load"}},
		Wires:   []Wire{{Source: WireEnd{0, "output"}, Target: WireEnd{5, "data"}}},
	}
	err := tmpl.Validate(r)
	require.Error(t, err)
}

func TestTopoOrderIsStableAndRespectsDependencies(t *testing.T) {
	tmpl := chainTemplate()
	order, err := tmpl.TopoOrder(nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestTopoOrderRestrictsToAncestors(t *testing.T) {
	tmpl := &Template{
		Modules: []Module{{ModuleID: "load"}, {ModuleID: "load"}, {ModuleID: "sum"}},
		Wires: []Wire{
			{Source: WireEnd{0, "output"}, Target: WireEnd{2, "data"}},
			{Source: WireEnd{1, "output"}, Target: WireEnd{2, "data"}},
		},
	}
	target := 0
	order, err := tmpl.TopoOrder(&target)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, order)
}

func TestTopoOrderDetectsCycle(t *testing.T) {
	tmpl := &Template{
		Modules: []Module{{ModuleID: "scale"}, {ModuleID: "scale"}},
		Wires: []Wire{
			{Source: WireEnd{0, "output"}, Target: WireEnd{1, "data"}},
			{Source: WireEnd{1, "output"}, Target: WireEnd{0, "data"}},
		},
	}
	_, err := tmpl.TopoOrder(nil)
	require.Error(t, err)
	var ee *engerr.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, engerr.KindCyclicDependency, ee.Kind)
	assert.Equal(t, "0,1", ee.Context["nodes"])
}
