package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reductus/engine/internal/dataflow"
	"github.com/reductus/engine/internal/engerr"
)

func scaleDef() *ModuleDefinition {
	return &ModuleDefinition{
		ID:   "scale",
		Name: "Scale",
		Inputs: []InputTerminal{
			{ID: "data", Datatype: "refldata", Required: true},
		},
		Outputs: []OutputTerminal{
			{ID: "output", Datatype: "refldata"},
		},
		Fields: []Field{
			{ID: "factor", Datatype: FieldFloat, Default: 1.0},
		},
		Action: func(_ dataflow.ActionContext, _ dataflow.Inputs, _ map[string]any) (dataflow.Outputs, error) {
			return nil, nil
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	v, err := r.Register(scaleDef())
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	got, err := r.Get("scale")
	require.NoError(t, err)
	assert.Equal(t, "Scale", got.Name)
}

func TestGetUnknownIsNotFound(t *testing.T) {
	r := New()
	_, err := r.Get("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, engerr.ErrNotFound))
}

func TestReregisterBumpsVersion(t *testing.T) {
	r := New()
	v1, err := r.Register(scaleDef())
	require.NoError(t, err)
	v2, err := r.Register(scaleDef())
	require.NoError(t, err)

	assert.Equal(t, "v1", v1)
	assert.Equal(t, "v2", v2)

	version, err := r.Version("scale")
	require.NoError(t, err)
	assert.Equal(t, "v2", version)
}

func TestRegisterRejectsUnknownFieldKind(t *testing.T) {
	r := New()
	def := scaleDef()
	def.Fields[0].Datatype = "bogus"
	_, err := r.Register(def)
	require.Error(t, err)
	var ee *engerr.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, engerr.KindInvalidTemplate, ee.Kind)
}

func TestListSortedByID(t *testing.T) {
	r := New()
	b := scaleDef()
	b.ID = "bravo"
	a := scaleDef()
	a.ID = "alpha"
	_, _ = r.Register(b)
	_, _ = r.Register(a)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "bravo", list[1].ID)
}

func TestValidateConfigRejectsUnknownField(t *testing.T) {
	r := New()
	_, _ = r.Register(scaleDef())
	err := r.ValidateConfig("scale", map[string]any{"nope": 1})
	require.Error(t, err)
}

func TestValidateConfigRejectsWrongType(t *testing.T) {
	r := New()
	_, _ = r.Register(scaleDef())
	err := r.ValidateConfig("scale", map[string]any{"factor": "not a number"})
	require.Error(t, err)
}

func TestValidateConfigAcceptsGoodValue(t *testing.T) {
	r := New()
	_, _ = r.Register(scaleDef())
	err := r.ValidateConfig("scale", map[string]any{"factor": 2.0})
	assert.NoError(t, err)
}

func TestValidateConfigOptChoices(t *testing.T) {
	r := New()
	def := scaleDef()
	def.Fields = append(def.Fields, Field{
		ID: "mode", Datatype: FieldOpt,
		TypeAttr: map[string]any{"choices": []string{"linear", "log"}},
	})
	_, _ = r.Register(def)

	assert.NoError(t, r.ValidateConfig("scale", map[string]any{"mode": "log"}))
	assert.Error(t, r.ValidateConfig("scale", map[string]any{"mode": "exp"}))
}
