// Package dispatch implements the module-action dispatcher boundary
// (§4.I): given a module id and its bound inputs and fields, look up the
// definition in the registry and invoke its action. The engine depends
// only on this package's Dispatcher interface, never on a concrete
// module's implementation, so swapping the reference modules package for
// another instrument's module set requires no change to internal/engine.
package dispatch

import (
	"github.com/reductus/engine/internal/dataflow"
	"github.com/reductus/engine/internal/registry"
)

// Dispatcher resolves a module id to its action and invokes it.
type Dispatcher interface {
	Dispatch(actx dataflow.ActionContext, moduleID string, inputs dataflow.Inputs, fields map[string]any) (dataflow.Outputs, error)
}

// RegistryDispatcher dispatches against a registry.Registry.
type RegistryDispatcher struct {
	Registry *registry.Registry
}

// New creates a RegistryDispatcher backed by reg.
func New(reg *registry.Registry) *RegistryDispatcher {
	return &RegistryDispatcher{Registry: reg}
}

// Dispatch looks up moduleID's definition and calls its Action.
func (d *RegistryDispatcher) Dispatch(actx dataflow.ActionContext, moduleID string, inputs dataflow.Inputs, fields map[string]any) (dataflow.Outputs, error) {
	def, err := d.Registry.Get(moduleID)
	if err != nil {
		return nil, err
	}
	return def.Action(actx, inputs, fields)
}
