// Package satisfy implements the satisfaction analyzer (§4.E): a purely
// structural check of whether a terminal *would* be evaluable without
// running any module action — every required input terminal of every
// ancestor node must be wired, recursively back to sources. fileinfo
// field bindings are not inspected.
//
// Grounded on the teacher's internal/core/transformer/match.go, which
// performs a similar structural "does this component's requirements have
// a provider" check before a transformer runs, without executing
// anything.
package satisfy

import (
	"github.com/reductus/engine/internal/registry"
	"github.com/reductus/engine/internal/template"
)

// Result reports the outcome of a satisfaction check.
type Result struct {
	Satisfied bool
	// Reasons names, for each unsatisfied node, why it is not satisfied.
	Reasons map[int]string
}

// Check reports whether target is structurally satisfied within tmpl: a
// node is satisfied when every required input terminal of its module
// definition is bound — either by a wire from a satisfied ancestor, or
// because the module doesn't require one at that terminal. A node with a
// wire from an unsatisfied ancestor is itself unsatisfied (failure
// propagates forward through the graph: adding a wire from a satisfied
// node can only add satisfaction, never remove it, while a wire from an
// unsatisfied node makes its target unsatisfied).
func Check(tmpl *template.Template, reg *registry.Registry, target int) (Result, error) {
	memo := make(map[int]bool)
	reasons := make(map[int]string)

	order, err := tmpl.TopoOrder(&target)
	if err != nil {
		return Result{}, err
	}

	boundBy := make(map[template.WireEnd][]template.WireEnd)
	for _, w := range tmpl.Wires {
		boundBy[w.Target] = append(boundBy[w.Target], w.Source)
	}

	for _, node := range order {
		def, err := reg.Get(tmpl.Modules[node].ModuleID)
		if err != nil {
			memo[node] = false
			reasons[node] = err.Error()
			continue
		}

		satisfied := true
		var reason string
		for _, in := range def.Inputs {
			if !in.Required {
				continue
			}
			sources := boundBy[template.WireEnd{Node: node, Terminal: in.ID}]
			if len(sources) == 0 {
				satisfied = false
				reason = "required input " + in.ID + " is not wired"
				break
			}
			allAncestorsSatisfied := true
			for _, src := range sources {
				if !memo[src.Node] {
					allAncestorsSatisfied = false
					break
				}
			}
			if !allAncestorsSatisfied {
				satisfied = false
				reason = "required input " + in.ID + " is wired from an unsatisfied node"
				break
			}
		}

		memo[node] = satisfied
		if !satisfied {
			reasons[node] = reason
		}
	}

	return Result{Satisfied: memo[target], Reasons: reasons}, nil
}
