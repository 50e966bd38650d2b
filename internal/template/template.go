// Package template implements the template model (§3, §4.B): a DAG of
// module nodes joined by wires, plus import/export, structural
// validation, and topological ordering.
//
// Grounded on the teacher's internal/core/component.go for the
// node/field shape and internal/builder's dependency-ordering pass for
// the Kahn's-algorithm traversal; the wire-as-JSON-array encoding is this
// package's own addition, matched to the wire-format note in the GLOSSARY.
package template

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/reductus/engine/internal/engerr"
	"github.com/reductus/engine/internal/registry"
)

// Module is one node of a template: a reference to a registered module id
// plus its field configuration.
type Module struct {
	ModuleID string         `json:"module"`
	Title    string         `json:"title,omitempty"`
	X        float64        `json:"x,omitempty"`
	Y        float64        `json:"y,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
	Version  string         `json:"version,omitempty"`
}

// WireEnd identifies a terminal of a wire: a node index and a terminal id
// on that node. It marshals as the two-element JSON array [node, terminal]
// used throughout the wire-format examples.
type WireEnd struct {
	Node     int
	Terminal string
}

// MarshalJSON encodes a WireEnd as [node, terminal].
func (w WireEnd) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{w.Node, w.Terminal})
}

// UnmarshalJSON decodes a WireEnd from [node, terminal].
func (w *WireEnd) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("wire endpoint must be a 2-element array: %w", err)
	}
	var node int
	if err := json.Unmarshal(pair[0], &node); err != nil {
		return fmt.Errorf("wire endpoint node index must be an integer: %w", err)
	}
	var terminal string
	if err := json.Unmarshal(pair[1], &terminal); err != nil {
		return fmt.Errorf("wire endpoint terminal id must be a string: %w", err)
	}
	w.Node, w.Terminal = node, terminal
	return nil
}

// Wire connects one module's output terminal to another module's input
// terminal.
type Wire struct {
	Source WireEnd `json:"source"`
	Target WireEnd `json:"target"`
}

// Template is the full DAG: an ordered list of module nodes and the wires
// between them.
type Template struct {
	Modules []Module `json:"modules"`
	Wires   []Wire   `json:"wires"`
}

// Import decodes a template from JSON and validates every module
// reference against the registry (unknown ids produce InvalidTemplate).
// The caller is expected to call Validate separately for full structural
// checks; Import only guarantees the document parses and every module id
// exists.
func Import(data []byte, reg *registry.Registry) (*Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, engerr.InvalidTemplate("template is not valid JSON: "+err.Error(), nil)
	}
	for i, m := range t.Modules {
		if _, err := reg.Get(m.ModuleID); err != nil {
			return nil, engerr.InvalidTemplate(
				fmt.Sprintf("node %d references unknown module %q", i, m.ModuleID), nil)
		}
	}
	return &t, nil
}

// Export serializes the template back to JSON.
func (t *Template) Export() ([]byte, error) {
	return json.Marshal(t)
}

// Validate performs the full structural check of §4.B: every wire
// endpoint must reference an existing node and an existing terminal on
// that node's module definition, datatypes must agree across a wire, a
// non-multiple input terminal must receive at most one wire, and the
// graph must be acyclic.
func (t *Template) Validate(reg *registry.Registry) error {
	defs := make([]*registry.ModuleDefinition, len(t.Modules))
	for i, m := range t.Modules {
		def, err := reg.Get(m.ModuleID)
		if err != nil {
			return engerr.InvalidTemplate(
				fmt.Sprintf("node %d references unknown module %q", i, m.ModuleID), nil)
		}
		defs[i] = def
		if err := reg.ValidateConfig(m.ModuleID, m.Config); err != nil {
			return err
		}
	}

	inboundCount := make(map[WireEnd]int)
	for _, w := range t.Wires {
		if w.Source.Node < 0 || w.Source.Node >= len(t.Modules) {
			return engerr.InvalidTemplate(fmt.Sprintf("wire source node %d out of range", w.Source.Node), nil)
		}
		if w.Target.Node < 0 || w.Target.Node >= len(t.Modules) {
			return engerr.InvalidTemplate(fmt.Sprintf("wire target node %d out of range", w.Target.Node), nil)
		}
		srcDef, tgtDef := defs[w.Source.Node], defs[w.Target.Node]

		out, ok := findOutput(srcDef, w.Source.Terminal)
		if !ok {
			return engerr.InvalidTemplate(
				fmt.Sprintf("node %d (%s) has no output terminal %q", w.Source.Node, srcDef.ID, w.Source.Terminal), nil)
		}
		in, ok := findInput(tgtDef, w.Target.Terminal)
		if !ok {
			return engerr.InvalidTemplate(
				fmt.Sprintf("node %d (%s) has no input terminal %q", w.Target.Node, tgtDef.ID, w.Target.Terminal), nil)
		}
		if out.Datatype != in.Datatype {
			return engerr.Validation(
				fmt.Sprintf("wire %d->%d: source datatype %q incompatible with target datatype %q",
					w.Source.Node, w.Target.Node, out.Datatype, in.Datatype), nil)
		}

		inboundCount[w.Target]++
		if !in.Multiple && inboundCount[w.Target] > 1 {
			return engerr.Validation(
				fmt.Sprintf("input terminal %q of node %d does not accept multiple wires", w.Target.Terminal, w.Target.Node), nil)
		}
	}

	if _, err := t.TopoOrder(nil); err != nil {
		return err
	}
	return nil
}

func findOutput(def *registry.ModuleDefinition, id string) (registry.OutputTerminal, bool) {
	for _, o := range def.Outputs {
		if o.ID == id {
			return o, true
		}
	}
	return registry.OutputTerminal{}, false
}

func findInput(def *registry.ModuleDefinition, id string) (registry.InputTerminal, bool) {
	for _, in := range def.Inputs {
		if in.ID == id {
			return in, true
		}
	}
	return registry.InputTerminal{}, false
}

// TopoOrder computes a topological order of the template's nodes using
// Kahn's algorithm: nodes are released in batches as their incoming wires'
// source nodes are scheduled, with ties broken by ascending node index for
// determinism. If target is non-nil, the order is restricted to target's
// ancestor set (every node reachable by walking wires backward from
// target, inclusive of target itself) — the same restriction the engine
// applies, through Levels, to compute the evaluation order for
// calc_terminal(target).
//
// A non-empty residual after all eligible nodes are exhausted indicates a
// cycle; the error names the residual node indices.
func (t *Template) TopoOrder(target *int) ([]int, error) {
	levels, err := t.Levels(target)
	if err != nil {
		return nil, err
	}
	var order []int
	for _, level := range levels {
		order = append(order, level...)
	}
	return order, nil
}

// Levels computes the same schedule as TopoOrder but grouped into
// dependency-free batches: every node in levels[k] depends only on nodes
// in levels[0..k-1], so within a level the nodes may be evaluated
// concurrently. This is what internal/engine fans calc_terminal's
// sub-requests out across with an errgroup.
func (t *Template) Levels(target *int) ([][]int, error) {
	n := len(t.Modules)
	include := make([]bool, n)
	if target == nil {
		for i := range include {
			include[i] = true
		}
	} else {
		ancestors(t, *target, include)
	}

	indegree := make([]int, n)
	outEdges := make(map[int][]int)
	for _, w := range t.Wires {
		if !include[w.Source.Node] || !include[w.Target.Node] {
			continue
		}
		indegree[w.Target.Node]++
		outEdges[w.Source.Node] = append(outEdges[w.Source.Node], w.Target.Node)
	}

	scheduled := make([]bool, n)
	var levels [][]int
	remaining := 0
	for i := 0; i < n; i++ {
		if include[i] {
			remaining++
		}
	}

	for remaining > 0 {
		var batch []int
		for i := 0; i < n; i++ {
			if include[i] && !scheduled[i] && indegree[i] == 0 {
				batch = append(batch, i)
			}
		}
		if len(batch) == 0 {
			break
		}
		sort.Ints(batch)
		for _, node := range batch {
			scheduled[node] = true
			remaining--
			for _, dep := range outEdges[node] {
				indegree[dep]--
			}
		}
		levels = append(levels, batch)
	}

	if remaining > 0 {
		var residual []int
		for i := 0; i < n; i++ {
			if include[i] && !scheduled[i] {
				residual = append(residual, i)
			}
		}
		return nil, engerr.CyclicDependency(residual)
	}
	return levels, nil
}

// ancestors marks target and every node reachable by walking wires
// backward from it (i.e. every transitive input dependency).
func ancestors(t *Template, target int, include []bool) {
	if include[target] {
		return
	}
	include[target] = true
	for _, w := range t.Wires {
		if w.Target.Node == target {
			ancestors(t, w.Source.Node, include)
		}
	}
}
