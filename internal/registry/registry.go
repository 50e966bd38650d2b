// Package registry holds the module registry: the catalog of
// ModuleDefinitions that the template model and the evaluation engine
// look up module ids against (§3 "Module definition", §4.A).
//
// Grounded on the teacher's internal/core/module.go and
// internal/core/provider.go, which hold a similar append-mostly catalog
// of versioned definitions keyed by id and looked up by the builder at
// render time.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/reductus/engine/internal/dataflow"
	"github.com/reductus/engine/internal/engerr"
)

// FieldKind enumerates the closed set of module-field datatypes (§3).
type FieldKind string

const (
	FieldInt            FieldKind = "int"
	FieldFloat          FieldKind = "float"
	FieldStr            FieldKind = "str"
	FieldBool           FieldKind = "bool"
	FieldOpt            FieldKind = "opt"
	FieldFileInfo       FieldKind = "fileinfo"
	FieldIndex          FieldKind = "index"
	FieldScale          FieldKind = "scale"
	FieldRange          FieldKind = "range"
	FieldCoordinate     FieldKind = "coordinate"
	FieldPatchMetadata  FieldKind = "patch_metadata"
)

// validFieldKinds backs Field.Validate's exhaustiveness check.
var validFieldKinds = map[FieldKind]bool{
	FieldInt: true, FieldFloat: true, FieldStr: true, FieldBool: true,
	FieldOpt: true, FieldFileInfo: true, FieldIndex: true, FieldScale: true,
	FieldRange: true, FieldCoordinate: true, FieldPatchMetadata: true,
}

// Field describes one configurable field of a module definition.
type Field struct {
	ID       string
	Label    string
	Datatype FieldKind
	Default  any
	Multiple bool

	// TypeAttr carries datatype-specific attributes, e.g. "choices" for
	// opt, "axis" for range, "key" for patch_metadata.
	TypeAttr map[string]any
}

// InputTerminal describes one input terminal of a module definition.
type InputTerminal struct {
	ID       string
	Datatype string
	Required bool
	Multiple bool
}

// OutputTerminal describes one output terminal of a module definition.
type OutputTerminal struct {
	ID       string
	Datatype string
	Multiple bool
}

// ModuleDefinition is the catalog entry for a single module id: its
// terminals, its configurable fields, and the action that implements it.
// The engine never interprets Action's body — it only calls it (§4.I).
type ModuleDefinition struct {
	ID          string
	Name        string
	Description string
	Inputs      []InputTerminal
	Outputs     []OutputTerminal
	Fields      []Field
	Action      dataflow.ActionFunc
}

func (d *ModuleDefinition) input(id string) (InputTerminal, bool) {
	for _, in := range d.Inputs {
		if in.ID == id {
			return in, true
		}
	}
	return InputTerminal{}, false
}

func (d *ModuleDefinition) output(id string) (OutputTerminal, bool) {
	for _, out := range d.Outputs {
		if out.ID == id {
			return out, true
		}
	}
	return OutputTerminal{}, false
}

func (d *ModuleDefinition) field(id string) (Field, bool) {
	for _, f := range d.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// Registry is the process-wide catalog of module definitions. Registration
// is append-mostly: re-registering an id bumps its version counter rather
// than mutating history, so any fingerprint computed against the prior
// version is naturally invalidated (§4.B "version" import).
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]*ModuleDefinition
	versions map[string]int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		defs:     make(map[string]*ModuleDefinition),
		versions: make(map[string]int),
	}
}

// Register adds or replaces a module definition, returning its new
// version string. The first registration of an id is version "v1"; every
// subsequent registration of the same id increments it.
func (r *Registry) Register(def *ModuleDefinition) (string, error) {
	if def == nil || def.ID == "" {
		return "", engerr.InvalidTemplate("module definition must have a non-empty id", nil)
	}
	for _, f := range def.Fields {
		if !validFieldKinds[f.Datatype] {
			return "", engerr.InvalidTemplate(
				fmt.Sprintf("field %q has unrecognized datatype %q", f.ID, f.Datatype), nil)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[def.ID]++
	r.defs[def.ID] = def
	return r.versionString(def.ID), nil
}

func (r *Registry) versionString(id string) string {
	return fmt.Sprintf("v%d", r.versions[id])
}

// Get looks up a module definition by id.
func (r *Registry) Get(id string) (*ModuleDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return nil, engerr.NotFound(fmt.Sprintf("module %q is not registered", id))
	}
	return def, nil
}

// Version returns the current version string for a registered module id.
func (r *Registry) Version(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.defs[id]; !ok {
		return "", engerr.NotFound(fmt.Sprintf("module %q is not registered", id))
	}
	return r.versionString(id), nil
}

// List returns every registered definition, sorted by id for deterministic
// iteration (e.g. for the get_instrument RPC response).
func (r *Registry) List() []*ModuleDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ModuleDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ValidateConfig checks a node's config map against its module
// definition's field list: every value's Go type must agree with its
// field's Datatype. Fields without a supplied value are skipped;
// ValidateConfig does not fill in their Default. Unknown keys in config
// are rejected as InvalidTemplate.
func (r *Registry) ValidateConfig(moduleID string, config map[string]any) error {
	def, err := r.Get(moduleID)
	if err != nil {
		return err
	}
	for key := range config {
		if _, ok := def.field(key); !ok {
			return engerr.InvalidTemplate(
				fmt.Sprintf("module %q has no field %q", moduleID, key), nil)
		}
	}
	for _, f := range def.Fields {
		v, present := config[f.ID]
		if !present {
			continue
		}
		if f.Multiple {
			if _, ok := v.([]any); !ok {
				return engerr.Validation(
					fmt.Sprintf("field %q of module %q declares multiple=true but value is not a list", f.ID, moduleID), nil)
			}
			continue
		}
		if err := validateScalar(f, v); err != nil {
			return engerr.Validation(
				fmt.Sprintf("field %q of module %q: %s", f.ID, moduleID, err.Error()), nil)
		}
	}
	return nil
}

func validateScalar(f Field, v any) error {
	switch f.Datatype {
	case FieldInt, FieldIndex:
		switch v.(type) {
		case int, int32, int64, float64:
		default:
			return fmt.Errorf("expected an integer, got %T", v)
		}
	case FieldFloat, FieldScale:
		switch v.(type) {
		case float32, float64, int, int64:
		default:
			return fmt.Errorf("expected a number, got %T", v)
		}
	case FieldStr, FieldOpt:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected a string, got %T", v)
		}
		if f.Datatype == FieldOpt {
			choices, _ := f.TypeAttr["choices"].([]string)
			if len(choices) > 0 {
				s := v.(string)
				for _, c := range choices {
					if c == s {
						return nil
					}
				}
				return fmt.Errorf("value %q is not among choices %v", s, choices)
			}
		}
	case FieldBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected a bool, got %T", v)
		}
	case FieldFileInfo:
		switch v.(type) {
		case dataflow.FileInfo, map[string]any:
		default:
			return fmt.Errorf("expected a fileinfo value, got %T", v)
		}
	case FieldRange, FieldCoordinate:
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("expected a numeric tuple, got %T", v)
		}
	case FieldPatchMetadata:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("expected an object, got %T", v)
		}
	}
	return nil
}
