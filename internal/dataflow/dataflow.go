// Package dataflow holds the small set of types shared across the module
// registry, the template model, the evaluation engine, and the module
// action dispatcher — the vocabulary of §3's data model and §6's
// module-action boundary. It exists to keep those packages from forming
// an import cycle: registry.ModuleDefinition embeds an ActionFunc, the
// engine calls it, and reference modules implement it, all without any of
// those packages importing each other.
package dataflow

import "context"

// Value is one terminal's worth of data flowing along a wire. Datatype
// mirrors the wire's declared datatype (§3 "Datatype kind"); Payload is
// the opaque native value — the engine never interprets it, only modules
// and return-type formatters do.
type Value struct {
	Datatype string
	Payload  any
}

// FileInfo is the value bound to a fileinfo field (§3).
type FileInfo struct {
	Source  string   `json:"source"`
	Path    string   `json:"path"`
	Mtime   int64    `json:"mtime"`
	Entries []string `json:"entries,omitempty"`
}

// Inputs maps an input terminal id to its bound values. A terminal with
// multiple=false has exactly one element when present.
type Inputs map[string][]Value

// Outputs maps an output terminal id to its produced values.
type Outputs map[string][]Value

// FileStore is the §4.H file-store contract, consumed by module actions
// (and by the engine's mtime revalidation) but implemented externally —
// internal/filestore provides the concrete afero-backed implementation.
type FileStore interface {
	ListDir(ctx context.Context, source string, pathlist []string) (subdirs, files []string, metadata map[string]FileMetadata, err error)
	Stat(ctx context.Context, source, path string) (FileMetadata, error)
	OpenFile(ctx context.Context, source, path string, expectedMtime int64) ([]byte, error)
}

// FileMetadata is per-file metadata returned by a file-store listing.
type FileMetadata struct {
	Mtime int64
}

// ActionContext is passed to every module action invocation. It carries
// the request's cancellation context and the injected file-store, so
// actions never reach for ambient global state (§9 "Global mutable state
// -> injected services").
type ActionContext struct {
	Context   context.Context
	FileStore FileStore
}

// ActionFunc is the module-action dispatcher boundary (§4.I): a pure
// function from (inputs, fields) to outputs. The engine never interprets
// a module's body — it only calls this function through the definition
// it looked up in the registry.
type ActionFunc func(actx ActionContext, inputs Inputs, fields map[string]any) (Outputs, error)

// MetadataView is implemented by a payload that supports the "metadata"
// return type (§4.D): a stripped view with heavy arrays removed, leaving
// only descriptive fields.
type MetadataView interface {
	Metadata() any
}

// PlottableView is implemented by a payload that supports the
// "plottable" return type (§4.D), producing the display kind
// ("1d"|"nd"|"2d"|"2d_multi"|"params"|"metadata"|"null") and the values
// to render it with.
type PlottableView interface {
	Plottable() (kind string, values any)
}

// Plottable is the shape a "plottable" return-type projection always
// takes, whether or not the underlying payload implements PlottableView.
type Plottable struct {
	Type   string `json:"type"`
	Values any    `json:"values,omitempty"`
}

// ExportValue is the shape an "export" return-type projection always
// takes: serialized bytes plus the format and suggested filename a
// client would save them under.
type ExportValue struct {
	Format   string `json:"format"`
	Filename string `json:"filename"`
	Bytes    []byte `json:"bytes"`
}

// ExportableView is implemented by a payload that already knows how to
// serialize itself for the "export" return type.
type ExportableView interface {
	Export() ExportValue
}
