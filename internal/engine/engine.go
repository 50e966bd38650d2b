// Package engine implements calc_terminal (§4.D, §4.F's caller): the
// orchestration that turns a (template, target) pair into a cached,
// evaluated result. It fingerprints the request, consults the cache,
// computes a dependency schedule, gathers each node's inputs from its
// already-evaluated ancestors (recursing breadth-first level by level so
// independent sub-requests run concurrently), dispatches the module
// action, and stores the outcome back in the cache.
//
// Grounded on the teacher's internal/builder package, which walks a
// dependency graph of components and renders each one only once its
// inputs are available, and on hashicorp-nomad's use of
// golang.org/x/sync/errgroup for bounded concurrent fan-out, adopted here
// for evaluating a topological level's independent nodes in parallel.
package engine

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reductus/engine/internal/cache"
	"github.com/reductus/engine/internal/dataflow"
	"github.com/reductus/engine/internal/engerr"
	"github.com/reductus/engine/internal/fingerprint"
	"github.com/reductus/engine/internal/metrics"
	"github.com/reductus/engine/internal/reduction/dispatch"
	"github.com/reductus/engine/internal/registry"
	"github.com/reductus/engine/internal/template"
)

// Engine is the evaluation engine: the composition root for the registry,
// dispatcher, cache, file store, and metrics that calc_terminal needs.
type Engine struct {
	Registry   *registry.Registry
	Dispatcher dispatch.Dispatcher
	Cache      cache.Store
	FileStore  dataflow.FileStore
	Metrics    *metrics.Metrics

	// Now is overridable for tests; production callers leave it nil and
	// get time.Now.
	Now func() time.Time
}

// New creates an Engine with a fresh in-memory cache and metrics, wired
// to reg and its dispatcher.
func New(reg *registry.Registry, fs dataflow.FileStore) *Engine {
	return &Engine{
		Registry:   reg,
		Dispatcher: dispatch.New(reg),
		Cache:      cache.NewMemoryStore(),
		FileStore:  fs,
		Metrics:    metrics.New(),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Request is a calc_terminal call.
type Request struct {
	Template    *template.Template
	Target      int
	ReturnType  string
	Concatenate bool
	ExportType  string
}

// CalcTerminal evaluates req.Target within req.Template, returning the
// target node's outputs. When a FileStore is configured, every fileinfo
// config field in the template first has its Mtime overwritten in place
// with the file's current mtime (a referenced file that cannot be stat'ed
// fails the call), so a changed file yields a new fingerprint. A cache hit
// whose referenced files have not
// changed mtime since caching is returned without re-evaluating anything.
// Cancelling ctx returns engerr.ErrCancelled promptly: the check happens
// before every node dispatch, not only at the start of the call.
func (e *Engine) CalcTerminal(ctx context.Context, req Request) (dataflow.Outputs, error) {
	if req.Template == nil {
		return nil, engerr.InvalidTemplate("calc_terminal: template is nil", nil)
	}
	if req.Target < 0 || req.Target >= len(req.Template.Modules) {
		return nil, engerr.InvalidTemplate("calc_terminal: target node out of range", nil)
	}

	if e.FileStore != nil {
		for _, mod := range req.Template.Modules {
			fi, ok := mod.Config["fileinfo"].(dataflow.FileInfo)
			if !ok {
				continue
			}
			meta, err := e.FileStore.Stat(ctx, fi.Source, fi.Path)
			if err != nil {
				return nil, err
			}
			fi.Mtime = meta.Mtime
			mod.Config["fileinfo"] = fi
		}
	}

	fp, err := fingerprint.Compute(req.Template, e.Registry, fingerprint.Request{
		Target:      req.Target,
		ReturnType:  req.ReturnType,
		Concatenate: req.Concatenate,
		ExportType:  req.ExportType,
	})
	if err != nil {
		return nil, err
	}

	if entry, ok := e.Cache.Get(fp); ok {
		if e.revalidate(ctx, entry) {
			e.Metrics.RecordCacheHit()
			return projectReturnType(entry.Value, req.ReturnType), nil
		}
		e.Cache.Evict(fp)
	}
	e.Metrics.RecordCacheMiss()

	levels, err := req.Template.Levels(&req.Target)
	if err != nil {
		return nil, err
	}

	results := make(map[int]dataflow.Outputs, len(req.Template.Modules))
	fileMtimes := make(map[string]int64)

	inbound := make(map[template.WireEnd][]template.WireEnd)
	for _, w := range req.Template.Wires {
		inbound[w.Target] = append(inbound[w.Target], w.Source)
	}

	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return nil, engerr.ErrCancelled
		}

		group, gctx := errgroup.WithContext(ctx)
		levelResults := make([]dataflow.Outputs, len(level))
		for i, node := range level {
			i, node := i, node
			group.Go(func() error {
				if err := gctx.Err(); err != nil {
					return engerr.ErrCancelled
				}
				out, mtimes, err := e.evaluateNode(gctx, req.Template, node, results, inbound)
				if err != nil {
					return err
				}
				levelResults[i] = out
				for k, v := range mtimes {
					fileMtimes[k] = v
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
		for i, node := range level {
			results[node] = levelResults[i]
		}
	}

	e.Metrics.RecordEvaluation()
	final := results[req.Target]

	e.Cache.Put(cache.Entry{
		ID:         fp,
		CreatedAt:  e.now(),
		Value:      final,
		FileMtimes: fileMtimes,
	})
	return projectReturnType(final, req.ReturnType), nil
}

// projectReturnType reshapes a target node's native outputs into the
// requested return type (§4.D). "full" (and the empty default) pass the
// native value through unchanged; the others project each output value
// through the corresponding dataflow view interface when the payload
// implements it, falling back to the native value for payloads that
// don't advertise support for the requested view.
func projectReturnType(out dataflow.Outputs, returnType string) dataflow.Outputs {
	switch returnType {
	case "", "full":
		return out
	case "metadata":
		return mapOutputValues(out, func(v dataflow.Value) dataflow.Value {
			if mv, ok := v.Payload.(dataflow.MetadataView); ok {
				return dataflow.Value{Datatype: v.Datatype, Payload: mv.Metadata()}
			}
			return v
		})
	case "plottable":
		return mapOutputValues(out, func(v dataflow.Value) dataflow.Value {
			p := dataflow.Plottable{Type: "null"}
			if pv, ok := v.Payload.(dataflow.PlottableView); ok {
				p.Type, p.Values = pv.Plottable()
			}
			return dataflow.Value{Datatype: v.Datatype, Payload: p}
		})
	case "export":
		return mapOutputValues(out, func(v dataflow.Value) dataflow.Value {
			if ev, ok := v.Payload.(dataflow.ExportableView); ok {
				return dataflow.Value{Datatype: v.Datatype, Payload: ev.Export()}
			}
			return v
		})
	default:
		return out
	}
}

func mapOutputValues(out dataflow.Outputs, f func(dataflow.Value) dataflow.Value) dataflow.Outputs {
	projected := make(dataflow.Outputs, len(out))
	for terminal, values := range out {
		pv := make([]dataflow.Value, len(values))
		for i, v := range values {
			pv[i] = f(v)
		}
		projected[terminal] = pv
	}
	return projected
}

// evaluateNode gathers node's inputs from already-computed ancestor
// results (and from any inline fileinfo config fields, which are merged
// into the dispatched fields so a module sees both its wired data and its
// own configuration), then dispatches its action.
func (e *Engine) evaluateNode(ctx context.Context, tmpl *template.Template, node int, results map[int]dataflow.Outputs, inbound map[template.WireEnd][]template.WireEnd) (dataflow.Outputs, map[string]int64, error) {
	mod := tmpl.Modules[node]

	inputs := make(dataflow.Inputs)
	for terminalKey, sources := range inbound {
		if terminalKey.Node != node {
			continue
		}
		for _, src := range sources {
			srcResult, ok := results[src.Node]
			if !ok {
				return nil, nil, engerr.ModuleError(node, "dependency not yet evaluated", nil)
			}
			values, ok := srcResult[src.Terminal]
			if !ok {
				return nil, nil, engerr.ModuleError(node, "dependency produced no value on terminal "+src.Terminal, nil)
			}
			inputs[terminalKey.Terminal] = append(inputs[terminalKey.Terminal], values...)
		}
	}

	mtimes := make(map[string]int64)
	if fi, ok := mod.Config["fileinfo"].(dataflow.FileInfo); ok {
		mtimes[fi.Source+":"+fi.Path] = fi.Mtime
	}

	actx := dataflow.ActionContext{Context: ctx, FileStore: e.FileStore}
	out, err := e.Dispatcher.Dispatch(actx, mod.ModuleID, inputs, mod.Config)
	if err != nil {
		var ee *engerr.EngineError
		if errors.As(err, &ee) {
			return nil, nil, err
		}
		return nil, nil, engerr.ModuleError(node, "module action failed", err)
	}
	return out, mtimes, nil
}

// revalidate checks whether every fileinfo dependency recorded in entry
// still has the mtime it had when entry was cached. A missing file store
// (no FileStore configured) treats everything as still valid, since there
// is nothing to revalidate against.
func (e *Engine) revalidate(ctx context.Context, entry cache.Entry) bool {
	if e.FileStore == nil || len(entry.FileMtimes) == 0 {
		return true
	}
	for key, cachedMtime := range entry.FileMtimes {
		source, path := splitSourcePath(key)
		meta, err := e.FileStore.Stat(ctx, source, path)
		if err != nil || meta.Mtime != cachedMtime {
			return false
		}
	}
	return true
}

func splitSourcePath(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return "", key
}
