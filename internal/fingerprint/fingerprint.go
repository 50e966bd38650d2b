// Package fingerprint computes the content-addressed cache key for a
// calc_terminal request (§4.C). The fingerprint is a SHA-1 digest of a
// canonicalized JSON envelope built from the full template — stamped with
// each node's *current* registry version — and the request parameters.
//
// Deliberately over-invalidating: every module in the template
// contributes to the digest, not only target's ancestors, so editing an
// unrelated branch of a template changes every terminal's fingerprint in
// it even though only the ancestor subgraph is actually evaluated. This
// trades some cache reuse for a fingerprint that is simple to reason
// about and cannot be fooled by ancestor-only diffing missing a
// structural change elsewhere in the document.
//
// Grounded on the teacher's internal/inventory/changeid.go and
// internal/inventory/digest.go, which compute a similar canonical
// serialize + hash for change detection (changeid.go hashes concatenated
// fields directly; digest.go sorts then json.Marshals then SHA256s — this
// package follows the digest.go shape but with SHA-1 per the wire format
// the codec examples show, and sorts via encoding/json's native
// alphabetical map-key ordering rather than an explicit sort pass).
package fingerprint

import (
	"bytes"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/reductus/engine/internal/registry"
	"github.com/reductus/engine/internal/template"
)

// Request carries the calc_terminal parameters that participate in the
// fingerprint alongside the template itself.
type Request struct {
	Target      int
	ReturnType  string
	Concatenate bool
	ExportType  string
}

// Compute returns the hex-encoded SHA-1 fingerprint for evaluating
// req.Target within tmpl, given the module versions currently registered
// in reg.
func Compute(tmpl *template.Template, reg *registry.Registry, req Request) (string, error) {
	modules := make([]any, len(tmpl.Modules))
	for i, m := range tmpl.Modules {
		version, err := reg.Version(m.ModuleID)
		if err != nil {
			return "", err
		}
		modules[i] = map[string]any{
			"module":  m.ModuleID,
			"version": version,
			"config":  m.Config,
		}
	}

	// wires is serialized sorted by (source, target), so two templates that
	// differ only in the order their wires were drawn fingerprint the same.
	sorted := append([]template.Wire(nil), tmpl.Wires...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Source.Node != b.Source.Node {
			return a.Source.Node < b.Source.Node
		}
		if a.Source.Terminal != b.Source.Terminal {
			return a.Source.Terminal < b.Source.Terminal
		}
		if a.Target.Node != b.Target.Node {
			return a.Target.Node < b.Target.Node
		}
		return a.Target.Terminal < b.Target.Terminal
	})
	wires := make([]any, len(sorted))
	for i, w := range sorted {
		wires[i] = map[string]any{
			"source": []any{w.Source.Node, w.Source.Terminal},
			"target": []any{w.Target.Node, w.Target.Terminal},
		}
	}

	envelope := map[string]any{
		"method": "calculate",
		"params": map[string]any{
			"template": map[string]any{
				"modules": modules,
				"wires":   wires,
			},
			"target":      req.Target,
			"return_type": req.ReturnType,
			"concatenate": req.Concatenate,
			"export_type": req.ExportType,
		},
	}

	canonical, err := Canonicalize(envelope)
	if err != nil {
		return "", err
	}

	sum := sha1.Sum(canonical)
	return fmt.Sprintf("%x", sum), nil
}

// Canonicalize serializes v to JSON with deterministic key ordering.
// encoding/json already sorts map[string]any keys alphabetically and
// preserves slice order, so a round trip through a generic map-based
// value is sufficient; this helper exists so every caller gets the same
// marshaling options. It disables HTML escaping explicitly (plain
// json.Marshal escapes '<', '>' and '&') so a config string containing
// those bytes doesn't get silently rewritten before hashing.
func Canonicalize(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	// Encoder.Encode appends a trailing newline; strip it so the digest
	// matches what json.Marshal would have produced.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
