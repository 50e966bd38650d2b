// Package modules provides the reference reduction modules used by the
// engine's own tests and by the default registry a CLI or RPC server
// boots with: load, scale, sum, subtract, normalize, rebin, fit,
// export.json, and export.column. Each is a small dataflow.ActionFunc
// plus the registry.ModuleDefinition describing its terminals and
// fields, grounded on §4.A's module-definition shape and exercising the
// datatype kinds named in §3.
//
// Grounded on the teacher's internal/core component definitions for the
// "definition + pure function" pairing; the numeric bodies themselves
// have no teacher analogue and are written directly from the spec's
// worked example (load -> scale(factor=2) -> sum over [1,2,3] yielding
// sum=12).
package modules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/reductus/engine/internal/dataflow"
	"github.com/reductus/engine/internal/engerr"
	"github.com/reductus/engine/internal/lmfit"
	"github.com/reductus/engine/internal/registry"
	"github.com/reductus/engine/internal/reload"
)

// RefData is the native payload of the "refldata" datatype used across
// the reference modules: a single named numeric series plus whatever
// scalar summaries downstream modules attach to it.
type RefData struct {
	Values  []float64      `json:"values"`
	Summary map[string]any `json:"summary,omitempty"`
}

// Metadata implements dataflow.MetadataView: a refldata's metadata view
// drops the (potentially large) values array and keeps only the point
// count and whatever scalar summary a module attached.
func (r RefData) Metadata() any {
	return map[string]any{
		"count":   len(r.Values),
		"summary": r.Summary,
	}
}

// Plottable implements dataflow.PlottableView. A refldata series is
// always one-dimensional; an empty series has nothing to plot.
func (r RefData) Plottable() (string, any) {
	if len(r.Values) == 0 {
		return "null", nil
	}
	return "1d", r.Values
}

func refData(v dataflow.Value) (RefData, error) {
	rd, ok := v.Payload.(RefData)
	if !ok {
		return RefData{}, engerr.Validation(fmt.Sprintf("expected refldata payload, got %T", v.Payload), nil)
	}
	return rd, nil
}

func single(inputs dataflow.Inputs, terminal string) (RefData, error) {
	values, ok := inputs[terminal]
	if !ok || len(values) == 0 {
		return RefData{}, engerr.Validation("missing required input "+terminal, nil)
	}
	return refData(values[0])
}

func floatField(fields map[string]any, id string, def float64) float64 {
	v, ok := fields[id]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

// Register installs every reference module definition into reg.
func Register(reg *registry.Registry) error {
	defs := []*registry.ModuleDefinition{loadDef(), scaleDef(), sumDef(), subtractDef(), normalizeDef(), rebinDef(), fitDef(), exportJSONDef(), exportColumnDef()}
	for _, d := range defs {
		if _, err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func loadDef() *registry.ModuleDefinition {
	return &registry.ModuleDefinition{
		ID:          "load",
		Name:        "Load",
		Description: "Loads a refldata series from a fileinfo reference, or from an inline values field when no file is wired.",
		Inputs:      nil,
		Outputs: []registry.OutputTerminal{
			{ID: "output", Datatype: "refldata"},
		},
		Fields: []registry.Field{
			{ID: "intent", Datatype: registry.FieldStr},
			{ID: "fileinfo", Datatype: registry.FieldFileInfo},
			{ID: "values", Datatype: registry.FieldFloat, Multiple: true},
		},
		Action: func(actx dataflow.ActionContext, _ dataflow.Inputs, fields map[string]any) (dataflow.Outputs, error) {
			if raw, ok := fields["values"]; ok {
				values, err := toFloatSlice(raw)
				if err != nil {
					return nil, err
				}
				return dataflow.Outputs{"output": {{Datatype: "refldata", Payload: RefData{Values: values}}}}, nil
			}
			fi, ok := fields["fileinfo"]
			if !ok {
				return nil, engerr.Validation("load: neither values nor fileinfo provided", nil)
			}
			info, ok := fi.(dataflow.FileInfo)
			if !ok {
				return nil, engerr.Validation("load: fileinfo field has the wrong shape", nil)
			}
			if actx.FileStore == nil {
				return nil, engerr.IOError("load: no file store configured", nil)
			}
			data, err := actx.FileStore.OpenFile(actx.Context, info.Source, info.Path, info.Mtime)
			if err != nil {
				return nil, err
			}
			values, err := parseRawFloats(data)
			if err != nil {
				return nil, err
			}
			return dataflow.Outputs{"output": {{Datatype: "refldata", Payload: RefData{Values: values}}}}, nil
		},
	}
}

func scaleDef() *registry.ModuleDefinition {
	return &registry.ModuleDefinition{
		ID:          "scale",
		Name:        "Scale",
		Description: "Multiplies every value in the series by a constant factor.",
		Inputs: []registry.InputTerminal{
			{ID: "data", Datatype: "refldata", Required: true},
		},
		Outputs: []registry.OutputTerminal{{ID: "output", Datatype: "refldata"}},
		Fields: []registry.Field{
			{ID: "factor", Datatype: registry.FieldFloat, Default: 1.0},
		},
		Action: func(_ dataflow.ActionContext, inputs dataflow.Inputs, fields map[string]any) (dataflow.Outputs, error) {
			in, err := single(inputs, "data")
			if err != nil {
				return nil, err
			}
			factor := floatField(fields, "factor", 1.0)
			out := make([]float64, len(in.Values))
			for i, v := range in.Values {
				out[i] = v * factor
			}
			return dataflow.Outputs{"output": {{Datatype: "refldata", Payload: RefData{Values: out}}}}, nil
		},
	}
}

func sumDef() *registry.ModuleDefinition {
	return &registry.ModuleDefinition{
		ID:          "sum",
		Name:        "Sum",
		Description: "Sums every value of every wired input series into a single summary scalar.",
		Inputs: []registry.InputTerminal{
			{ID: "data", Datatype: "refldata", Required: true, Multiple: true},
		},
		Outputs: []registry.OutputTerminal{{ID: "output", Datatype: "refldata"}},
		Action: func(_ dataflow.ActionContext, inputs dataflow.Inputs, _ map[string]any) (dataflow.Outputs, error) {
			values, ok := inputs["data"]
			if !ok || len(values) == 0 {
				return nil, engerr.Validation("sum: missing required input data", nil)
			}
			var total float64
			for _, v := range values {
				rd, err := refData(v)
				if err != nil {
					return nil, err
				}
				for _, x := range rd.Values {
					total += x
				}
			}
			return dataflow.Outputs{"output": {{
				Datatype: "refldata",
				Payload:  RefData{Summary: map[string]any{"sum": total}},
			}}}, nil
		},
	}
}

func subtractDef() *registry.ModuleDefinition {
	return &registry.ModuleDefinition{
		ID:          "subtract",
		Name:        "Subtract",
		Description: "Subtracts the background series from the data series, element by element.",
		Inputs: []registry.InputTerminal{
			{ID: "data", Datatype: "refldata", Required: true},
			{ID: "background", Datatype: "refldata", Required: true},
		},
		Outputs: []registry.OutputTerminal{{ID: "output", Datatype: "refldata"}},
		Action: func(_ dataflow.ActionContext, inputs dataflow.Inputs, _ map[string]any) (dataflow.Outputs, error) {
			data, err := single(inputs, "data")
			if err != nil {
				return nil, err
			}
			bg, err := single(inputs, "background")
			if err != nil {
				return nil, err
			}
			if len(data.Values) != len(bg.Values) {
				return nil, engerr.Validation("subtract: data and background series lengths differ", nil)
			}
			out := make([]float64, len(data.Values))
			for i := range data.Values {
				out[i] = data.Values[i] - bg.Values[i]
			}
			return dataflow.Outputs{"output": {{Datatype: "refldata", Payload: RefData{Values: out}}}}, nil
		},
	}
}

func normalizeDef() *registry.ModuleDefinition {
	return &registry.ModuleDefinition{
		ID:          "normalize",
		Name:        "Normalize",
		Description: "Divides every value by a monitor count field, or by the series' own maximum when monitor is zero.",
		Inputs: []registry.InputTerminal{
			{ID: "data", Datatype: "refldata", Required: true},
		},
		Outputs: []registry.OutputTerminal{{ID: "output", Datatype: "refldata"}},
		Fields: []registry.Field{
			{ID: "monitor", Datatype: registry.FieldFloat, Default: 0.0},
		},
		Action: func(_ dataflow.ActionContext, inputs dataflow.Inputs, fields map[string]any) (dataflow.Outputs, error) {
			in, err := single(inputs, "data")
			if err != nil {
				return nil, err
			}
			divisor := floatField(fields, "monitor", 0.0)
			if divisor == 0 {
				for _, v := range in.Values {
					if v > divisor {
						divisor = v
					}
				}
			}
			if divisor == 0 {
				return nil, engerr.Validation("normalize: cannot normalize an all-zero series with no monitor", nil)
			}
			out := make([]float64, len(in.Values))
			for i, v := range in.Values {
				out[i] = v / divisor
			}
			return dataflow.Outputs{"output": {{Datatype: "refldata", Payload: RefData{Values: out}}}}, nil
		},
	}
}

func rebinDef() *registry.ModuleDefinition {
	return &registry.ModuleDefinition{
		ID:          "rebin",
		Name:        "Rebin",
		Description: "Groups the series into fixed-size bins and averages each bin.",
		Inputs: []registry.InputTerminal{
			{ID: "data", Datatype: "refldata", Required: true},
		},
		Outputs: []registry.OutputTerminal{{ID: "output", Datatype: "refldata"}},
		Fields: []registry.Field{
			{ID: "bin_size", Datatype: registry.FieldIndex, Default: 1},
		},
		Action: func(_ dataflow.ActionContext, inputs dataflow.Inputs, fields map[string]any) (dataflow.Outputs, error) {
			in, err := single(inputs, "data")
			if err != nil {
				return nil, err
			}
			binSize := int(floatField(fields, "bin_size", 1))
			if binSize < 1 {
				return nil, engerr.Validation("rebin: bin_size must be >= 1", nil)
			}
			var out []float64
			for i := 0; i < len(in.Values); i += binSize {
				end := i + binSize
				if end > len(in.Values) {
					end = len(in.Values)
				}
				var sum float64
				for _, v := range in.Values[i:end] {
					sum += v
				}
				out = append(out, sum/float64(end-i))
			}
			return dataflow.Outputs{"output": {{Datatype: "refldata", Payload: RefData{Values: out}}}}, nil
		},
	}
}

func fitDef() *registry.ModuleDefinition {
	return &registry.ModuleDefinition{
		ID:          "fit",
		Name:        "Fit",
		Description: "Fits the series to a linear model y = slope*x + intercept via Levenberg-Marquardt least squares.",
		Inputs: []registry.InputTerminal{
			{ID: "data", Datatype: "refldata", Required: true},
		},
		Outputs: []registry.OutputTerminal{{ID: "output", Datatype: "refldata"}},
		Fields: []registry.Field{
			{ID: "initial_slope", Datatype: registry.FieldFloat, Default: 0.0},
			{ID: "initial_intercept", Datatype: registry.FieldFloat, Default: 0.0},
		},
		Action: func(_ dataflow.ActionContext, inputs dataflow.Inputs, fields map[string]any) (dataflow.Outputs, error) {
			in, err := single(inputs, "data")
			if err != nil {
				return nil, err
			}
			ys := in.Values
			residuals := func(params []float64) ([]float64, error) {
				res := make([]float64, len(ys))
				for i, y := range ys {
					model := params[0]*float64(i) + params[1]
					res[i] = y - model
				}
				return res, nil
			}
			initial := []float64{floatField(fields, "initial_slope", 0), floatField(fields, "initial_intercept", 0)}
			result, err := lmfit.Fit(residuals, initial, lmfit.DefaultOptions())
			if err != nil {
				return nil, engerr.ModuleError(-1, "fit: solver failed", err)
			}
			return dataflow.Outputs{"output": {{
				Datatype: "refldata",
				Payload: RefData{Summary: map[string]any{
					"slope":      result.Params[0],
					"intercept":  result.Params[1],
					"perror":     result.Perror,
					"chisq":      result.ChiSquare,
					"fnorm":      result.Fnorm,
					"iterations": result.Iterations,
					"nfev":       result.Nfev,
					"status":     int(result.Status),
					"errmsg":     result.Errmsg,
				}},
			}}}, nil
		},
	}
}

// ExportPayload is the output of an export.* module action: the actual
// serialized bytes produced by running the Reload Codec (§4.G) in its
// encode direction, plus a suggested filename and the format it was
// written in, so a caller can write it to disk without re-deriving the
// extension.
type ExportPayload struct {
	Format   string `json:"format"`
	Filename string `json:"filename"`
	Bytes    []byte `json:"bytes"`
}

// Export implements dataflow.ExportableView: an export.* module's own
// output already is the "export" return-type projection, so it is
// carried through unchanged.
func (p ExportPayload) Export() dataflow.ExportValue {
	return dataflow.ExportValue{Format: p.Format, Filename: p.Filename, Bytes: p.Bytes}
}

// encodeExport turns a refldata series into a reload.Document (one value
// per row in a single "value" column, with the series' summary carried as
// the document's embedded template_data) and encodes it in format.
func encodeExport(in RefData, format reload.Format, filename string) (ExportPayload, error) {
	summary := in.Summary
	if summary == nil {
		summary = map[string]any{}
	}
	template, err := json.Marshal(summary)
	if err != nil {
		return ExportPayload{}, fmt.Errorf("export: marshal summary: %w", err)
	}

	columns := make([][]float64, len(in.Values))
	for i, v := range in.Values {
		columns[i] = []float64{v}
	}
	doc := &reload.Document{
		Format:      format,
		Template:    template,
		ColumnNames: []string{"value"},
		Columns:     columns,
	}

	encoded, err := reload.Encode(doc)
	if err != nil {
		return ExportPayload{}, fmt.Errorf("export: encode %s: %w", format, err)
	}
	return ExportPayload{Format: string(format), Filename: filename, Bytes: encoded}, nil
}

func exportJSONDef() *registry.ModuleDefinition {
	return &registry.ModuleDefinition{
		ID:          "export.json",
		Name:        "Export JSON",
		Description: "Serializes a refldata series' values and summary through the Reload Codec's json format.",
		Inputs: []registry.InputTerminal{
			{ID: "data", Datatype: "refldata", Required: true},
		},
		Outputs: []registry.OutputTerminal{{ID: "export", Datatype: "export"}},
		Action: func(_ dataflow.ActionContext, inputs dataflow.Inputs, _ map[string]any) (dataflow.Outputs, error) {
			in, err := single(inputs, "data")
			if err != nil {
				return nil, err
			}
			payload, err := encodeExport(in, reload.FormatJSON, "export.json")
			if err != nil {
				return nil, engerr.ModuleError(-1, "export.json: encode failed", err)
			}
			return dataflow.Outputs{"export": {{Datatype: "export", Payload: payload}}}, nil
		},
	}
}

func exportColumnDef() *registry.ModuleDefinition {
	return &registry.ModuleDefinition{
		ID:          "export.column",
		Name:        "Export Column",
		Description: "Serializes a refldata series through the Reload Codec's single-column text format.",
		Inputs: []registry.InputTerminal{
			{ID: "data", Datatype: "refldata", Required: true},
		},
		Outputs: []registry.OutputTerminal{{ID: "export", Datatype: "export"}},
		Action: func(_ dataflow.ActionContext, inputs dataflow.Inputs, _ map[string]any) (dataflow.Outputs, error) {
			in, err := single(inputs, "data")
			if err != nil {
				return nil, err
			}
			payload, err := encodeExport(in, reload.FormatColumn, "export.dat")
			if err != nil {
				return nil, engerr.ModuleError(-1, "export.column: encode failed", err)
			}
			return dataflow.Outputs{"export": {{Datatype: "export", Payload: payload}}}, nil
		},
	}
}

func toFloatSlice(raw any) ([]float64, error) {
	list, ok := raw.([]any)
	if !ok {
		if fl, ok := raw.([]float64); ok {
			return fl, nil
		}
		return nil, engerr.Validation(fmt.Sprintf("expected a numeric list, got %T", raw), nil)
	}
	out := make([]float64, len(list))
	for i, v := range list {
		switch n := v.(type) {
		case float64:
			out[i] = n
		case int:
			out[i] = float64(n)
		default:
			return nil, engerr.Validation(fmt.Sprintf("expected a number at index %d, got %T", i, v), nil)
		}
	}
	return out, nil
}

func parseRawFloats(data []byte) ([]float64, error) {
	fields := strings.Fields(string(data))
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, engerr.MalformedHeader("load: non-numeric data value "+f, err)
		}
		out = append(out, v)
	}
	return out, nil
}
