// Package reload implements the template-reload codec (§4.G): decoding a
// previously exported data file back into its originating template plus
// its computed values, and the inverse encode. Format is selected by
// inspecting the document's leading bytes rather than a file extension,
// so the codec works the same whether the bytes arrived from a local
// file, an upload, or an RPC payload.
//
// Grounded on the teacher's internal/output package for the general
// "inspect-then-dispatch" shape of its formatter selection, and on
// gopkg.in/yaml.v3 (already in the teacher's dependency closet for config
// parsing) for the ORSO header, which is itself YAML embedded in comment
// lines.
package reload

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reductus/engine/internal/engerr"
)

// Format identifies one of the supported reload container formats.
type Format string

const (
	FormatJSON   Format = "json"
	FormatColumn Format = "column"
	FormatHDF5   Format = "hdf5"
	FormatPNG    Format = "png"
	FormatORSO   Format = "orso"
)

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	hdf5Magic = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}
	orsoLine  = "# # ORSO reflectivity data file"
)

// Document is the codec's in-memory representation of a reloadable file:
// the template that produced it, the header metadata embedded alongside,
// and the tabular or binary payload.
type Document struct {
	Format      Format
	Template    json.RawMessage
	Header      map[string]any
	ColumnNames []string
	Columns     [][]float64
	Binary      []byte
}

// Detect identifies a document's format from its leading bytes, without
// fully decoding it.
func Detect(data []byte) (Format, error) {
	if bytes.HasPrefix(data, pngMagic) {
		return FormatPNG, nil
	}
	if bytes.HasPrefix(data, hdf5Magic) {
		return FormatHDF5, nil
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte(orsoLine)) {
		return FormatORSO, nil
	}
	if bytes.HasPrefix(trimmed, []byte("#")) {
		return FormatColumn, nil
	}
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON, nil
	}
	return "", engerr.UnsupportedFormat("reload: unrecognized file format")
}

// Decode parses data into a Document, auto-detecting its format.
func Decode(data []byte) (*Document, error) {
	format, err := Detect(data)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatJSON:
		return decodeJSON(data)
	case FormatColumn:
		return decodeColumn(data)
	case FormatORSO:
		return decodeORSO(data)
	case FormatHDF5, FormatPNG:
		return &Document{Format: format, Binary: data}, nil
	default:
		return nil, engerr.UnsupportedFormat("reload: unrecognized file format")
	}
}

// Encode serializes doc back to bytes in its own format, the inverse of
// Decode for every format but the opaque binary containers (hdf5, png),
// which round-trip their original bytes verbatim.
func Encode(doc *Document) ([]byte, error) {
	switch doc.Format {
	case FormatJSON:
		return encodeJSON(doc)
	case FormatColumn:
		return encodeColumn(doc)
	case FormatORSO:
		return encodeORSO(doc)
	case FormatHDF5, FormatPNG:
		return doc.Binary, nil
	default:
		return nil, engerr.UnsupportedFormat(fmt.Sprintf("reload: cannot encode format %q", doc.Format))
	}
}

type jsonEnvelope struct {
	TemplateData json.RawMessage  `json:"template_data"`
	Header       map[string]any   `json:"header,omitempty"`
	ColumnNames  []string         `json:"columns,omitempty"`
	Values       [][]float64      `json:"values,omitempty"`
}

func decodeJSON(data []byte) (*Document, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, engerr.MalformedHeader("reload: malformed json envelope", err)
	}
	return &Document{
		Format:      FormatJSON,
		Template:    env.TemplateData,
		Header:      env.Header,
		ColumnNames: env.ColumnNames,
		Columns:     env.Values,
	}, nil
}

func encodeJSON(doc *Document) ([]byte, error) {
	env := jsonEnvelope{
		TemplateData: doc.Template,
		Header:       doc.Header,
		ColumnNames:  doc.ColumnNames,
		Values:       doc.Columns,
	}
	return json.Marshal(env)
}

// templateDataPrefixes accepts both the no-space and single-space
// variants of the column header's embedded-template comment line, since
// both appear across files produced by different export paths.
var templateDataPrefixes = []string{`#"template_data":`, `# "template_data":`}

func decodeColumn(data []byte) (*Document, error) {
	doc := &Document{Format: FormatColumn, Header: map[string]any{}}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			matched := false
			for _, prefix := range templateDataPrefixes {
				if strings.HasPrefix(line, prefix) {
					raw := strings.TrimSpace(strings.TrimPrefix(line, prefix))
					doc.Template = json.RawMessage(raw)
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			if doc.ColumnNames == nil {
				rest := strings.TrimPrefix(strings.TrimPrefix(line, "#"), " ")
				if candidate := strings.Fields(rest); len(candidate) > 0 {
					doc.ColumnNames = candidate
				}
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		dataLines = append(dataLines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, engerr.MalformedHeader("reload: error scanning column file", err)
	}

	for _, line := range dataLines {
		fields := strings.Fields(line)
		row := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, engerr.MalformedHeader("reload: non-numeric value in column data: "+f, err)
			}
			row[i] = v
		}
		doc.Columns = append(doc.Columns, row)
	}
	return doc, nil
}

func encodeColumn(doc *Document) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "#\"template_data\": %s\n", string(doc.Template))
	if len(doc.ColumnNames) > 0 {
		fmt.Fprintf(&b, "# %s\n", strings.Join(doc.ColumnNames, " "))
	}
	for _, row := range doc.Columns {
		strs := make([]string, len(row))
		for i, v := range row {
			strs[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		b.WriteString(strings.Join(strs, " "))
		b.WriteString("\n")
	}
	return []byte(b.String()), nil
}

// orsoHeader's Reduction.Software.TemplateData field is decoded as a
// generic YAML value rather than json.RawMessage directly: go-yaml maps a
// []byte target to its !!binary (base64) convention, which the embedded
// template's flow mapping is not, so the value is re-marshaled to JSON
// after decoding. The nesting under reduction.software mirrors the real
// ORSO header convention of recording the producing software's own
// metadata under that path, rather than as a top-level key.
type orsoHeader struct {
	DataSource map[string]any `yaml:"data_source,omitempty"`
	Columns    []struct {
		Name string `yaml:"name"`
	} `yaml:"columns,omitempty"`
	Reduction struct {
		Software struct {
			TemplateData any `yaml:"template_data,omitempty"`
		} `yaml:"software,omitempty"`
	} `yaml:"reduction,omitempty"`
}

func decodeORSO(data []byte) (*Document, error) {
	doc := &Document{Format: FormatORSO, Header: map[string]any{}}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var yamlLines []string
	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == orsoLine {
			continue
		}
		if strings.HasPrefix(line, "#") {
			yamlLines = append(yamlLines, strings.TrimPrefix(strings.TrimPrefix(line, "#"), " "))
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		dataLines = append(dataLines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, engerr.MalformedHeader("reload: error scanning orso file", err)
	}

	var hdr orsoHeader
	if len(yamlLines) > 0 {
		if err := yaml.Unmarshal([]byte(strings.Join(yamlLines, "\n")), &hdr); err != nil {
			return nil, engerr.MalformedHeader("reload: malformed orso yaml header", err)
		}
	}
	if hdr.Reduction.Software.TemplateData != nil {
		raw, err := json.Marshal(hdr.Reduction.Software.TemplateData)
		if err != nil {
			return nil, engerr.MalformedHeader("reload: re-encoding orso reduction.software.template_data as json", err)
		}
		doc.Template = raw
	}
	doc.Header = map[string]any{"data_source": hdr.DataSource}
	for _, c := range hdr.Columns {
		doc.ColumnNames = append(doc.ColumnNames, c.Name)
	}

	for _, line := range dataLines {
		fields := strings.Fields(line)
		row := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, engerr.MalformedHeader("reload: non-numeric value in orso data: "+f, err)
			}
			row[i] = v
		}
		doc.Columns = append(doc.Columns, row)
	}
	return doc, nil
}

func encodeORSO(doc *Document) ([]byte, error) {
	hdr := orsoHeader{}
	if len(doc.Template) > 0 {
		var v any
		if err := json.Unmarshal(doc.Template, &v); err != nil {
			return nil, engerr.MalformedHeader("reload: decoding template_data for orso header", err)
		}
		hdr.Reduction.Software.TemplateData = v
	}
	for _, name := range doc.ColumnNames {
		hdr.Columns = append(hdr.Columns, struct {
			Name string `yaml:"name"`
		}{Name: name})
	}
	if ds, ok := doc.Header["data_source"].(map[string]any); ok {
		hdr.DataSource = ds
	}
	yamlBytes, err := yaml.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("reload: encode orso header: %w", err)
	}

	var b strings.Builder
	b.WriteString(orsoLine)
	b.WriteString("\n")
	for _, line := range strings.Split(strings.TrimRight(string(yamlBytes), "\n"), "\n") {
		b.WriteString("# ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, row := range doc.Columns {
		strs := make([]string, len(row))
		for i, v := range row {
			strs[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		b.WriteString(strings.Join(strs, " "))
		b.WriteString("\n")
	}
	return []byte(b.String()), nil
}
