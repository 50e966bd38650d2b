package reload

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reductus/engine/internal/testutil"
)

func TestDetectJSON(t *testing.T) {
	f, err := Detect([]byte(`{"template_data": {}}`))
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
}

func TestDetectColumnBothPrefixVariants(t *testing.T) {
	for _, data := range []string{
		"#\"template_data\": {}\n1 2\n",
		"# \"template_data\": {}\n1 2\n",
	} {
		f, err := Detect([]byte(data))
		require.NoError(t, err)
		assert.Equal(t, FormatColumn, f)
	}
}

func TestDetectORSO(t *testing.T) {
	f, err := Detect([]byte("# # ORSO reflectivity data file\n# columns: []\n1 2\n"))
	require.NoError(t, err)
	assert.Equal(t, FormatORSO, f)
}

func TestDetectPNGAndHDF5(t *testing.T) {
	f, err := Detect(pngMagic)
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, f)

	f, err = Detect(hdf5Magic)
	require.NoError(t, err)
	assert.Equal(t, FormatHDF5, f)
}

func TestDetectUnsupported(t *testing.T) {
	_, err := Detect([]byte("garbage"))
	assert.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	doc := &Document{
		Format:      FormatJSON,
		Template:    json.RawMessage(`{"modules":[]}`),
		ColumnNames: []string{"q", "r"},
		Columns:     [][]float64{{0.1, 1.0}, {0.2, 0.5}},
	}
	encoded, err := Encode(doc)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, doc.ColumnNames, decoded.ColumnNames)
	assert.Equal(t, doc.Columns, decoded.Columns)
	assert.JSONEq(t, string(doc.Template), string(decoded.Template))
}

func TestColumnRoundTripBothPrefixVariants(t *testing.T) {
	for _, raw := range []string{
		"#\"template_data\": {\"modules\":[]}\n# q r\n0.1 1.0\n0.2 0.5\n",
		"# \"template_data\": {\"modules\":[]}\n# q r\n0.1 1.0\n0.2 0.5\n",
	} {
		doc, err := Decode([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, FormatColumn, doc.Format)
		assert.Equal(t, []string{"q", "r"}, doc.ColumnNames)
		assert.Equal(t, [][]float64{{0.1, 1.0}, {0.2, 0.5}}, doc.Columns)
		assert.JSONEq(t, `{"modules":[]}`, string(doc.Template))

		reencoded, err := Encode(doc)
		require.NoError(t, err)
		redecoded, err := Decode(reencoded)
		require.NoError(t, err)
		assert.Equal(t, doc.Columns, redecoded.Columns)
	}
}

func TestColumnRejectsNonNumericData(t *testing.T) {
	_, err := Decode([]byte("#\"template_data\": {}\n# q r\nabc def\n"))
	assert.Error(t, err)
}

func TestORSORoundTrip(t *testing.T) {
	raw := "# # ORSO reflectivity data file\n" +
		"# columns:\n" +
		"#   - name: Qz\n" +
		"#   - name: R\n" +
		"# reduction:\n" +
		"#   software:\n" +
		"#     template_data: {\"modules\":[]}\n" +
		"0.01 100.0\n0.02 90.0\n"

	doc, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, FormatORSO, doc.Format)
	assert.Equal(t, []string{"Qz", "R"}, doc.ColumnNames)
	assert.Equal(t, [][]float64{{0.01, 100.0}, {0.02, 90.0}}, doc.Columns)

	reencoded, err := Encode(doc)
	require.NoError(t, err)
	redecoded, err := Decode(reencoded)
	require.NoError(t, err)
	assert.Equal(t, doc.Columns, redecoded.Columns)
	assert.Equal(t, doc.ColumnNames, redecoded.ColumnNames)
}

func TestHDF5AndPNGPassThrough(t *testing.T) {
	payload := append(append([]byte{}, pngMagic...), []byte("fakepngbytes")...)
	doc, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, doc.Format)

	out, err := Encode(doc)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestDecodeFromDiskRoundTrip(t *testing.T) {
	dir := testutil.TempDir(t)
	path := testutil.WriteFile(t, dir, "run.dat", "#\"template_data\": {\"modules\":[]}\n# q r\n0.01 100.0\n0.02 90.0\n")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	doc, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, FormatColumn, doc.Format)
	assert.Equal(t, []string{"q", "r"}, doc.ColumnNames)
}
