package rpc

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reductus/engine/internal/engine"
	"github.com/reductus/engine/internal/filestore"
	"github.com/reductus/engine/internal/reduction/modules"
	"github.com/reductus/engine/internal/registry"
	"github.com/reductus/engine/internal/template"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	reg := registry.New()
	require.NoError(t, modules.Register(reg))
	fs := filestore.New()
	return &Server{
		Engine:      engine.New(reg, fs),
		Registry:    reg,
		FileStore:   fs,
		Instruments: []string{"refl"},
		DataSources: []string{"local"},
	}
}

func TestInProcessClientListInstrumentsAndDatasources(t *testing.T) {
	s := testServer(t)
	c := &InProcessClient{Server: s}
	assert.Equal(t, []string{"refl"}, c.ListInstruments())
	assert.Equal(t, []string{"local"}, c.ListDatasources())
}

func TestInProcessClientCalcTerminal(t *testing.T) {
	s := testServer(t)
	c := &InProcessClient{Server: s}

	tmpl := &template.Template{
		Modules: []template.Module{
			{ModuleID: "load", Config: map[string]any{"values": []any{1.0, 2.0, 3.0}}},
			{ModuleID: "scale", Config: map[string]any{"factor": 2.0}},
			{ModuleID: "sum"},
		},
		Wires: []template.Wire{
			{Source: template.WireEnd{Node: 0, Terminal: "output"}, Target: template.WireEnd{Node: 1, Terminal: "data"}},
			{Source: template.WireEnd{Node: 1, Terminal: "output"}, Target: template.WireEnd{Node: 2, Terminal: "data"}},
		},
	}

	out, err := c.CalcTerminal(context.Background(), tmpl, 2, "data")
	require.NoError(t, err)
	rd := out["output"][0].Payload.(modules.RefData)
	assert.Equal(t, 12.0, rd.Summary["sum"])
}

func TestGetInstrumentUnknownIsError(t *testing.T) {
	s := testServer(t)
	_, err := s.GetInstrument("nope")
	assert.Error(t, err)
}

func TestStreamServerRoundTrip(t *testing.T) {
	s := testServer(t)
	stream := &StreamServer{Server: s}

	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { _ = serverSide.Close(); _ = clientSide.Close() })
	go func() { _ = stream.Serve(context.Background(), serverSide) }()

	require.NoError(t, WriteFrame(clientSide, Request{Method: MethodListInstruments}))
	var resp Response
	require.NoError(t, ReadFrame(clientSide, &resp))
	assert.Equal(t, []any{"refl"}, resp.Result)
}

func TestFrameRoundTripPreservesStructure(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Method: MethodGetFileMetadata, Params: map[string]any{"source": "local", "path": "/a.dat"}}
	require.NoError(t, WriteFrame(&buf, req))

	var decoded Request
	require.NoError(t, ReadFrame(&buf, &decoded))
	assert.Equal(t, req.Method, decoded.Method)
	assert.Equal(t, "local", decoded.Params["source"])
}
