package filestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reductus/engine/internal/engerr"
)

func TestUnknownSourceIsNotFound(t *testing.T) {
	s := New()
	_, err := s.Stat(context.Background(), "nope", "/a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, engerr.ErrNotFound))
}

func TestOpenFileRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/run1.nxs", []byte("hello"), 0o644))

	s := New()
	s.AddSource("local", fs)

	data, err := s.OpenFile(context.Background(), "local", "/data/run1.nxs", 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestOpenFileDetectsMtimeDrift(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/run1.nxs", []byte("hello"), 0o644))

	s := New()
	s.AddSource("local", fs)

	info, err := fs.Stat("/data/run1.nxs")
	require.NoError(t, err)
	staleMtime := info.ModTime().Add(-time.Hour).Unix()

	_, err = s.OpenFile(context.Background(), "local", "/data/run1.nxs", staleMtime)
	require.Error(t, err)
	var ee *engerr.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, engerr.KindMissingFile, ee.Kind)
}

func TestOpenFileMissingIsMissingFile(t *testing.T) {
	s := New()
	s.AddSource("local", afero.NewMemMapFs())
	_, err := s.OpenFile(context.Background(), "local", "/nope", 0)
	require.Error(t, err)
	var ee *engerr.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, engerr.KindMissingFile, ee.Kind)
}

func TestListDirSortsAndCollectsMetadata(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data/sub", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/data/b.nxs", []byte("b"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/data/a.nxs", []byte("a"), 0o644))

	s := New()
	s.AddSource("local", fs)

	subdirs, files, meta, err := s.ListDir(context.Background(), "local", []string{"/data"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/sub"}, subdirs)
	assert.Equal(t, []string{"/data/a.nxs", "/data/b.nxs"}, files)
	assert.Contains(t, meta, "/data/a.nxs")
}
