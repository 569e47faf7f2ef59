package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ingest.ckpt")

	f, err := NewFile(path)
	require.NoError(t, err)

	// No file yet.
	_, ok, err := f.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	want := State{
		Offsets: map[int32]int64{0: 42, 3: 7},
		LastTs:  1700000000,
	}
	require.NoError(t, f.Save(want))

	got, ok, err := f.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	// The tmp file must not linger after a successful save.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFile_NilOffsetsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.ckpt")

	f, err := NewFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Save(State{LastTs: 5}))

	got, ok, err := f.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, got.Offsets)
	assert.Empty(t, got.Offsets)
}

func TestFile_CorruptFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.ckpt")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	f, err := NewFile(path)
	require.NoError(t, err)

	_, _, err = f.Load()
	assert.Error(t, err)
}
