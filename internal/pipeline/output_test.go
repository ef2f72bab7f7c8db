package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_OutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "data.bin.dec.bin"), OutputPath("out", "data.bin"))
	assert.Equal(t, filepath.Join("out", "data.bin.dec.bin"), OutputPath("out", "/some/dir/data.bin"))
}

func Test_OpenOutputPreSizes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")

	out, err := OpenOutput(dir, "input.bin", 10)
	require.NoError(t, err)
	defer out.Close()

	info, err := os.Stat(out.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size())

	data, err := os.ReadFile(out.Path())
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 10), data)
}

func Test_OutputPositionalWrites(t *testing.T) {
	out, err := OpenOutput(t.TempDir(), "input.bin", 5)
	require.NoError(t, err)
	defer out.Close()

	// Out of order, the way concurrent receivers land.
	require.NoError(t, out.WriteByteAt('o', 4))
	require.NoError(t, out.WriteByteAt('h', 0))
	require.NoError(t, out.WriteByteAt('l', 2))
	require.NoError(t, out.WriteByteAt('l', 3))
	require.NoError(t, out.WriteByteAt('e', 1))

	data, err := os.ReadFile(out.Path())
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func Test_OpenOutputExistingFileIsResized(t *testing.T) {
	dir := t.TempDir()
	p := OutputPath(dir, "input.bin")
	require.NoError(t, os.WriteFile(p, []byte("leftover from a previous run"), 0o666))

	out, err := OpenOutput(dir, "input.bin", 4)
	require.NoError(t, err)
	defer out.Close()

	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())
}
