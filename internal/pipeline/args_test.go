package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ParseKey(t *testing.T) {
	key, err := ParseKey("aa")
	require.NoError(t, err)
	assert.Equal(t, byte(0xAA), key)

	key, err = ParseKey("0F")
	require.NoError(t, err)
	assert.Equal(t, byte(0x0F), key)

	for _, bad := range []string{"", "a", "aaa", "zz", "-1"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, "key %q should be rejected", bad)
	}
}

func Test_ParseWorkerArgsDefaults(t *testing.T) {
	args, err := ParseWorkerArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, args.Mode)
	assert.Nil(t, args.Key)
	assert.Zero(t, args.Delay)
}

func Test_ParseWorkerArgsModes(t *testing.T) {
	args, err := ParseWorkerArgs([]string{"auto"})
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, args.Mode)

	args, err = ParseWorkerArgs([]string{"manual"})
	require.NoError(t, err)
	assert.Equal(t, ModeManual, args.Mode)

	_, err = ParseWorkerArgs([]string{"turbo"})
	assert.Error(t, err)
}

func Test_ParseWorkerArgsAmbiguousSecond(t *testing.T) {
	// Two hex digits read as a key.
	args, err := ParseWorkerArgs([]string{"auto", "ff"})
	require.NoError(t, err)
	require.NotNil(t, args.Key)
	assert.Equal(t, byte(0xFF), *args.Key)
	assert.Zero(t, args.Delay)

	// Everything else must be a delay.
	args, err = ParseWorkerArgs([]string{"auto", "250"})
	require.NoError(t, err)
	assert.Nil(t, args.Key)
	assert.Equal(t, 250*time.Millisecond, args.Delay)

	// "42" parses as hex before it parses as delay, same as the
	// original grammar.
	args, err = ParseWorkerArgs([]string{"auto", "42"})
	require.NoError(t, err)
	require.NotNil(t, args.Key)
	assert.Equal(t, byte(0x42), *args.Key)

	_, err = ParseWorkerArgs([]string{"auto", "nope"})
	assert.Error(t, err)
}

func Test_ParseWorkerArgsKeyAndDelay(t *testing.T) {
	args, err := ParseWorkerArgs([]string{"auto", "5a", "1000"})
	require.NoError(t, err)
	require.NotNil(t, args.Key)
	assert.Equal(t, byte(0x5A), *args.Key)
	assert.Equal(t, time.Second, args.Delay)

	_, err = ParseWorkerArgs([]string{"auto", "5a", "9999"})
	assert.Error(t, err)

	_, err = ParseWorkerArgs([]string{"auto", "5a", "-1"})
	assert.Error(t, err)
}

func Test_ParseWorkerArgsManual(t *testing.T) {
	args, err := ParseWorkerArgs([]string{"manual", "ab"})
	require.NoError(t, err)
	assert.Equal(t, ModeManual, args.Mode)
	require.NotNil(t, args.Key)
	assert.Equal(t, byte(0xAB), *args.Key)

	// Manual ignores a trailing delay.
	args, err = ParseWorkerArgs([]string{"manual", "ab", "500"})
	require.NoError(t, err)
	assert.Zero(t, args.Delay)

	_, err = ParseWorkerArgs([]string{"manual", "nope"})
	assert.Error(t, err)
}
