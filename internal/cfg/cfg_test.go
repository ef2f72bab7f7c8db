package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func Test_DefaultConfig(t *testing.T) {
	c := DefaultConfig()

	assert.Equal(t, zapcore.InfoLevel, c.Logging.Level)
	assert.Equal(t, "./out", c.OutputDir)
	assert.Equal(t, 5*time.Second, c.AttachTimeout())
}

func Test_LoadConfigEmptyPath(t *testing.T) {
	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
}

func Test_LoadConfigOverrides(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
logging:
  level: debug
output_dir: /tmp/cipherline-out
attach_timeout_ms: 30000
`), 0o666))

	c, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, c.Logging.Level)
	assert.Equal(t, "/tmp/cipherline-out", c.OutputDir)
	assert.Equal(t, 30*time.Second, c.AttachTimeout())
}

func Test_LoadConfigBadYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("output_dir: [not: valid"), 0o666))

	_, err := LoadConfig(p)
	assert.Error(t, err)
}

func Test_ResolveOutputDir(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "./out", c.ResolveOutputDir())

	c.OutputDir = "/data/out"
	assert.Equal(t, "/data/out", c.ResolveOutputDir())

	t.Setenv(OutputDirEnv, "/env/wins")
	assert.Equal(t, "/env/wins", c.ResolveOutputDir())
}
