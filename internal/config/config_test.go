package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseIDSet(t *testing.T) {
	set, err := ParseIDSet("123, -456,-1001234567890")
	require.NoError(t, err)
	require.True(t, set.Contains(123))
	require.True(t, set.Contains(-456))
	require.True(t, set.Contains(-1001234567890))
	require.False(t, set.Contains(789))
}

func TestParseIDSet_Invalid(t *testing.T) {
	_, err := ParseIDSet("123,abc")
	require.Error(t, err)
}

func TestIDSet_UnmarshalYAML_Sequence(t *testing.T) {
	var set IDSet
	require.NoError(t, yaml.Unmarshal([]byte("[1, -2, 3]"), &set))
	require.True(t, set.Contains(-2))
	require.False(t, set.Contains(4))
}

func TestIDSet_UnmarshalYAML_Scalar(t *testing.T) {
	var set IDSet
	require.NoError(t, yaml.Unmarshal([]byte(`"1,-2"`), &set))
	require.True(t, set.Contains(1))
	require.True(t, set.Contains(-2))
}

func TestLoadFile_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dbKind: postgres
dbUrl: postgres://localhost/telvault
batchSize: 50
albumWindow: 5s
media:
  maxSizeMb: 10
  skipChatIds: [42]
filter:
  chatTypes: [private]
  priorityIds: "7,-8"
`), 0o644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFile(path))
	require.Equal(t, "postgres", cfg.DBKind)
	require.Equal(t, 50, cfg.BatchSize)
	require.Equal(t, 5*time.Second, cfg.AlbumWindow)
	require.Equal(t, int64(10*1024*1024), cfg.Media.MaxSizeBytes())
	require.True(t, cfg.Media.SkipChatIDs.Contains(42))
	require.True(t, cfg.Filter.PriorityIDs.Contains(-8))
	require.Equal(t, []string{"private"}, cfg.Filter.ChatTypes)
	// Untouched values keep their defaults.
	require.Equal(t, 1, cfg.CheckpointInterval)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batchSze: 10\n"), 0o644))
	cfg := DefaultConfig()
	require.Error(t, cfg.LoadFile(path))
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.DBKind = "oracle"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.BatchSize = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Filter.ChatTypes = []string{"private", "bots"}
	require.Error(t, cfg.Validate())
}
