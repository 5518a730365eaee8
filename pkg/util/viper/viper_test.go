package viper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverSection struct {
	Addr           string `mapstructure:"addr"`
	MaxMessageSize int64  `mapstructure:"maxMessageSize"`
}

type rootSection struct {
	Server serverSection `mapstructure:"server"`
}

func TestLoadFileYAMLKeepsPresetValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0o644))

	cfg := New()
	require.NoError(t, cfg.LoadFile(path))

	root := rootSection{Server: serverSection{Addr: ":8188", MaxMessageSize: 1024}}
	require.NoError(t, cfg.Unmarshal(&root))
	assert.Equal(t, ":9000", root.Server.Addr)
	assert.EqualValues(t, 1024, root.Server.MaxMessageSize)
}

func TestLoadFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"addr":":7000","maxMessageSize":10}}`), 0o644))

	cfg := New()
	require.NoError(t, cfg.LoadFile(path))

	var root rootSection
	require.NoError(t, cfg.Unmarshal(&root))
	assert.Equal(t, ":7000", root.Server.Addr)
	assert.EqualValues(t, 10, root.Server.MaxMessageSize)
}

func TestLoadFileMissing(t *testing.T) {
	cfg := New()
	assert.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestUnmarshalWithoutFile(t *testing.T) {
	var cfg Config
	root := rootSection{Server: serverSection{Addr: ":8188"}}
	require.NoError(t, cfg.Unmarshal(&root))
	assert.Equal(t, ":8188", root.Server.Addr)
}
