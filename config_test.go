// Copyright 2015 Aleksandr Demakin. All rights reserved.

package memglass

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	assert.Equal(t, DefaultConfig(), cfg)

	// explicit values survive
	cfg = Config{InitialRegionSize: 4096}
	cfg.applyDefaults()
	assert.Equal(t, 4096, cfg.InitialRegionSize)
	assert.Equal(t, DefaultConfig().MaxRegionSize, cfg.MaxRegionSize)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memglass.yaml")
	content := []byte("initial_region_size: 8192\nobject_dir_capacity: 32\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8192, cfg.InitialRegionSize)
	assert.Equal(t, 32, cfg.ObjectDirCapacity)
	assert.Equal(t, DefaultConfig().MaxRegionSize, cfg.MaxRegionSize)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("MEMGLASS_MAX_REGION_SIZE", "123456")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 123456, cfg.MaxRegionSize)
}
