// Copyright 2015 Aleksandr Demakin. All rights reserved.

package memglass

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config controls session sizing. Zero values are replaced with the
// defaults below when a session is opened.
type Config struct {
	// InitialRegionSize is the payload size of the first data region.
	InitialRegionSize int `mapstructure:"initial_region_size"`
	// MaxRegionSize caps the doubling growth of data regions.
	MaxRegionSize int `mapstructure:"max_region_size"`
	// OverflowRegionSize is the total size of each metadata overflow region.
	OverflowRegionSize int `mapstructure:"overflow_region_size"`
	// ObjectDirCapacity is the in-header object directory capacity.
	ObjectDirCapacity int `mapstructure:"object_dir_capacity"`
	// TypeRegistryCapacity is the in-header type registry capacity.
	TypeRegistryCapacity int `mapstructure:"type_registry_capacity"`
	// FieldEntriesCapacity is the in-header field entry pool capacity.
	FieldEntriesCapacity int `mapstructure:"field_entries_capacity"`
}

// DefaultConfig returns the sizing used when the producer does not care.
func DefaultConfig() Config {
	return Config{
		InitialRegionSize:    64 * 1024,
		MaxRegionSize:        64 * 1024 * 1024,
		OverflowRegionSize:   1024 * 1024,
		ObjectDirCapacity:    1024,
		TypeRegistryCapacity: 256,
		FieldEntriesCapacity: 4096,
	}
}

func (cfg *Config) applyDefaults() {
	def := DefaultConfig()
	if cfg.InitialRegionSize <= 0 {
		cfg.InitialRegionSize = def.InitialRegionSize
	}
	if cfg.MaxRegionSize <= 0 {
		cfg.MaxRegionSize = def.MaxRegionSize
	}
	if cfg.OverflowRegionSize <= 0 {
		cfg.OverflowRegionSize = def.OverflowRegionSize
	}
	if cfg.ObjectDirCapacity <= 0 {
		cfg.ObjectDirCapacity = def.ObjectDirCapacity
	}
	if cfg.TypeRegistryCapacity <= 0 {
		cfg.TypeRegistryCapacity = def.TypeRegistryCapacity
	}
	if cfg.FieldEntriesCapacity <= 0 {
		cfg.FieldEntriesCapacity = def.FieldEntriesCapacity
	}
}

// LoadConfig reads a Config from the given file, with MEMGLASS_*
// environment variables taking precedence over file values. The file
// format is anything viper understands from the extension.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	def := DefaultConfig()
	v.SetDefault("initial_region_size", def.InitialRegionSize)
	v.SetDefault("max_region_size", def.MaxRegionSize)
	v.SetDefault("overflow_region_size", def.OverflowRegionSize)
	v.SetDefault("object_dir_capacity", def.ObjectDirCapacity)
	v.SetDefault("type_registry_capacity", def.TypeRegistryCapacity)
	v.SetDefault("field_entries_capacity", def.FieldEntriesCapacity)
	v.SetEnvPrefix("memglass")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "failed to read config")
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode config")
	}
	cfg.applyDefaults()
	return cfg, nil
}
