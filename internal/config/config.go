// Package config loads the normalize stage's YAML configuration, the
// ambient-stack counterpart to the teacher's internal/cli.Config: nested,
// yaml-tagged structs read with gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/beaver-normalize/internal/loadstore"
	"github.com/ChuLiYu/beaver-normalize/internal/normstore"
	"github.com/ChuLiYu/beaver-normalize/pkg/types"
)

// Config is the complete process configuration.
type Config struct {
	Worker struct {
		Count int `yaml:"count"`
	} `yaml:"worker"`

	Storage struct {
		ExtractedDir  string `yaml:"extracted_dir"`
		TempDir       string `yaml:"temp_dir"`
		ProcessingDir string `yaml:"processing_dir"`
		SchemasDir    string `yaml:"schemas_dir"`
	} `yaml:"storage"`

	Destination struct {
		PreferredLoaderFileFormat  string   `yaml:"preferred_loader_file_format"`
		PreferredStagingFileFormat string   `yaml:"preferred_staging_file_format"`
		SupportedLoaderFileFormats []string `yaml:"supported_loader_file_formats"`
	} `yaml:"destination"`

	PollInterval time.Duration `yaml:"poll_interval"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Worker.Count < 1 {
		cfg.Worker.Count = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &cfg, nil
}

// NormalizeStoreConfig projects this config into normstore.Config.
func (c *Config) NormalizeStoreConfig() normstore.Config {
	return normstore.Config{ExtractedDir: c.Storage.ExtractedDir}
}

// LoadStoreConfig projects this config into loadstore.Config.
func (c *Config) LoadStoreConfig() loadstore.Config {
	return loadstore.Config{TempDir: c.Storage.TempDir, ProcessingDir: c.Storage.ProcessingDir}
}

// Capabilities projects this config into a DestinationCapabilities value.
func (c *Config) Capabilities() types.DestinationCapabilities {
	supported := make(map[types.LoaderFileFormat]bool, len(c.Destination.SupportedLoaderFileFormats))
	for _, f := range c.Destination.SupportedLoaderFileFormats {
		supported[types.LoaderFileFormat(f)] = true
	}
	return types.DestinationCapabilities{
		PreferredLoaderFileFormat:  types.LoaderFileFormat(c.Destination.PreferredLoaderFileFormat),
		PreferredStagingFileFormat: types.LoaderFileFormat(c.Destination.PreferredStagingFileFormat),
		SupportedLoaderFileFormats: supported,
	}
}
