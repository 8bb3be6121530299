/*
Copyright 2025 Hare Krishna Rai

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/harekrishnarai/pinwalk/pkg/constants"
	"github.com/harekrishnarai/pinwalk/pkg/reference"
	"gopkg.in/yaml.v3"
)

// Config represents the complete pinwalk configuration
type Config struct {
	Version  string   `yaml:"version" json:"version"`
	Scan     Scan     `yaml:"scan" json:"scan"`
	Output   Output   `yaml:"output" json:"output"`
	Trusted  Trusted  `yaml:"trusted" json:"trusted"`
	Policies []string `yaml:"policies,omitempty" json:"policies,omitempty"`
}

// Scan configures graph resolution
type Scan struct {
	Fetcher       string        `yaml:"fetcher" json:"fetcher"` // "git", "api"
	MaxDepth      int           `yaml:"max_depth" json:"max_depth"`
	Workers       int           `yaml:"workers" json:"workers"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	WorkDir       string        `yaml:"work_dir,omitempty" json:"work_dir,omitempty"`
	KeepCheckouts bool          `yaml:"keep_checkouts" json:"keep_checkouts"`
}

// Output configuration
type Output struct {
	Format      string `yaml:"format" json:"format"` // "cli", "json", "html", "sarif"
	File        string `yaml:"file,omitempty" json:"file,omitempty"`
	MetricsFile string `yaml:"metrics_file,omitempty" json:"metrics_file,omitempty"`
	ShowTree    bool   `yaml:"show_tree" json:"show_tree"`
}

// Trusted lists glob patterns for dependencies that are resolved but never
// reported as unpinned. Action patterns match owner/repo[/path] and
// owner/repo[/path]@ref, image patterns match [registry/]image[:tag].
type Trusted struct {
	Actions []string `yaml:"actions" json:"actions"`
	Images  []string `yaml:"images" json:"images"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Scan: Scan{
			Fetcher:      constants.DefaultFetcher,
			MaxDepth:     constants.DefaultMaxDepth,
			Workers:      constants.DefaultWorkers,
			FetchTimeout: constants.DefaultFetchTimeout,
			Timeout:      constants.DefaultScanTimeout,
		},
		Output: Output{
			Format:   constants.DefaultOutputFormat,
			ShowTree: true,
		},
		Trusted: Trusted{
			Actions: []string{},
			Images:  []string{},
		},
	}
}

// LoadConfig loads configuration from file or returns default
func LoadConfig(configPath string) (*Config, error) {
	// If no config path specified, try to find one
	if configPath == "" {
		configPath = findConfigFile()
	}

	// If still no config file, return default
	if configPath == "" {
		return DefaultConfig(), nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", configPath, err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(content, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	// Relative policy paths are relative to the config file
	baseDir := filepath.Dir(configPath)
	for i, p := range config.Policies {
		if !filepath.IsAbs(p) {
			config.Policies[i] = filepath.Join(baseDir, p)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// findConfigFile searches for configuration files in common locations
func findConfigFile() string {
	// Search order: current dir, home dir
	candidates := []string{
		constants.ConfigFilePinwalkYML,
		constants.ConfigFilePinwalkYAML,
		constants.ConfigFileBaseYML,
		constants.ConfigFileBaseYAML,
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		for _, candidate := range candidates {
			fullPath := filepath.Join(homeDir, candidate)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath
			}
		}
	}

	return ""
}

// Validate checks the configuration and fills in empty optional values
func (config *Config) Validate() error {
	if config.Version == "" {
		config.Version = "1"
	}
	if config.Scan.Fetcher == "" {
		config.Scan.Fetcher = constants.DefaultFetcher
	}
	if config.Output.Format == "" {
		config.Output.Format = constants.DefaultOutputFormat
	}

	if !contains(constants.SupportedFetchers, config.Scan.Fetcher) {
		return fmt.Errorf("scan.fetcher: unsupported fetcher %q (supported: %s)",
			config.Scan.Fetcher, strings.Join(constants.SupportedFetchers, ", "))
	}
	if !contains(constants.SupportedOutputFormats, config.Output.Format) {
		return fmt.Errorf("output.format: unsupported format %q (supported: %s)",
			config.Output.Format, strings.Join(constants.SupportedOutputFormats, ", "))
	}
	if config.Scan.MaxDepth < 1 {
		return fmt.Errorf("scan.max_depth must be at least 1, got %d", config.Scan.MaxDepth)
	}
	if config.Scan.Workers < 1 {
		return fmt.Errorf("scan.workers must be at least 1, got %d", config.Scan.Workers)
	}
	if config.Scan.FetchTimeout < 0 || config.Scan.Timeout < 0 {
		return fmt.Errorf("scan timeouts must not be negative")
	}

	for _, pattern := range append(append([]string{}, config.Trusted.Actions...), config.Trusted.Images...) {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid trusted pattern '%s'", pattern)
		}
	}

	return nil
}

// IsTrusted reports whether ref matches one of the trusted patterns for its kind
func (config *Config) IsTrusted(ref reference.Reference) bool {
	switch ref.Kind {
	case reference.KindAction:
		return matchAny(config.Trusted.Actions, ref.Target(), ref.Key())
	case reference.KindDocker:
		name := ref.Image
		if ref.Registry != "" {
			name = ref.Registry + "/" + name
		}
		candidates := []string{name, ref.ImageName()}
		if ref.Tag != "" {
			candidates = append(candidates, name+":"+ref.Tag)
		}
		return matchAny(config.Trusted.Images, candidates...)
	default:
		return false
	}
}

func matchAny(patterns []string, candidates ...string) bool {
	for _, pattern := range patterns {
		for _, candidate := range candidates {
			if matchGlobPattern(pattern, candidate) {
				return true
			}
		}
	}
	return false
}

func matchGlobPattern(pattern, name string) bool {
	if pattern == "" {
		return false
	}
	matched, err := doublestar.Match(pattern, name)
	return err == nil && matched
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// SaveConfig saves configuration to a file
func SaveConfig(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
