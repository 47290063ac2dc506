// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pysqlcipher/amalgam/pkg/amalgamation"
	"github.com/pysqlcipher/amalgam/pkg/extension"
	"github.com/pysqlcipher/amalgam/pkg/strategy"
	"github.com/pysqlcipher/amalgam/pkg/types"
	"github.com/pysqlcipher/amalgam/pkg/utils"
	"gopkg.in/yaml.v3"
)

const (
	// CurrentVersion is the only config version understood
	CurrentVersion = "1.0"

	// DefaultRootPattern matches the top-level directory of SQLCipher releases
	DefaultRootPattern = "sqlcipher-*"
)

// ConfigNames are searched, in order, when no config file is given
var ConfigNames = []string{"amalgam.config.yaml", "amalgam.config.yml", "amalgam.config.json"}

var moduleNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Manager handles configuration operations
type Manager struct {
	fs *utils.FileSystemUtils
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{fs: utils.NewFileSystemUtils()}
}

// Find returns the first config file present in dir, or ""
func Find(dir string) string {
	for _, name := range ConfigNames {
		path := filepath.Join(dir, name)
		if utils.FileExists(path) {
			return path
		}
	}
	return ""
}

// LoadConfig loads configuration from a file. Unset fields take their defaults.
func (m *Manager) LoadConfig(path string) (*types.BuildConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg types.BuildConfig

	// Try JSON first
	if err := json.Unmarshal(data, &cfg); err == nil {
		return m.validateConfig(&cfg)
	}

	cfg = types.BuildConfig{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config as JSON or YAML: %w", err)
	}
	return m.validateConfig(&cfg)
}

// SaveConfig writes cfg as JSON or YAML depending on the file extension
func (m *Manager) SaveConfig(path string, cfg *types.BuildConfig) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return m.fs.WriteFile(path, data)
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(config *types.BuildConfig) error {
	if config.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version: %q", config.Version)
	}

	if _, err := types.ParseStrategy(string(config.Strategy)); err != nil {
		return err
	}

	if err := validateSource(config.Amalgamation.Source); err != nil {
		return fmt.Errorf("amalgamation.source: %w", err)
	}
	if p := config.Amalgamation.RootPattern; p != "" {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("amalgamation.rootPattern: %w", err)
		}
	}
	if config.Amalgamation.OutputDir == "" {
		return fmt.Errorf("amalgamation.outputDir must not be empty")
	}

	if config.Link.Library == "" {
		return fmt.Errorf("link.library must not be empty")
	}
	if strings.TrimSpace(config.Link.RequiredFeature) == "" {
		return fmt.Errorf("link.requiredFeature must not be empty")
	}

	if !moduleNamePattern.MatchString(config.Extension.ModuleName) {
		return fmt.Errorf("extension.moduleName is not a dotted identifier: %q", config.Extension.ModuleName)
	}
	for i, src := range config.Extension.Sources {
		if strings.TrimSpace(src) == "" {
			return fmt.Errorf("extension.sources[%d] is empty", i)
		}
	}

	if config.Logging != nil {
		switch config.Logging.Level {
		case "", types.LogLevelDebug, types.LogLevelInfo, types.LogLevelWarn, types.LogLevelError:
		default:
			return fmt.Errorf("invalid log level: %s", config.Logging.Level)
		}
	}

	return nil
}

// GetDefaultConfig returns the configuration written by init
func (m *Manager) GetDefaultConfig() *types.BuildConfig {
	enabled := false

	return &types.BuildConfig{
		Version: CurrentVersion,
		Amalgamation: types.AmalgamationConfig{
			Source:      amalgamation.DefaultSource,
			RootPattern: DefaultRootPattern,
			OutputDir:   amalgamation.DefaultOutputDir,
		},
		Link: types.LinkConfig{
			Library:         strategy.DefaultLibrary,
			RequiredFeature: strategy.DefaultRequiredFeature,
		},
		Extension: types.ExtensionConfig{
			ModuleName: extension.DefaultModuleName,
			Sources:    append([]string(nil), extension.DefaultSources...),
		},
		Notifications: &types.NotificationConfig{
			Enabled: &enabled,
		},
		Logging: &types.LoggingConfig{
			Level: types.LogLevelInfo,
		},
	}
}

// Private methods

func (m *Manager) validateConfig(cfg *types.BuildConfig) (*types.BuildConfig, error) {
	m.applyDefaults(cfg)
	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *Manager) applyDefaults(cfg *types.BuildConfig) {
	def := m.GetDefaultConfig()

	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.Amalgamation.Source == "" {
		cfg.Amalgamation.Source = def.Amalgamation.Source
	}
	if cfg.Amalgamation.OutputDir == "" {
		cfg.Amalgamation.OutputDir = def.Amalgamation.OutputDir
	}
	if cfg.Link.Library == "" {
		cfg.Link.Library = def.Link.Library
	}
	if cfg.Link.RequiredFeature == "" {
		cfg.Link.RequiredFeature = def.Link.RequiredFeature
	}
	if cfg.Extension.ModuleName == "" {
		cfg.Extension.ModuleName = def.Extension.ModuleName
	}
	if len(cfg.Extension.Sources) == 0 {
		cfg.Extension.Sources = def.Extension.Sources
	}
}

func validateSource(source string) error {
	i := strings.Index(source, "://")
	if i < 0 {
		return nil
	}
	switch strings.ToLower(source[:i]) {
	case "http", "https", "s3", "file":
		return nil
	default:
		return fmt.Errorf("%w: %s", types.ErrUnsupportedSource, source)
	}
}
