package cli

import (
	"github.com/pysqlcipher/amalgam/pkg/config"
	"github.com/pysqlcipher/amalgam/pkg/types"
)

// Config holds the global flags of the CLI
type Config struct {
	ConfigFile  string
	ProjectRoot string
	Verbosity   string
	Version     string
}

// NewConfig creates a new CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		ProjectRoot: ".",
	}
}

// runtime is what a command needs after flags and config are resolved
type runtime struct {
	build      *types.BuildConfig
	toolchain  config.ToolchainEnv
	configPath string
}
