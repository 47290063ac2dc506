package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/pysqlcipher/amalgam/pkg/types"
)

// ToolchainEnv names the external tools, read from the environment
type ToolchainEnv struct {
	PkgConfig     string `env:"PKG_CONFIG" envDefault:"pkg-config"`
	Make          string `env:"MAKE" envDefault:"make"`
	Configure     string `env:"AMALGAM_CONFIGURE" envDefault:"./configure"`
	OpenSSLLibDir string `env:"OPENSSL_LIB_DIR"`
	S3Endpoint    string `env:"AMALGAM_S3_ENDPOINT"`
	S3Region      string `env:"AMALGAM_S3_REGION"`
}

// LoadToolchainEnv parses the process environment
func LoadToolchainEnv() (ToolchainEnv, error) {
	return env.ParseAs[ToolchainEnv]()
}

// LoadToolchainEnvFrom parses vars instead of the process environment
func LoadToolchainEnvFrom(vars map[string]string) (ToolchainEnv, error) {
	return env.ParseAsWithOptions[ToolchainEnv](env.Options{Environment: vars})
}

// Apply lets the environment override the OpenSSL location and fill in
// S3 settings the config file leaves empty
func (e ToolchainEnv) Apply(cfg *types.BuildConfig) {
	if e.OpenSSLLibDir != "" {
		cfg.Bundle.CryptoLibraryDirs = []string{e.OpenSSLLibDir}
	}
	if cfg.Amalgamation.S3Endpoint == "" {
		cfg.Amalgamation.S3Endpoint = e.S3Endpoint
	}
	if cfg.Amalgamation.S3Region == "" {
		cfg.Amalgamation.S3Region = e.S3Region
	}
}
