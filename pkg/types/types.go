// Package types provides core types and configurations for amalgam
package types

import (
	"fmt"
	"runtime"
	"strings"
)

// BuildStrategy represents how the database engine is acquired for a build
type BuildStrategy string

const (
	// StrategyBundle compiles the engine from the staged amalgamation
	StrategyBundle BuildStrategy = "bundle"
	// StrategyLink links against a pkg-config verified system copy
	StrategyLink BuildStrategy = "link"
)

// ParseStrategy parses a strategy name. The empty string yields "" with no error.
func ParseStrategy(s string) (BuildStrategy, error) {
	switch BuildStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case StrategyBundle:
		return StrategyBundle, nil
	case StrategyLink:
		return StrategyLink, nil
	default:
		return "", fmt.Errorf("unknown build strategy: %q", s)
	}
}

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Platform identifies the host a build runs on
type Platform struct {
	OS   string `json:"os" yaml:"os"`
	Arch string `json:"arch" yaml:"arch"`
}

// HostPlatform returns the platform of the running process
func HostPlatform() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

// ParsePlatform parses "os" or "os/arch"
func ParsePlatform(s string) (Platform, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Platform{}, fmt.Errorf("empty platform")
	}
	osName, arch, _ := strings.Cut(s, "/")
	if osName == "" {
		return Platform{}, fmt.Errorf("invalid platform: %q", s)
	}
	return Platform{OS: osName, Arch: arch}, nil
}

// IsWindows reports whether the platform is Windows
func (p Platform) IsWindows() bool {
	return p.OS == "windows"
}

func (p Platform) String() string {
	if p.Arch == "" {
		return p.OS
	}
	return p.OS + "/" + p.Arch
}

// FeatureMacro is a compile-time define. A nil Value means a boolean flag.
type FeatureMacro struct {
	Name  string  `json:"name" yaml:"name"`
	Value *string `json:"value,omitempty" yaml:"value,omitempty"`
}

// Define returns a valueless macro
func Define(name string) FeatureMacro {
	return FeatureMacro{Name: name}
}

// DefineValue returns a macro with a value
func DefineValue(name, value string) FeatureMacro {
	return FeatureMacro{Name: name, Value: &value}
}

// Flag renders the macro as a compiler flag (-DNAME or -DNAME=VALUE)
func (m FeatureMacro) Flag() string {
	if m.Value == nil {
		return "-D" + m.Name
	}
	return fmt.Sprintf("-D%s=%s", m.Name, *m.Value)
}

// Equal compares name and value
func (m FeatureMacro) Equal(o FeatureMacro) bool {
	if m.Name != o.Name {
		return false
	}
	if m.Value == nil || o.Value == nil {
		return m.Value == nil && o.Value == nil
	}
	return *m.Value == *o.Value
}

func (m FeatureMacro) String() string {
	return m.Flag()
}

// AcquisitionTarget identifies the upstream archive to fetch
type AcquisitionTarget struct {
	// Location is an http(s)://, s3:// or file:// URL, or a local path
	Location string
	// RootPattern is an optional glob the archive's top-level directory must match
	RootPattern string
}

// AmalgamationConfig configures regeneration and staging
type AmalgamationConfig struct {
	Source      string `json:"source,omitempty" yaml:"source,omitempty" mapstructure:"source"`
	RootPattern string `json:"rootPattern,omitempty" yaml:"rootPattern,omitempty" mapstructure:"rootPattern"`
	OutputDir   string `json:"outputDir,omitempty" yaml:"outputDir,omitempty" mapstructure:"outputDir"`
	KeepWorkdir bool   `json:"keepWorkdir,omitempty" yaml:"keepWorkdir,omitempty" mapstructure:"keepWorkdir"`
	AllowStale  bool   `json:"allowStale,omitempty" yaml:"allowStale,omitempty" mapstructure:"allowStale"`
	S3Endpoint  string `json:"s3Endpoint,omitempty" yaml:"s3Endpoint,omitempty" mapstructure:"s3Endpoint"`
	S3Region    string `json:"s3Region,omitempty" yaml:"s3Region,omitempty" mapstructure:"s3Region"`
}

// LinkConfig configures the system library probe
type LinkConfig struct {
	Library         string `json:"library" yaml:"library" mapstructure:"library"`
	RequiredFeature string `json:"requiredFeature" yaml:"requiredFeature" mapstructure:"requiredFeature"`
}

// BundleConfig configures crypto linkage for bundled builds
type BundleConfig struct {
	CryptoLibraryDirs []string `json:"cryptoLibraryDirs,omitempty" yaml:"cryptoLibraryDirs,omitempty" mapstructure:"cryptoLibraryDirs"`
	CryptoLibraries   []string `json:"cryptoLibraries,omitempty" yaml:"cryptoLibraries,omitempty" mapstructure:"cryptoLibraries"`
}

// ExtensionConfig describes the extension module handed to the compiler
type ExtensionConfig struct {
	ModuleName string   `json:"moduleName" yaml:"moduleName" mapstructure:"moduleName"`
	Sources    []string `json:"sources,omitempty" yaml:"sources,omitempty" mapstructure:"sources"`
	// Libraries are extra libraries requested by the project. They are
	// discarded when the build bundles its own engine.
	Libraries []string `json:"libraries,omitempty" yaml:"libraries,omitempty" mapstructure:"libraries"`
	// RuntimeLibraryDirs are searched by the loader when the module is imported
	RuntimeLibraryDirs []string `json:"runtimeLibraryDirs,omitempty" yaml:"runtimeLibraryDirs,omitempty" mapstructure:"runtimeLibraryDirs"`
	// ExtraObjects are prebuilt objects or archives linked into the module
	ExtraObjects []string `json:"extraObjects,omitempty" yaml:"extraObjects,omitempty" mapstructure:"extraObjects"`
}

// NotificationConfig represents notification preferences
type NotificationConfig struct {
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty" mapstructure:"enabled"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	File  string   `json:"file" yaml:"file" mapstructure:"file"`
	Level LogLevel `json:"level" yaml:"level" mapstructure:"level"`
}

// BuildConfig represents the main configuration
type BuildConfig struct {
	Version       string              `json:"version" yaml:"version" mapstructure:"version"`
	Strategy      BuildStrategy       `json:"strategy,omitempty" yaml:"strategy,omitempty" mapstructure:"strategy"`
	Amalgamation  AmalgamationConfig  `json:"amalgamation" yaml:"amalgamation" mapstructure:"amalgamation"`
	Link          LinkConfig          `json:"link" yaml:"link" mapstructure:"link"`
	Bundle        BundleConfig        `json:"bundle" yaml:"bundle" mapstructure:"bundle"`
	Extension     ExtensionConfig     `json:"extension" yaml:"extension" mapstructure:"extension"`
	Notifications *NotificationConfig `json:"notifications,omitempty" yaml:"notifications,omitempty" mapstructure:"notifications"`
	Logging       *LoggingConfig      `json:"logging,omitempty" yaml:"logging,omitempty" mapstructure:"logging"`
}

// NotificationsEnabled reports whether desktop notifications were requested
func (c *BuildConfig) NotificationsEnabled() bool {
	return c.Notifications != nil && c.Notifications.Enabled != nil && *c.Notifications.Enabled
}
