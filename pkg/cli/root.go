// Package cli provides the command-line interface for amalgam
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/pysqlcipher/amalgam/pkg/config"
	"github.com/pysqlcipher/amalgam/pkg/logger"
	"github.com/pysqlcipher/amalgam/pkg/process"
	"github.com/pysqlcipher/amalgam/pkg/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// CLI encapsulates the command-line interface without global state
type CLI struct {
	config   *Config
	rootCmd  *cobra.Command
	viper    *viper.Viper
	logger   logger.Logger
	output   io.Writer
	errorOut io.Writer

	runner   process.Runner
	platform types.Platform
	rt       runtime
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(cfg *Config) *CLI {
	if cfg == nil {
		cfg = NewConfig()
	}

	c := &CLI{
		config:   cfg,
		viper:    viper.New(),
		output:   os.Stdout,
		errorOut: os.Stderr,
		runner:   process.NewExecRunner(),
		platform: types.HostPlatform(),
	}

	c.setupCommands()
	return c
}

// NewCLIWithOutput creates a CLI with custom output writers (for testing)
func NewCLIWithOutput(cfg *Config, output, errorOut io.Writer) *CLI {
	c := NewCLI(cfg)
	c.output = output
	c.errorOut = errorOut
	c.rootCmd.SetOut(output)
	c.rootCmd.SetErr(errorOut)
	return c
}

// WithRunner replaces the runner used for pkg-config, configure and make
func (c *CLI) WithRunner(r process.Runner) *CLI {
	c.runner = r
	return c
}

// WithPlatform replaces the detected host platform
func (c *CLI) WithPlatform(p types.Platform) *CLI {
	c.platform = p
	return c
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "amalgam",
		Short: "Build configuration and amalgamation pipeline for SQLCipher",
		Long: `amalgam decides how the SQLCipher engine gets into an extension build.

On Windows the engine is bundled from a staged amalgamation that
update-amalgamation regenerates from an upstream release. Everywhere else
the extension links against the system library, which pkg-config must
report as SQLCipher-capable.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.initializeConfig,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("amalgam v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newUpdateAmalgamationCmd())
	c.rootCmd.AddCommand(c.newPlanCmd())
	c.rootCmd.AddCommand(c.newProbeCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newMacrosCmd())
	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVar(&c.config.ConfigFile, "config", "", "config file (default: amalgam.config.yaml in --root)")
	flags.StringVar(&c.config.ProjectRoot, "root", ".", "project root directory")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", "", "log level (debug, info, warn, error)")

	c.viper.BindPFlag("logging.level", flags.Lookup("verbosity"))
}

func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	v := c.viper

	if c.config.ConfigFile != "" {
		v.SetConfigFile(c.config.ConfigFile)
	} else if found := config.Find(c.config.ProjectRoot); found != "" {
		v.SetConfigFile(found)
	}

	// Read in environment variables, e.g. AMALGAM_AMALGAMATION_SOURCE
	v.SetEnvPrefix("AMALGAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	manager := config.NewManager()
	build := manager.GetDefaultConfig()

	if path := v.ConfigFileUsed(); path != "" {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		loaded, err := manager.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("invalid config %s: %w", path, err)
		}
		build = loaded
		c.rt.configPath = path
	}

	c.applyOverrides(build)
	if err := manager.ValidateConfig(build); err != nil {
		return err
	}

	tc, err := config.LoadToolchainEnv()
	if err != nil {
		return fmt.Errorf("invalid toolchain environment: %w", err)
	}
	tc.Apply(build)
	c.rt.build = build
	c.rt.toolchain = tc

	level := string(types.LogLevelInfo)
	if build.Logging != nil && build.Logging.Level != "" {
		level = string(build.Logging.Level)
	}
	logFile := ""
	if build.Logging != nil {
		logFile = build.Logging.File
	}
	if c.errorOut == os.Stderr {
		c.logger = logger.CreateLogger(logFile, level)
	} else {
		c.logger = logger.CreateLoggerWithOutput(logFile, level, c.errorOut)
	}

	if c.rt.configPath != "" {
		c.logger.Debug("Using config file", logger.WithField("file", c.rt.configPath))
	}
	return nil
}

// applyOverrides lets flags and AMALGAM_* variables win over the file
func (c *CLI) applyOverrides(build *types.BuildConfig) {
	v := c.viper

	if s := v.GetString("strategy"); s != "" {
		build.Strategy = types.BuildStrategy(strings.ToLower(s))
	}
	if s := v.GetString("amalgamation.source"); s != "" {
		build.Amalgamation.Source = s
	}
	if s := v.GetString("amalgamation.outputDir"); s != "" {
		build.Amalgamation.OutputDir = s
	}
	if v.GetBool("amalgamation.allowStale") {
		build.Amalgamation.AllowStale = true
	}
	if s := v.GetString("logging.level"); s != "" {
		if build.Logging == nil {
			build.Logging = &types.LoggingConfig{}
		}
		build.Logging.Level = types.LogLevel(s)
	}
}

// resolve makes a project-relative path absolute against --root
func (c *CLI) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.config.ProjectRoot, path)
}

func (c *CLI) configPath() string {
	if c.config.ConfigFile != "" {
		return c.config.ConfigFile
	}
	return filepath.Join(c.config.ProjectRoot, config.ConfigNames[0])
}

// Helper methods for user-facing output

func (c *CLI) printSuccess(message string) {
	fmt.Fprintf(c.output, "%s %s\n", color.GreenString("[amalgam]"), message)
}

func (c *CLI) printError(message string) {
	fmt.Fprintf(c.errorOut, "%s %s\n", color.RedString("[amalgam]"), message)
}

func (c *CLI) printInfo(message string) {
	fmt.Fprintf(c.output, "%s %s\n", color.CyanString("[amalgam]"), message)
}

func (c *CLI) printWarning(message string) {
	fmt.Fprintf(c.output, "%s %s\n", color.YellowString("[amalgam]"), message)
}

// Execute runs amalgam with the process arguments and reports failures
func Execute(version string) int {
	cfg := NewConfig()
	cfg.Version = version
	c := NewCLI(cfg)

	if err := c.Execute(os.Args[1:]); err != nil {
		c.printError(err.Error())
		return 1
	}
	return 0
}
