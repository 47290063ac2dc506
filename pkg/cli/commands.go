package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pysqlcipher/amalgam/pkg/amalgamation"
	"github.com/pysqlcipher/amalgam/pkg/builders"
	"github.com/pysqlcipher/amalgam/pkg/config"
	"github.com/pysqlcipher/amalgam/pkg/extension"
	"github.com/pysqlcipher/amalgam/pkg/fetch"
	"github.com/pysqlcipher/amalgam/pkg/logger"
	"github.com/pysqlcipher/amalgam/pkg/macros"
	"github.com/pysqlcipher/amalgam/pkg/notifier"
	"github.com/pysqlcipher/amalgam/pkg/pkgconfig"
	"github.com/pysqlcipher/amalgam/pkg/process"
	"github.com/pysqlcipher/amalgam/pkg/render"
	"github.com/pysqlcipher/amalgam/pkg/state"
	"github.com/pysqlcipher/amalgam/pkg/strategy"
	"github.com/pysqlcipher/amalgam/pkg/types"
	"github.com/pysqlcipher/amalgam/pkg/utils"
	"github.com/pysqlcipher/amalgam/pkg/version"
	"github.com/spf13/cobra"
)

func (c *CLI) newUpdateAmalgamationCmd() *cobra.Command {
	var (
		source      string
		rootPattern string
		outputDir   string
		keepWorkdir bool
		notify      bool
	)

	cmd := &cobra.Command{
		Use:   "update-amalgamation",
		Short: "Regenerate the staged amalgamation from an upstream release",
		Long: `Downloads a SQLCipher source release, configures it with the
feature macros, builds the sqlite3.c amalgamation and stages it into the
output directory together with a freshness stamp.

Sources may be http(s)://, s3://bucket/key, file:// URLs or local paths.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			build := c.rt.build
			opts := amalgamation.Options{
				Source:      build.Amalgamation.Source,
				RootPattern: build.Amalgamation.RootPattern,
				OutputDir:   c.resolve(build.Amalgamation.OutputDir),
				KeepWorkdir: build.Amalgamation.KeepWorkdir || keepWorkdir,
			}
			if source != "" {
				opts.Source = source
			}
			if cmd.Flags().Changed("root-pattern") {
				opts.RootPattern = rootPattern
			}
			if outputDir != "" {
				opts.OutputDir = c.resolve(outputDir)
			}

			return c.regenerate(cmd.Context(), opts, notify || build.NotificationsEnabled())
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "archive location (default from config)")
	cmd.Flags().StringVar(&rootPattern, "root-pattern", "", "glob the archive's top-level directory must match")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory to stage the amalgamation into")
	cmd.Flags().BoolVar(&keepWorkdir, "keep-workdir", false, "keep the work directory for inspection")
	cmd.Flags().BoolVar(&notify, "notify", false, "send a desktop notification when done")

	return cmd
}

func (c *CLI) regenerate(ctx context.Context, opts amalgamation.Options, notify bool) error {
	build := c.rt.build
	tc := c.rt.toolchain

	fetcher := fetch.NewFetcher(c.logger)
	fetcher.S3Endpoint = build.Amalgamation.S3Endpoint
	fetcher.S3Region = build.Amalgamation.S3Region

	tools := builders.Tools{Configure: tc.Configure, Make: tc.Make}
	manager := process.NewManager(c.logger)

	regen := amalgamation.NewRegenerator(fetcher, c.runner, tools, c.logger).
		WithManager(manager).
		WithNotifier(notifier.New(notifier.Config{Enabled: notify, Sound: notify}, c.logger))

	var result *amalgamation.Result
	err := manager.Run(ctx, func(ctx context.Context) error {
		var err error
		result, err = regen.Run(ctx, opts)
		return err
	})

	if result != nil && result.KeptWorkdir != "" {
		c.printInfo(fmt.Sprintf("Work directory kept at %s", result.KeptWorkdir))
	}
	if err != nil {
		if code := types.ExitCode(err); code >= 0 {
			return fmt.Errorf("regeneration failed (exit %d): %w", code, err)
		}
		return fmt.Errorf("regeneration failed: %w", err)
	}

	c.printSuccess(fmt.Sprintf("Staged %d files in %s (%s)",
		len(result.Staged), result.OutputDir, result.Duration.Round(time.Millisecond)))
	return nil
}

type planOptions struct {
	platform   string
	strategy   string
	format     string
	output     string
	pkg        string
	allowStale bool
	watch      bool
}

func (c *CLI) newPlanCmd() *cobra.Command {
	var opts planOptions

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the compilation units for the extension build",
		Long: `Selects a build strategy for the target platform and prints the
resulting sources, include and library directories, libraries and macros.

Bundle requires a fresh staged amalgamation. Link requires a system
library whose pkg-config entry declares the SQLCipher feature.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.watch {
				return c.watchPlan(cmd.Context(), opts)
			}
			return c.writePlan(cmd.Context(), c.rt.build, opts)
		},
	}

	cmd.Flags().StringVar(&opts.platform, "platform", "", "target platform as os[/arch] (default: host)")
	cmd.Flags().StringVarP(&opts.strategy, "strategy", "s", "", "force a strategy (bundle or link)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", string(render.FormatYAML), "output format (yaml, json, cgo)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the plan to a file instead of stdout")
	cmd.Flags().StringVar(&opts.pkg, "package", "sqlcipher", "package name for cgo output")
	cmd.Flags().BoolVar(&opts.allowStale, "allow-stale", false, "bundle an amalgamation whose stamp does not match")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "recompute the plan whenever the config file changes")

	c.viper.BindPFlag("strategy", cmd.Flags().Lookup("strategy"))

	return cmd
}

func (c *CLI) plan(ctx context.Context, build *types.BuildConfig, opts planOptions) (extension.CompilationUnitSet, types.Platform, error) {
	platform := c.platform
	if opts.platform != "" {
		p, err := types.ParsePlatform(opts.platform)
		if err != nil {
			return extension.CompilationUnitSet{}, platform, err
		}
		platform = p
	}

	override, err := types.ParseStrategy(opts.strategy)
	if err != nil {
		return extension.CompilationUnitSet{}, platform, err
	}
	if override == "" {
		override = build.Strategy
	}
	chosen := strategy.Resolve(platform, override)
	c.logger.Debug("Selected build strategy",
		logger.WithField("strategy", chosen),
		logger.WithField("platform", platform.String()))

	set, err := strategy.Apply(ctx, chosen, strategy.Deps{
		Platform:        platform,
		Prober:          pkgconfig.NewProber(c.rt.toolchain.PkgConfig, c.runner, c.logger),
		AmalgamationDir: c.resolve(build.Amalgamation.OutputDir),
		AllowStale:      build.Amalgamation.AllowStale || opts.allowStale,
		Link:            build.Link,
		Bundle:          build.Bundle,
		Extension:       build.Extension,
		Logger:          c.logger,
	})
	return set, platform, err
}

func (c *CLI) writePlan(ctx context.Context, build *types.BuildConfig, opts planOptions) error {
	format, err := render.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	set, platform, err := c.plan(ctx, build, opts)
	if err != nil {
		return err
	}

	data, err := render.Render(format, set, platform, opts.pkg)
	if err != nil {
		return err
	}

	if opts.output == "" {
		_, err = c.output.Write(data)
		return err
	}
	path := c.resolve(opts.output)
	if err := utils.NewFileSystemUtils().WriteFile(path, data); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	c.printSuccess(fmt.Sprintf("Wrote %s plan to %s", set.Strategy(), path))
	return nil
}

func (c *CLI) watchPlan(ctx context.Context, opts planOptions) error {
	if c.rt.configPath == "" {
		return fmt.Errorf("--watch needs a config file; run 'amalgam init' first")
	}

	if err := c.writePlan(ctx, c.rt.build, opts); err != nil {
		c.printError(err.Error())
	}

	rm := config.NewReloadManager(c.rt.configPath, c.logger)
	rm.AddCallback(func(cfg *types.BuildConfig, err error) {
		if err != nil {
			c.printError(err.Error())
			return
		}
		c.rt.toolchain.Apply(cfg)
		if err := c.writePlan(ctx, cfg, opts); err != nil {
			c.printError(err.Error())
		}
	})

	manager := process.NewManager(c.logger)
	manager.RegisterShutdownHandler(func() {
		rm.StopWatching()
	})

	c.printInfo(fmt.Sprintf("Watching %s", c.rt.configPath))
	err := manager.Run(ctx, func(ctx context.Context) error {
		if err := rm.StartWatching(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
	if errors.Is(err, process.ErrInterrupted) {
		return nil
	}
	return err
}

func (c *CLI) newProbeCmd() *cobra.Command {
	var (
		library string
		feature string
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check the system library for the required capability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			link := c.rt.build.Link
			if library == "" {
				library = link.Library
			}
			if feature == "" {
				feature = link.RequiredFeature
			}

			prober := pkgconfig.NewProber(c.rt.toolchain.PkgConfig, c.runner, c.logger)
			flags, err := prober.Verify(cmd.Context(), library, feature)
			if err != nil {
				return err
			}

			c.printSuccess(fmt.Sprintf("%s provides %s", library, feature))
			w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "include dirs\t%s\n", strings.Join(flags.IncludeDirs, " "))
			fmt.Fprintf(w, "library dirs\t%s\n", strings.Join(flags.LibraryDirs, " "))
			fmt.Fprintf(w, "libraries\t%s\n", strings.Join(flags.Libraries, " "))
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&library, "library", "", "pkg-config package to probe (default from config)")
	cmd.Flags().StringVar(&feature, "feature", "", "feature tag the library must declare")

	return cmd
}

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the staged amalgamation is present and fresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := c.resolve(c.rt.build.Amalgamation.OutputDir)
			ms := macros.Defines()
			report := state.NewStampManager(dir, c.logger).
				Inspect(strategy.BundleRequiredFiles, macros.Fingerprint(ms), macros.TableVersion)

			c.printStatus(report)
			return report.Err()
		},
	}
}

func (c *CLI) printStatus(report *state.Report) {
	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "FILE\tSTATUS\tSIZE")
	missing := make(map[string]bool, len(report.Missing))
	for _, name := range report.Missing {
		missing[name] = true
	}
	modified := make(map[string]bool, len(report.Modified))
	for _, name := range report.Modified {
		modified[name] = true
	}

	for _, name := range builders.StagedFiles {
		status, size := "ok", "-"
		switch {
		case missing[name]:
			status = "missing"
		case modified[name]:
			status = "modified"
		}
		if info, err := os.Stat(filepath.Join(report.Dir, name)); err == nil {
			size = utils.FormatBytes(info.Size())
		} else if !missing[name] {
			status = "absent"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, status, size)
	}

	fmt.Fprintln(w)
	if report.Stamp != nil {
		fmt.Fprintf(w, "Source:\t%s\n", report.Stamp.Source)
		fmt.Fprintf(w, "Generated:\t%s\n", report.Stamp.GeneratedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "Run:\t%s\n", report.Stamp.RunID)
	}
	if report.Fresh() {
		fmt.Fprintln(w, "State:\tfresh")
	} else if len(report.Missing) > 0 {
		fmt.Fprintln(w, "State:\tmissing")
	} else {
		fmt.Fprintf(w, "State:\tstale (%s)\n", report.Reason)
	}
}

func (c *CLI) newMacrosCmd() *cobra.Command {
	var cflags bool

	cmd := &cobra.Command{
		Use:   "macros",
		Short: "Print the feature macro set shared by every build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ms := macros.Defines()
			if cflags {
				fmt.Fprintln(c.output, macros.CFlags(ms))
				return nil
			}
			for _, flag := range macros.Flags(ms) {
				fmt.Fprintln(c.output, flag)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&cflags, "cflags", false, "print as a single CFLAGS value")

	return cmd
}

func (c *CLI) newInitCmd() *cobra.Command {
	var (
		force  bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default amalgam config",
		Args:  cobra.NoArgs,
		// init must work before any config exists
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.configPath()
			if c.config.ConfigFile == "" && format == "json" {
				path = filepath.Join(c.config.ProjectRoot, "amalgam.config.json")
			}

			if utils.FileExists(path) && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}

			manager := config.NewManager()
			if err := manager.SaveConfig(path, manager.GetDefaultConfig()); err != nil {
				return err
			}

			c.printSuccess(fmt.Sprintf("Created %s", path))
			c.printInfo("Run 'amalgam update-amalgamation' to stage the amalgamation for bundled builds")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	cmd.Flags().StringVar(&format, "format", "yaml", "config format (yaml or json)")

	return cmd
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the amalgam version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.output, "amalgam %s (macro table v%d)\n", version.String(), macros.TableVersion)
		},
	}
}
