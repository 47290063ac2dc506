// Package amalgamation regenerates the staged engine amalgamation from an
// upstream source release
package amalgamation

import (
	"context"
	"fmt"
	"time"

	"github.com/pysqlcipher/amalgam/pkg/builders"
	pcontext "github.com/pysqlcipher/amalgam/pkg/context"
	"github.com/pysqlcipher/amalgam/pkg/logger"
	"github.com/pysqlcipher/amalgam/pkg/macros"
	"github.com/pysqlcipher/amalgam/pkg/notifier"
	"github.com/pysqlcipher/amalgam/pkg/process"
	"github.com/pysqlcipher/amalgam/pkg/state"
	"github.com/pysqlcipher/amalgam/pkg/types"
	"github.com/pysqlcipher/amalgam/pkg/utils"
	"github.com/pysqlcipher/amalgam/pkg/version"
	"github.com/pysqlcipher/amalgam/pkg/workarea"
)

const (
	DefaultSource    = "https://github.com/SCALE-GmbH/sqlcipher/archive/v3.3.1+scale2.tar.gz"
	DefaultOutputDir = "amalgamation"
)

// Fetcher downloads and unpacks an archive into a work directory
type Fetcher interface {
	FetchAndExtract(ctx context.Context, target types.AcquisitionTarget, workDir string) (string, error)
}

// Options controls one regeneration
type Options struct {
	Source      string
	RootPattern string
	OutputDir   string
	KeepWorkdir bool
	// WorkParent holds the work area; empty means the system temp directory
	WorkParent string
}

func (o Options) withDefaults() Options {
	if o.Source == "" {
		o.Source = DefaultSource
	}
	if o.OutputDir == "" {
		o.OutputDir = DefaultOutputDir
	}
	return o
}

// Result describes a regeneration. Run returns it on failure too, so a
// retained work area can still be reported.
type Result struct {
	RunID       string
	OutputDir   string
	WorkDir     string
	KeptWorkdir string
	Staged      []string
	Stamp       *state.Stamp
	Duration    time.Duration
}

// Regenerator runs fetch, configure, build and stage in sequence
type Regenerator struct {
	fetcher  Fetcher
	runner   process.Runner
	tools    builders.Tools
	manager  *process.Manager
	notifier notifier.Notifier
	logger   logger.Logger
}

// NewRegenerator creates a regenerator
func NewRegenerator(fetcher Fetcher, runner process.Runner, tools builders.Tools, log logger.Logger) *Regenerator {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Regenerator{
		fetcher:  fetcher,
		runner:   runner,
		tools:    tools,
		notifier: notifier.Nop{},
		logger:   log,
	}
}

// WithManager releases the work area from m's shutdown handlers as well
func (r *Regenerator) WithManager(m *process.Manager) *Regenerator {
	r.manager = m
	return r
}

// WithNotifier reports outcomes to n
func (r *Regenerator) WithNotifier(n notifier.Notifier) *Regenerator {
	if n != nil {
		r.notifier = n
	}
	return r
}

// Run regenerates the amalgamation into opts.OutputDir. The work area is
// removed on every exit path unless opts.KeepWorkdir is set.
func (r *Regenerator) Run(ctx context.Context, opts Options) (result *Result, err error) {
	opts = opts.withDefaults()
	ctx = pcontext.StartRun(ctx)
	log := logger.WithContext(ctx, r.logger)

	result = &Result{RunID: pcontext.RunID(ctx), OutputDir: opts.OutputDir}

	wa, err := workarea.AcquireIn(opts.WorkParent, workarea.DefaultPrefix)
	if err != nil {
		return result, err
	}
	result.WorkDir = wa.Path()
	log.Info("Processing in " + wa.Path())

	// The deferred release below has already run by the time shutdown
	// handlers fire, so the handler only reports what was left behind
	if r.manager != nil {
		r.manager.RegisterShutdownHandler(func() {
			if opts.KeepWorkdir {
				log.Warn("Interrupted; work dir kept at " + wa.Path())
			} else if utils.DirectoryExists(wa.Path()) {
				log.Error("Interrupted; work dir could not be removed: " + wa.Path())
			}
		})
	}

	defer func() {
		if _, rerr := wa.Release(opts.KeepWorkdir); rerr != nil {
			log.Warn("Failed to release work area", logger.WithField("error", rerr))
		}
		if opts.KeepWorkdir {
			result.KeptWorkdir = wa.Path()
			log.Info("Not removing work dir " + wa.Path())
		}

		result.Duration = pcontext.Elapsed(ctx)
		if err != nil {
			r.notifier.RegenerationFailed(err)
		} else {
			r.notifier.RegenerationSucceeded(opts.OutputDir, result.Duration)
		}
	}()

	ms := macros.Defines()

	sourceDir, err := r.fetcher.FetchAndExtract(pcontext.WithStep(ctx, "fetch"), types.AcquisitionTarget{
		Location:    opts.Source,
		RootPattern: opts.RootPattern,
	}, wa.Path())
	if err != nil {
		return result, fmt.Errorf("fetch %s: %w", opts.Source, err)
	}

	builder := builders.NewSourceBuilder(r.tools, r.runner, log)
	builder.LogDir = wa.Path()

	if err = builder.Configure(pcontext.WithStep(ctx, "configure"), sourceDir, ms); err != nil {
		return result, err
	}
	if err = builder.BuildAmalgamation(pcontext.WithStep(ctx, "make"), sourceDir); err != nil {
		return result, err
	}

	result.Staged, err = builder.Stage(sourceDir, opts.OutputDir)
	if err != nil {
		return result, err
	}

	result.Stamp, err = state.NewStampManager(opts.OutputDir, log).Record(state.Stamp{
		RunID:             result.RunID,
		Source:            opts.Source,
		MacroFingerprint:  macros.Fingerprint(ms),
		MacroTableVersion: macros.TableVersion,
		ToolVersion:       version.String(),
	}, builders.StagedFiles)
	if err != nil {
		return result, err
	}

	log.Success(fmt.Sprintf("Amalgamation staged in %s", opts.OutputDir))
	return result, nil
}
