// Package pkgconfig queries pkg-config for an installed engine and verifies
// it was built with the required cryptographic feature
package pkgconfig

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pysqlcipher/amalgam/pkg/logger"
	"github.com/pysqlcipher/amalgam/pkg/process"
	"github.com/pysqlcipher/amalgam/pkg/types"
)

// DefaultTool is the pkg-config executable used when none is configured
const DefaultTool = "pkg-config"

// Prober is a read-only pkg-config client
type Prober struct {
	tool   string
	runner process.Runner
	logger logger.Logger
}

// NewProber creates a prober invoking tool through runner
func NewProber(tool string, runner process.Runner, log logger.Logger) *Prober {
	if tool == "" {
		tool = DefaultTool
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Prober{
		tool:   tool,
		runner: runner,
		logger: log.WithTarget("pkg-config"),
	}
}

// ProbeFeatures lists the feature tags the library declares
func (p *Prober) ProbeFeatures(ctx context.Context, library string) (FeatureSet, error) {
	out, err := p.query(ctx, library, "--variable=features", library)
	if err != nil {
		return nil, err
	}

	features := ParseFeatures(string(out))
	p.logger.Debug("Declared features",
		logger.WithField("library", library),
		logger.WithField("features", strings.Join(features.Sorted(), ",")))
	return features, nil
}

// RequireFeature fails with ErrMissingCapability unless tag is declared.
// There is deliberately no fallback to bundling here.
func RequireFeature(features FeatureSet, tag string) error {
	if !features.Has(tag) {
		return fmt.Errorf("%w: pkg-config found the library but it is missing %s support", types.ErrMissingCapability, tag)
	}
	return nil
}

// ResolveFlags returns include dirs, library dirs and libraries for library
func (p *Prober) ResolveFlags(ctx context.Context, library string) (Flags, error) {
	out, err := p.query(ctx, library, "--cflags", "--libs", library)
	if err != nil {
		return Flags{}, err
	}
	return ParseFlags(string(out)), nil
}

// Verify runs the full link precondition: features, required tag, flags
func (p *Prober) Verify(ctx context.Context, library, tag string) (Flags, error) {
	features, err := p.ProbeFeatures(ctx, library)
	if err != nil {
		return Flags{}, err
	}
	if err := RequireFeature(features, tag); err != nil {
		p.logger.Error("System library rejected",
			logger.WithField("library", library),
			logger.WithField("required", tag))
		return Flags{}, err
	}

	flags, err := p.ResolveFlags(ctx, library)
	if err != nil {
		return Flags{}, err
	}

	p.logger.Info(fmt.Sprintf("Verified %s with %s support", library, tag),
		logger.WithField("includeDirs", len(flags.IncludeDirs)),
		logger.WithField("libraries", strings.Join(flags.Libraries, " ")))
	return flags, nil
}

func (p *Prober) query(ctx context.Context, library string, args ...string) ([]byte, error) {
	out, err := p.runner.Output(ctx, p.tool, args...)
	if err == nil {
		return out, nil
	}

	if errors.Is(err, process.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s is not installed", types.ErrToolingUnavailable, p.tool)
	}

	var exitErr *process.ExitError
	if errors.As(err, &exitErr) {
		detail := strings.TrimSpace(exitErr.Stderr)
		if detail == "" {
			detail = exitErr.Error()
		}
		return nil, fmt.Errorf("%w: %s: %s", types.ErrPackageNotFound, library, detail)
	}

	return nil, fmt.Errorf("%s %s: %w", p.tool, strings.Join(args, " "), err)
}
