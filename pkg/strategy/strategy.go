// Package strategy decides how the engine is acquired for a build and
// assembles the matching compilation units
package strategy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/pysqlcipher/amalgam/pkg/extension"
	"github.com/pysqlcipher/amalgam/pkg/logger"
	"github.com/pysqlcipher/amalgam/pkg/macros"
	"github.com/pysqlcipher/amalgam/pkg/pkgconfig"
	"github.com/pysqlcipher/amalgam/pkg/state"
	"github.com/pysqlcipher/amalgam/pkg/types"
)

const (
	DefaultLibrary         = "sqlite3"
	DefaultRequiredFeature = "SQLCipher"
	DefaultOpenSSLLibDir   = `C:\openssl-win64-2010\lib`
)

// DefaultCryptoLibraries includes the indirect dependencies the Windows
// linker needs alongside libcrypto
var DefaultCryptoLibraries = []string{"libcrypto", "libssl", "advapi32", "crypt32", "gdi32", "user32", "ws2_32"}

// DefaultUnixCryptoLibraries links OpenSSL from the system search path
var DefaultUnixCryptoLibraries = []string{"crypto"}

// CryptoDefaults returns the OpenSSL library directories and libraries a
// bundled build links on platform
func CryptoDefaults(platform types.Platform) (dirs, libs []string) {
	if platform.IsWindows() {
		return []string{DefaultOpenSSLLibDir}, append([]string(nil), DefaultCryptoLibraries...)
	}
	return nil, append([]string(nil), DefaultUnixCryptoLibraries...)
}

// BundleRequiredFiles must be staged before a bundled build can start
var BundleRequiredFiles = []string{"sqlite3.c", "sqlite3.h"}

// Verifier gates the Link strategy on a capability of the system library
type Verifier interface {
	Verify(ctx context.Context, library, tag string) (pkgconfig.Flags, error)
}

// Select picks the strategy for a platform: Windows bundles, everything
// else links against the system library
func Select(platform types.Platform) types.BuildStrategy {
	if platform.IsWindows() {
		return types.StrategyBundle
	}
	return types.StrategyLink
}

// Resolve returns override when set, otherwise Select(platform)
func Resolve(platform types.Platform, override types.BuildStrategy) types.BuildStrategy {
	if override != "" {
		return override
	}
	return Select(platform)
}

// Deps carries everything Apply needs beyond the strategy itself
type Deps struct {
	Platform        types.Platform
	Prober          Verifier
	AmalgamationDir string
	AllowStale      bool
	Link            types.LinkConfig
	Bundle          types.BundleConfig
	Extension       types.ExtensionConfig
	Logger          logger.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logger.NewNopLogger()
	}
	if d.AmalgamationDir == "" {
		d.AmalgamationDir = "amalgamation"
	}
	if d.Link.Library == "" {
		d.Link.Library = DefaultLibrary
	}
	if d.Link.RequiredFeature == "" {
		d.Link.RequiredFeature = DefaultRequiredFeature
	}
	dirs, libs := CryptoDefaults(d.Platform)
	if len(d.Bundle.CryptoLibraryDirs) == 0 {
		d.Bundle.CryptoLibraryDirs = dirs
	}
	if len(d.Bundle.CryptoLibraries) == 0 {
		d.Bundle.CryptoLibraries = libs
	}
	if len(d.Extension.Sources) == 0 {
		d.Extension.Sources = extension.DefaultSources
	}
	return d
}

// Apply builds the compilation units for strategy. Link fails unless the
// system library carries the required capability; Bundle fails unless a
// staged amalgamation is present.
func Apply(ctx context.Context, strategy types.BuildStrategy, deps Deps) (extension.CompilationUnitSet, error) {
	deps = deps.withDefaults()
	log := deps.Logger.WithTarget(string(strategy))

	b := extension.NewBuilder(strategy).
		AddSources(deps.Extension.Sources...).
		AddRuntimeLibraryDirs(deps.Extension.RuntimeLibraryDirs...).
		AddExtraObjects(deps.Extension.ExtraObjects...)

	switch strategy {
	case types.StrategyBundle:
		if err := applyBundle(b, deps, log); err != nil {
			return extension.CompilationUnitSet{}, err
		}
	case types.StrategyLink:
		if err := applyLink(ctx, b, deps, log); err != nil {
			return extension.CompilationUnitSet{}, err
		}
	default:
		return extension.CompilationUnitSet{}, fmt.Errorf("unknown build strategy: %q", strategy)
	}

	b.AddMacros(
		extension.ModuleNameMacro(deps.Platform, deps.Extension.ModuleName),
		types.DefineValue("THREADSAFE", "1"),
	)

	// Project-supplied libraries go through the guard like any late addition
	b.AddLibraries(deps.Extension.Libraries...)
	if b.LibrariesLocked() && len(deps.Extension.Libraries) > 0 {
		log.Debug("Ignoring configured libraries for bundled engine",
			logger.WithField("libraries", deps.Extension.Libraries))
	}

	return b.Build(), nil
}

func applyBundle(b *extension.Builder, deps Deps, log logger.Logger) error {
	ms := macros.Defines()
	report := state.NewStampManager(deps.AmalgamationDir, deps.Logger).
		Inspect(BundleRequiredFiles, macros.Fingerprint(ms), macros.TableVersion)

	if err := report.Err(); err != nil {
		if !deps.AllowStale || errors.Is(err, types.ErrAmalgamationMissing) {
			return err
		}
		log.Warn("Using stale amalgamation", logger.WithField("reason", report.Reason))
	}

	b.AddMacros(ms...).
		AddMacros(types.Define("SQLCIPHER_CRYPTO_OPENSSL")).
		AddSources(filepath.Join(deps.AmalgamationDir, "sqlite3.c")).
		AddIncludeDirs(deps.AmalgamationDir).
		AddLibraryDirs(deps.Bundle.CryptoLibraryDirs...).
		SetLibraries(deps.Bundle.CryptoLibraries...).
		LockLibraries()

	log.Info("Bundling amalgamation from " + deps.AmalgamationDir)
	return nil
}

func applyLink(ctx context.Context, b *extension.Builder, deps Deps, log logger.Logger) error {
	if deps.Prober == nil {
		return fmt.Errorf("%w: no pkg-config prober configured", types.ErrToolingUnavailable)
	}

	flags, err := deps.Prober.Verify(ctx, deps.Link.Library, deps.Link.RequiredFeature)
	if err != nil {
		return err
	}

	b.AddIncludeDirs(flags.IncludeDirs...).
		AddLibraryDirs(flags.LibraryDirs...).
		SetLibraries(flags.Libraries...)

	log.Info(fmt.Sprintf("Linking against system %s with %s support", deps.Link.Library, deps.Link.RequiredFeature),
		logger.WithField("libraries", flags.Libraries))
	return nil
}
