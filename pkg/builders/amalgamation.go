package builders

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pysqlcipher/amalgam/pkg/logger"
	"github.com/pysqlcipher/amalgam/pkg/macros"
	"github.com/pysqlcipher/amalgam/pkg/process"
	"github.com/pysqlcipher/amalgam/pkg/types"
	"github.com/pysqlcipher/amalgam/pkg/utils"
)

const (
	DefaultConfigure = "./configure"
	DefaultMake      = "make"

	// AmalgamationTarget is the make target producing the single translation unit
	AmalgamationTarget = "sqlite3.c"
)

// StagedFiles are copied from the built tree into the amalgamation directory
var StagedFiles = []string{"sqlite3.c", "sqlite3.h", "shell.c", "sqlite3ext.h"}

// Tools names the executables used to build the amalgamation
type Tools struct {
	Configure string
	Make      string
}

func (t Tools) withDefaults() Tools {
	if t.Configure == "" {
		t.Configure = DefaultConfigure
	}
	if t.Make == "" {
		t.Make = DefaultMake
	}
	return t
}

// SourceBuilder configures an extracted engine tree and produces its amalgamation
type SourceBuilder struct {
	tools  Tools
	runner process.Runner
	logger logger.Logger
	fs     *utils.FileSystemUtils

	// LogDir receives configure.log and make.log
	LogDir string
}

// NewSourceBuilder creates a builder running tools through runner
func NewSourceBuilder(tools Tools, runner process.Runner, log logger.Logger) *SourceBuilder {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &SourceBuilder{
		tools:  tools.withDefaults(),
		runner: runner,
		logger: log,
		fs:     utils.NewFileSystemUtils(),
	}
}

func (b *SourceBuilder) step(name string, kind error) *CommandStep {
	s := NewCommandStep(name, kind, b.runner, b.logger)
	s.LogDir = b.LogDir
	return s
}

// Configure runs the configure script in sourceDir with the macro set as CFLAGS
func (b *SourceBuilder) Configure(ctx context.Context, sourceDir string, ms []types.FeatureMacro) error {
	_, err := b.step("configure", types.ErrConfigureFailed).Run(ctx, process.Command{
		Name: b.tools.Configure,
		Args: []string{"CFLAGS=" + macros.CFlags(ms)},
		Dir:  sourceDir,
	})
	return err
}

// BuildAmalgamation runs make for the sqlite3.c target in sourceDir
func (b *SourceBuilder) BuildAmalgamation(ctx context.Context, sourceDir string) error {
	_, err := b.step("make", types.ErrBuildFailed).Run(ctx, process.Command{
		Name: b.tools.Make,
		Args: []string{AmalgamationTarget},
		Dir:  sourceDir,
	})
	return err
}

// Stage copies the generated files into destDir, overwriting older copies.
// Nothing is copied unless every file is present.
func (b *SourceBuilder) Stage(sourceDir, destDir string) ([]string, error) {
	log := b.logger.WithTarget("stage")

	var missing []string
	for _, name := range StagedFiles {
		if !utils.FileExists(filepath.Join(sourceDir, name)) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s in %s", types.ErrStagingIncomplete, strings.Join(missing, ", "), sourceDir)
	}

	if err := utils.EnsureDirectory(destDir); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", destDir, err)
	}

	staged := make([]string, 0, len(StagedFiles))
	for _, name := range StagedFiles {
		dst := filepath.Join(destDir, name)
		if err := b.fs.CopyFile(filepath.Join(sourceDir, name), dst); err != nil {
			return staged, fmt.Errorf("failed to stage %s: %w", name, err)
		}
		log.Debug("Staged "+name, logger.WithField("dest", dst))
		staged = append(staged, dst)
	}

	log.Success(fmt.Sprintf("Staged %d files into %s", len(staged), destDir))
	return staged, nil
}
