package builders_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/pysqlcipher/amalgam/pkg/builders"
	"github.com/pysqlcipher/amalgam/pkg/macros"
	"github.com/pysqlcipher/amalgam/pkg/mocks"
	"github.com/pysqlcipher/amalgam/pkg/process"
	"github.com/pysqlcipher/amalgam/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceBuilder_Configure(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	src := t.TempDir()
	logDir := t.TempDir()

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, c process.Command) error {
			assert.Equal(t, "./configure", c.Name)
			assert.Equal(t, src, c.Dir)
			require.Len(t, c.Args, 1)
			assert.True(t, strings.HasPrefix(c.Args[0], "CFLAGS=-DSQLITE_SECURE_DELETE "))
			assert.True(t, strings.HasSuffix(c.Args[0], "-DSQLITE_HAS_CODEC"))
			fmt.Fprintln(c.Stdout, "checking for gcc... gcc")
			return nil
		})

	b := builders.NewSourceBuilder(builders.Tools{}, runner, nil)
	b.LogDir = logDir
	require.NoError(t, b.Configure(context.Background(), src, macros.Defines()))

	data, err := os.ReadFile(filepath.Join(logDir, "configure.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "checking for gcc... gcc")
	assert.Contains(t, string(data), "configure SUCCEEDED")
}

func TestSourceBuilder_ConfigureFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, c process.Command) error {
			fmt.Fprintln(c.Stderr, "configure: error: OpenSSL not found")
			return &process.ExitError{Command: c.Argv(), Code: 77}
		})

	b := builders.NewSourceBuilder(builders.Tools{}, runner, nil)
	err := b.Configure(context.Background(), t.TempDir(), macros.Defines())

	require.ErrorIs(t, err, types.ErrConfigureFailed)
	assert.Equal(t, 77, types.ExitCode(err))
	assert.Contains(t, err.Error(), "OpenSSL not found")
}

func TestSourceBuilder_BuildAmalgamation(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	src := t.TempDir()

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, c process.Command) error {
			assert.Equal(t, []string{"gmake", "sqlite3.c"}, c.Argv())
			assert.Equal(t, src, c.Dir)
			return nil
		})

	b := builders.NewSourceBuilder(builders.Tools{Make: "gmake"}, runner, nil)
	require.NoError(t, b.BuildAmalgamation(context.Background(), src))
}

func TestSourceBuilder_BuildFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).
		Return(&process.ExitError{Command: []string{"make", "sqlite3.c"}, Code: 2})

	b := builders.NewSourceBuilder(builders.Tools{}, runner, nil)
	err := b.BuildAmalgamation(context.Background(), t.TempDir())

	require.ErrorIs(t, err, types.ErrBuildFailed)
	assert.False(t, errors.Is(err, types.ErrConfigureFailed))
	assert.Equal(t, 2, types.ExitCode(err))
}

func TestSourceBuilder_MissingTool(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).
		Return(fmt.Errorf("%w: make", process.ErrNotFound))

	b := builders.NewSourceBuilder(builders.Tools{}, runner, nil)
	err := b.BuildAmalgamation(context.Background(), t.TempDir())

	require.ErrorIs(t, err, types.ErrBuildFailed)
	assert.Equal(t, -1, types.ExitCode(err))
}

func TestSourceBuilder_Interrupted(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, c process.Command) error {
			cancel()
			return &process.ExitError{Command: c.Argv(), Code: -1}
		})

	b := builders.NewSourceBuilder(builders.Tools{}, runner, nil)
	err := b.BuildAmalgamation(ctx, t.TempDir())

	assert.ErrorIs(t, err, context.Canceled)
}

func writeTree(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("/* "+name+" */"), 0644))
	}
}

func TestSourceBuilder_Stage(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "amalgamation")
	writeTree(t, src, builders.StagedFiles...)

	require.NoError(t, os.MkdirAll(dest, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "sqlite3.c"), []byte("old"), 0644))

	b := builders.NewSourceBuilder(builders.Tools{}, nil, nil)
	staged, err := b.Stage(src, dest)
	require.NoError(t, err)
	assert.Len(t, staged, 4)

	for _, name := range builders.StagedFiles {
		data, err := os.ReadFile(filepath.Join(dest, name))
		require.NoError(t, err)
		assert.Equal(t, "/* "+name+" */", string(data))
	}
}

func TestSourceBuilder_StageIncomplete(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "amalgamation")
	writeTree(t, src, "sqlite3.c", "sqlite3.h", "sqlite3ext.h")

	b := builders.NewSourceBuilder(builders.Tools{}, nil, nil)
	_, err := b.Stage(src, dest)

	require.ErrorIs(t, err, types.ErrStagingIncomplete)
	assert.Contains(t, err.Error(), "shell.c")
	assert.NoDirExists(t, dest)
}

func TestCommandStep_LastDuration(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(nil)

	step := builders.NewCommandStep("make", types.ErrBuildFailed, runner, nil)
	_, err := step.Run(context.Background(), process.Command{Name: "make"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int64(step.LastDuration()), int64(0))
}
