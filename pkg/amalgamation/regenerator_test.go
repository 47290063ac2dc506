package amalgamation_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pysqlcipher/amalgam/pkg/amalgamation"
	"github.com/pysqlcipher/amalgam/pkg/builders"
	"github.com/pysqlcipher/amalgam/pkg/macros"
	"github.com/pysqlcipher/amalgam/pkg/mocks"
	"github.com/pysqlcipher/amalgam/pkg/process"
	"github.com/pysqlcipher/amalgam/pkg/state"
	"github.com/pysqlcipher/amalgam/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher lays out an extracted source tree without touching the network
type fakeFetcher struct {
	err    error
	target types.AcquisitionTarget
}

func (f *fakeFetcher) FetchAndExtract(_ context.Context, target types.AcquisitionTarget, workDir string) (string, error) {
	f.target = target
	if f.err != nil {
		return "", f.err
	}
	root := filepath.Join(workDir, "sqlcipher-3.3.1")
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", err
	}
	return root, os.WriteFile(filepath.Join(root, "configure"), []byte("#!/bin/sh\n"), 0755)
}

type recordingNotifier struct {
	mu        sync.Mutex
	succeeded int
	failed    []error
}

func (n *recordingNotifier) RegenerationSucceeded(string, time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.succeeded++
}

func (n *recordingNotifier) RegenerationFailed(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, err)
}

// makeWrites emulates a successful `make sqlite3.c`
func makeWrites(t *testing.T) func(context.Context, process.Command) error {
	return func(_ context.Context, c process.Command) error {
		for _, name := range builders.StagedFiles {
			require.NoError(t, os.WriteFile(filepath.Join(c.Dir, name), []byte("/* "+name+" */"), 0644))
		}
		return nil
	}
}

func options(t *testing.T) amalgamation.Options {
	return amalgamation.Options{
		OutputDir:  filepath.Join(t.TempDir(), "amalgamation"),
		WorkParent: t.TempDir(),
	}
}

func TestRegenerator_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	fetcher := &fakeFetcher{}
	notes := &recordingNotifier{}

	gomock.InOrder(
		runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(nil),
		runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(makeWrites(t)),
	)

	opts := options(t)
	res, err := amalgamation.NewRegenerator(fetcher, runner, builders.Tools{}, nil).
		WithNotifier(notes).
		Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, amalgamation.DefaultSource, fetcher.target.Location)
	assert.Len(t, res.Staged, 4)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.KeptWorkdir)
	assert.NoDirExists(t, res.WorkDir)
	assert.Equal(t, 1, notes.succeeded)

	for _, name := range builders.StagedFiles {
		assert.FileExists(t, filepath.Join(opts.OutputDir, name))
	}

	err = state.NewStampManager(opts.OutputDir, nil).Check(
		builders.StagedFiles, macros.Fingerprint(macros.Defines()), macros.TableVersion)
	assert.NoError(t, err)
	assert.Equal(t, res.RunID, res.Stamp.RunID)
}

func TestRegenerator_BuildFailedReleasesWorkArea(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	notes := &recordingNotifier{}

	gomock.InOrder(
		runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(nil),
		runner.EXPECT().Run(gomock.Any(), gomock.Any()).
			Return(&process.ExitError{Command: []string{"make", "sqlite3.c"}, Code: 2}),
	)

	opts := options(t)
	res, err := amalgamation.NewRegenerator(&fakeFetcher{}, runner, builders.Tools{}, nil).
		WithNotifier(notes).
		Run(context.Background(), opts)

	require.ErrorIs(t, err, types.ErrBuildFailed)
	assert.Equal(t, 2, types.ExitCode(err))
	assert.NoDirExists(t, res.WorkDir)
	assert.NoDirExists(t, opts.OutputDir)
	assert.Len(t, notes.failed, 1)
}

func TestRegenerator_FetchFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	opts := options(t)
	opts.Source = "https://mirror.example.com/sqlcipher.tar.gz"
	res, err := amalgamation.NewRegenerator(&fakeFetcher{err: types.ErrMalformedArchive}, runner, builders.Tools{}, nil).
		Run(context.Background(), opts)

	require.ErrorIs(t, err, types.ErrMalformedArchive)
	assert.Contains(t, err.Error(), opts.Source)
	assert.NoDirExists(t, res.WorkDir)
}

func TestRegenerator_KeepWorkdir(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).
		Return(&process.ExitError{Command: []string{"./configure"}, Code: 1})

	opts := options(t)
	opts.KeepWorkdir = true
	res, err := amalgamation.NewRegenerator(&fakeFetcher{}, runner, builders.Tools{}, nil).
		Run(context.Background(), opts)

	require.ErrorIs(t, err, types.ErrConfigureFailed)
	assert.Equal(t, res.WorkDir, res.KeptWorkdir)
	assert.DirExists(t, res.KeptWorkdir)
	assert.FileExists(t, filepath.Join(res.KeptWorkdir, "configure.log"))
}

func TestRegenerator_InterruptReleasesWorkArea(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	manager := process.NewManager(nil)

	var workDir string
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, c process.Command) error {
			workDir = filepath.Dir(c.Dir)
			manager.Signal(os.Interrupt)
			<-ctx.Done()
			return ctx.Err()
		})

	regen := amalgamation.NewRegenerator(&fakeFetcher{}, runner, builders.Tools{}, nil).WithManager(manager)
	err := manager.Run(context.Background(), func(ctx context.Context) error {
		_, err := regen.Run(ctx, options(t))
		return err
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, process.ErrInterrupted) || errors.Is(err, context.Canceled), "got %v", err)
	require.NotEmpty(t, workDir)
	assert.NoDirExists(t, workDir)
}

// slowFetcher keeps writing into the work area after cancellation, the way
// an extraction finishes its current entry before noticing
type slowFetcher struct {
	manager *process.Manager
	workDir string
}

func (f *slowFetcher) FetchAndExtract(ctx context.Context, _ types.AcquisitionTarget, workDir string) (string, error) {
	f.workDir = workDir
	f.manager.Signal(os.Interrupt)
	<-ctx.Done()

	late := filepath.Join(workDir, "sqlcipher-3.3.1", "src")
	if err := os.MkdirAll(late, 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(late, "late.c"), []byte("/* late */"), 0644); err != nil {
		return "", err
	}
	return "", ctx.Err()
}

func TestRegenerator_InterruptDuringFetchRemovesWorkArea(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	manager := process.NewManager(nil)
	fetcher := &slowFetcher{manager: manager}

	regen := amalgamation.NewRegenerator(fetcher, runner, builders.Tools{}, nil).WithManager(manager)
	err := manager.Run(context.Background(), func(ctx context.Context) error {
		_, err := regen.Run(ctx, options(t))
		return err
	})

	require.Error(t, err)
	require.NotEmpty(t, fetcher.workDir)
	assert.NoDirExists(t, fetcher.workDir)
}
