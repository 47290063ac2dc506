package pkgconfig_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/pysqlcipher/amalgam/pkg/mocks"
	"github.com/pysqlcipher/amalgam/pkg/pkgconfig"
	"github.com/pysqlcipher/amalgam/pkg/process"
	"github.com/pysqlcipher/amalgam/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireFeature(t *testing.T) {
	require.NoError(t, pkgconfig.RequireFeature(pkgconfig.ParseFeatures("A,B"), "B"))

	err := pkgconfig.RequireFeature(pkgconfig.ParseFeatures("A"), "B")
	assert.ErrorIs(t, err, types.ErrMissingCapability)
}

func TestProber_Verify(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	gomock.InOrder(
		runner.EXPECT().
			Output(gomock.Any(), "pkg-config", "--variable=features", "sqlite3").
			Return([]byte("FTS5,SQLCipher\n"), nil),
		runner.EXPECT().
			Output(gomock.Any(), "pkg-config", "--cflags", "--libs", "sqlite3").
			Return([]byte("-I/usr/include/sqlcipher -lsqlcipher -lcrypto\n"), nil),
	)

	p := pkgconfig.NewProber("", runner, nil)
	flags, err := p.Verify(context.Background(), "sqlite3", "SQLCipher")

	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/include/sqlcipher"}, flags.IncludeDirs)
	assert.Equal(t, []string{"sqlcipher", "crypto"}, flags.Libraries)
}

func TestProber_VerifyMissingCapability(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	// Flags must never be resolved for a library that fails the gate
	runner.EXPECT().
		Output(gomock.Any(), "pkg-config", "--variable=features", "sqlite3").
		Return([]byte("FTS5,JSON1"), nil)

	p := pkgconfig.NewProber("pkg-config", runner, nil)
	_, err := p.Verify(context.Background(), "sqlite3", "SQLCipher")

	assert.ErrorIs(t, err, types.ErrMissingCapability)
}

func TestProber_ToolingUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	runner.EXPECT().
		Output(gomock.Any(), "pkgconf", gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("%w: pkgconf", process.ErrNotFound))

	p := pkgconfig.NewProber("pkgconf", runner, nil)
	_, err := p.ProbeFeatures(context.Background(), "sqlite3")

	assert.ErrorIs(t, err, types.ErrToolingUnavailable)
}

func TestProber_PackageNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	runner.EXPECT().
		Output(gomock.Any(), "pkg-config", "--cflags", "--libs", "sqlite3").
		Return(nil, &process.ExitError{
			Command: []string{"pkg-config", "--cflags", "--libs", "sqlite3"},
			Code:    1,
			Stderr:  "Package sqlite3 was not found in the pkg-config search path.",
		})

	p := pkgconfig.NewProber("", runner, nil)
	_, err := p.ResolveFlags(context.Background(), "sqlite3")

	require.ErrorIs(t, err, types.ErrPackageNotFound)
	assert.Contains(t, err.Error(), "not found in the pkg-config search path")
}

func TestProber_OtherErrorsPassThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	runner.EXPECT().
		Output(gomock.Any(), "pkg-config", gomock.Any(), gomock.Any()).
		Return(nil, context.Canceled)

	p := pkgconfig.NewProber("", runner, nil)
	_, err := p.ProbeFeatures(context.Background(), "sqlite3")

	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, types.ErrPackageNotFound))
}
