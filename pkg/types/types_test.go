package types_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/pysqlcipher/amalgam/pkg/types"
)

func TestFeatureMacro_Flag(t *testing.T) {
	tests := []struct {
		name  string
		macro types.FeatureMacro
		want  string
	}{
		{"flag", types.Define("SQLITE_HAS_CODEC"), "-DSQLITE_HAS_CODEC"},
		{"value", types.DefineValue("SQLITE_MAX_VARIABLE_NUMBER", "250000"), "-DSQLITE_MAX_VARIABLE_NUMBER=250000"},
		{"empty value", types.DefineValue("EMPTY", ""), "-DEMPTY="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.macro.Flag(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFeatureMacro_Equal(t *testing.T) {
	a := types.DefineValue("X", "1")
	b := types.DefineValue("X", "1")
	c := types.Define("X")

	if !a.Equal(b) {
		t.Error("expected macros with same value to be equal")
	}
	if a.Equal(c) {
		t.Error("expected valued and valueless macros to differ")
	}
	if !c.Equal(types.Define("X")) {
		t.Error("expected valueless macros to be equal")
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    types.BuildStrategy
		wantErr bool
	}{
		{"", "", false},
		{"bundle", types.StrategyBundle, false},
		{" LINK ", types.StrategyLink, false},
		{"static", "", true},
	}

	for _, tt := range tests {
		got, err := types.ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseStrategy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParsePlatform(t *testing.T) {
	p, err := types.ParsePlatform("windows/amd64")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.IsWindows() || p.Arch != "amd64" {
		t.Errorf("unexpected platform: %+v", p)
	}
	if p.String() != "windows/amd64" {
		t.Errorf("unexpected string: %s", p)
	}

	p, err = types.ParsePlatform("linux")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.IsWindows() || p.String() != "linux" {
		t.Errorf("unexpected platform: %+v", p)
	}

	if _, err := types.ParsePlatform("/amd64"); err == nil {
		t.Error("expected error for missing OS")
	}
	if _, err := types.ParsePlatform(""); err == nil {
		t.Error("expected error for empty platform")
	}
}

func TestToolError(t *testing.T) {
	err := fmt.Errorf("regenerate: %w", &types.ToolError{
		Kind:     types.ErrBuildFailed,
		Command:  []string{"make", "sqlite3.c"},
		ExitCode: 2,
		Output:   "make: *** No rule to make target",
	})

	if !errors.Is(err, types.ErrBuildFailed) {
		t.Error("expected error to match ErrBuildFailed")
	}
	if errors.Is(err, types.ErrConfigureFailed) {
		t.Error("did not expect error to match ErrConfigureFailed")
	}
	if code := types.ExitCode(err); code != 2 {
		t.Errorf("expected exit code 2, got %d", code)
	}
	if !strings.Contains(err.Error(), "make sqlite3.c exited with status 2") {
		t.Errorf("unexpected message: %s", err)
	}
	if code := types.ExitCode(errors.New("other")); code != -1 {
		t.Errorf("expected -1 for non-tool error, got %d", code)
	}
}
