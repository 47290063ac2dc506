// Package render writes a CompilationUnitSet in the formats consumers read
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pysqlcipher/amalgam/pkg/extension"
	"github.com/pysqlcipher/amalgam/pkg/types"
	"golang.org/x/tools/imports"
	"gopkg.in/yaml.v3"
)

// Format names an output format
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCgo  Format = "cgo"
)

// ParseFormat parses a format name, defaulting to YAML
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatYAML, nil
	case FormatYAML, FormatJSON, FormatCgo:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format: %q", s)
	}
}

// Plan is the serializable form of a CompilationUnitSet
type Plan struct {
	Strategy           types.BuildStrategy `json:"strategy" yaml:"strategy"`
	Platform           string              `json:"platform" yaml:"platform"`
	Sources            []string            `json:"sources" yaml:"sources"`
	IncludeDirs        []string            `json:"includeDirs,omitempty" yaml:"includeDirs,omitempty"`
	LibraryDirs        []string            `json:"libraryDirs,omitempty" yaml:"libraryDirs,omitempty"`
	Libraries          []string            `json:"libraries,omitempty" yaml:"libraries,omitempty"`
	RuntimeLibraryDirs []string            `json:"runtimeLibraryDirs,omitempty" yaml:"runtimeLibraryDirs,omitempty"`
	ExtraObjects       []string            `json:"extraObjects,omitempty" yaml:"extraObjects,omitempty"`
	Macros             []string            `json:"macros" yaml:"macros"`
}

// NewPlan converts set into a Plan
func NewPlan(set extension.CompilationUnitSet, platform types.Platform) Plan {
	macros := set.Macros()
	flags := make([]string, len(macros))
	for i, m := range macros {
		flags[i] = m.Flag()
	}
	return Plan{
		Strategy:           set.Strategy(),
		Platform:           platform.String(),
		Sources:            set.Sources(),
		IncludeDirs:        set.IncludeDirs(),
		LibraryDirs:        set.LibraryDirs(),
		Libraries:          set.Libraries(),
		RuntimeLibraryDirs: set.RuntimeLibraryDirs(),
		ExtraObjects:       set.ExtraObjects(),
		Macros:             flags,
	}
}

// Render writes set in format. pkg names the package of cgo output.
func Render(format Format, set extension.CompilationUnitSet, platform types.Platform, pkg string) ([]byte, error) {
	switch format {
	case FormatYAML, "":
		return YAML(set, platform)
	case FormatJSON:
		return JSON(set, platform)
	case FormatCgo:
		return Cgo(set, platform, pkg)
	default:
		return nil, fmt.Errorf("unknown output format: %q", format)
	}
}

func YAML(set extension.CompilationUnitSet, platform types.Platform) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(NewPlan(set, platform)); err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func JSON(set extension.CompilationUnitSet, platform types.Platform) ([]byte, error) {
	data, err := json.MarshalIndent(NewPlan(set, platform), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	return append(data, '\n'), nil
}

// Cgo renders #cgo directives for a Go binding package. The C sources
// are listed in a comment; cgo compiles only files in the package directory.
func Cgo(set extension.CompilationUnitSet, platform types.Platform, pkg string) ([]byte, error) {
	if pkg == "" {
		pkg = "sqlcipher"
	}

	var b strings.Builder
	b.WriteString("// Code generated by amalgam plan. DO NOT EDIT.\n\n")
	if platform.OS != "" {
		fmt.Fprintf(&b, "//go:build %s\n\n", platform.OS)
	}
	fmt.Fprintf(&b, "package %s\n\n", pkg)

	b.WriteString("// Compilation units:\n")
	for _, src := range set.Sources() {
		fmt.Fprintf(&b, "//   %s\n", src)
	}
	b.WriteString("\n")

	for _, dir := range set.IncludeDirs() {
		fmt.Fprintf(&b, "// #cgo CFLAGS: %s\n", quoteFlag("-I"+dir))
	}
	for _, m := range set.Macros() {
		fmt.Fprintf(&b, "// #cgo CFLAGS: %s\n", quoteFlag(cgoMacro(m)))
	}
	for _, dir := range set.LibraryDirs() {
		fmt.Fprintf(&b, "// #cgo LDFLAGS: %s\n", quoteFlag("-L"+dir))
	}
	for _, dir := range set.RuntimeLibraryDirs() {
		fmt.Fprintf(&b, "// #cgo LDFLAGS: %s\n", quoteFlag("-Wl,-rpath,"+dir))
	}
	for _, lib := range set.Libraries() {
		fmt.Fprintf(&b, "// #cgo LDFLAGS: %s\n", quoteFlag("-l"+lib))
	}
	for _, obj := range set.ExtraObjects() {
		fmt.Fprintf(&b, "// #cgo LDFLAGS: %s\n", quoteFlag(obj))
	}
	b.WriteString("import \"C\"\n")

	out, err := imports.Process(pkg+"_cgo.go", []byte(b.String()), &imports.Options{
		FormatOnly: true,
		Comments:   true,
		TabIndent:  true,
		TabWidth:   8,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to format cgo output: %w", err)
	}
	return out, nil
}

// cgoMacro drops the backslash escaping Windows compiler drivers need;
// cgo passes arguments to the compiler without a shell
func cgoMacro(m types.FeatureMacro) string {
	if m.Value == nil {
		return m.Flag()
	}
	return types.DefineValue(m.Name, strings.ReplaceAll(*m.Value, `\"`, `"`)).Flag()
}

// quoteFlag protects flags from cgo's argument splitting, which treats a
// backslash as an escape even inside quotes
func quoteFlag(flag string) string {
	if !strings.ContainsAny(flag, " \t\"'\\") {
		return flag
	}
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(flag)
	return "'" + escaped + "'"
}
