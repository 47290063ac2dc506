// Package extension describes the compilation units of the extension module
package extension

import (
	"strings"

	"github.com/pysqlcipher/amalgam/pkg/types"
)

// DefaultModuleName is the import path the extension registers under
const DefaultModuleName = "pysqlite2.dbapi2"

// DefaultSources lists the extension's own C sources
var DefaultSources = []string{
	"src/module.c",
	"src/connection.c",
	"src/cursor.c",
	"src/cache.c",
	"src/microprotocols.c",
	"src/prepare_protocol.c",
	"src/statement.c",
	"src/util.c",
	"src/row.c",
	"src/connection_vfs.c",
	"src/inherit_vfs.c",
	"src/vfs.c",
}

// ModuleNameMacro defines MODULE_NAME as a C string literal. Windows
// toolchains need the quotes escaped.
func ModuleNameMacro(platform types.Platform, name string) types.FeatureMacro {
	if name == "" {
		name = DefaultModuleName
	}
	if platform.IsWindows() {
		return types.DefineValue("MODULE_NAME", `\"`+name+`\"`)
	}
	return types.DefineValue("MODULE_NAME", `"`+name+`"`)
}

// CompilationUnitSet is the full description handed to the compiler.
// It is immutable; accessors return copies.
type CompilationUnitSet struct {
	strategy           types.BuildStrategy
	sources            []string
	includeDirs        []string
	libraryDirs        []string
	libraries          []string
	runtimeLibraryDirs []string
	extraObjects       []string
	macros             []types.FeatureMacro
}

func (s CompilationUnitSet) Strategy() types.BuildStrategy { return s.strategy }
func (s CompilationUnitSet) Sources() []string             { return clone(s.sources) }
func (s CompilationUnitSet) IncludeDirs() []string         { return clone(s.includeDirs) }
func (s CompilationUnitSet) LibraryDirs() []string         { return clone(s.libraryDirs) }
func (s CompilationUnitSet) Libraries() []string           { return clone(s.libraries) }
func (s CompilationUnitSet) RuntimeLibraryDirs() []string  { return clone(s.runtimeLibraryDirs) }
func (s CompilationUnitSet) ExtraObjects() []string        { return clone(s.extraObjects) }

func (s CompilationUnitSet) Macros() []types.FeatureMacro {
	out := make([]types.FeatureMacro, len(s.macros))
	copy(out, s.macros)
	return out
}

// Macro looks up a macro by name
func (s CompilationUnitSet) Macro(name string) (types.FeatureMacro, bool) {
	for _, m := range s.macros {
		if m.Name == name {
			return m, true
		}
	}
	return types.FeatureMacro{}, false
}

// HasSource reports whether a source path ends with suffix
func (s CompilationUnitSet) HasSource(suffix string) bool {
	for _, src := range s.sources {
		if strings.HasSuffix(src, suffix) {
			return true
		}
	}
	return false
}

// Builder accumulates a CompilationUnitSet. Once LockLibraries is called,
// SetLibraries and AddLibraries are ignored: a bundled engine must never
// pick up a system copy through a library added later.
type Builder struct {
	set    CompilationUnitSet
	locked bool
}

// NewBuilder starts an empty set for strategy
func NewBuilder(strategy types.BuildStrategy) *Builder {
	return &Builder{set: CompilationUnitSet{strategy: strategy}}
}

func (b *Builder) AddSources(paths ...string) *Builder {
	b.set.sources = appendUnique(b.set.sources, paths...)
	return b
}

func (b *Builder) AddIncludeDirs(dirs ...string) *Builder {
	b.set.includeDirs = appendUnique(b.set.includeDirs, dirs...)
	return b
}

func (b *Builder) AddLibraryDirs(dirs ...string) *Builder {
	b.set.libraryDirs = appendUnique(b.set.libraryDirs, dirs...)
	return b
}

func (b *Builder) AddRuntimeLibraryDirs(dirs ...string) *Builder {
	b.set.runtimeLibraryDirs = appendUnique(b.set.runtimeLibraryDirs, dirs...)
	return b
}

func (b *Builder) AddExtraObjects(paths ...string) *Builder {
	b.set.extraObjects = appendUnique(b.set.extraObjects, paths...)
	return b
}

// AddMacros appends macros, replacing an earlier macro of the same name
func (b *Builder) AddMacros(ms ...types.FeatureMacro) *Builder {
	for _, m := range ms {
		replaced := false
		for i := range b.set.macros {
			if b.set.macros[i].Name == m.Name {
				b.set.macros[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			b.set.macros = append(b.set.macros, m)
		}
	}
	return b
}

// SetLibraries replaces the link libraries unless they are locked
func (b *Builder) SetLibraries(libs ...string) *Builder {
	if b.locked {
		return b
	}
	b.set.libraries = appendUnique(nil, libs...)
	return b
}

// AddLibraries appends link libraries unless they are locked
func (b *Builder) AddLibraries(libs ...string) *Builder {
	if b.locked {
		return b
	}
	b.set.libraries = appendUnique(b.set.libraries, libs...)
	return b
}

// LockLibraries freezes the current library list
func (b *Builder) LockLibraries() *Builder {
	b.locked = true
	return b
}

// LibrariesLocked reports whether library changes are ignored
func (b *Builder) LibrariesLocked() bool {
	return b.locked
}

// Build returns a snapshot; later builder calls do not affect it
func (b *Builder) Build() CompilationUnitSet {
	s := b.set
	s.sources = clone(s.sources)
	s.includeDirs = clone(s.includeDirs)
	s.libraryDirs = clone(s.libraryDirs)
	s.libraries = clone(s.libraries)
	s.runtimeLibraryDirs = clone(s.runtimeLibraryDirs)
	s.extraObjects = clone(s.extraObjects)
	s.macros = append([]types.FeatureMacro(nil), s.macros...)
	return s
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		if item == "" {
			continue
		}
		found := false
		for _, existing := range dst {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, item)
		}
	}
	return dst
}

func clone(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
