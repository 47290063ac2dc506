package pkgconfig

import (
	"sort"
	"strings"
)

// FeatureSet is the set of feature tags a package declares
type FeatureSet map[string]struct{}

// Has reports whether tag is declared
func (s FeatureSet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Sorted returns the tags in lexical order
func (s FeatureSet) Sorted() []string {
	tags := make([]string, 0, len(s))
	for t := range s {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// ParseFeatures splits a features variable on commas and whitespace
func ParseFeatures(text string) FeatureSet {
	set := make(FeatureSet)
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Flags are the search paths and libraries pkg-config reports for a package
type Flags struct {
	IncludeDirs []string `json:"includeDirs" yaml:"includeDirs"`
	LibraryDirs []string `json:"libraryDirs" yaml:"libraryDirs"`
	Libraries   []string `json:"libraries" yaml:"libraries"`
}

// ParseFlags partitions combined --cflags --libs output by prefix: -I into
// include dirs, -L into library dirs, -l into libraries. Order of first
// appearance is kept, repeats are dropped and any other token is ignored.
func ParseFlags(text string) Flags {
	var flags Flags
	seen := map[string]struct{}{}

	add := func(dst *[]string, kind, value string) {
		if value == "" {
			return
		}
		key := kind + value
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		*dst = append(*dst, value)
	}

	for _, token := range strings.Fields(text) {
		switch {
		case strings.HasPrefix(token, "-I"):
			add(&flags.IncludeDirs, "I", token[2:])
		case strings.HasPrefix(token, "-L"):
			add(&flags.LibraryDirs, "L", token[2:])
		case strings.HasPrefix(token, "-l"):
			add(&flags.Libraries, "l", token[2:])
		}
	}

	return flags
}
