// Package macros holds the compile-time feature macros applied whenever the
// engine is built from source, both for the upstream configure step and for
// bundled builds that compile the staged amalgamation directly.
package macros

import (
	"encoding/hex"
	"strings"

	"github.com/pysqlcipher/amalgam/pkg/types"
	"golang.org/x/crypto/blake2b"
)

// TableVersion is bumped whenever the table below changes. Staged
// amalgamations record it next to the fingerprint.
const TableVersion = 1

// Defines returns the feature macro table in its fixed order. Each call
// returns a fresh slice.
func Defines() []types.FeatureMacro {
	return []types.FeatureMacro{
		// Debian/Ubuntu package 3.8.2-1
		types.Define("SQLITE_SECURE_DELETE"),
		types.Define("SQLITE_ENABLE_COLUMN_METADATA"),
		types.Define("SQLITE_ENABLE_FTS3"),
		types.Define("SQLITE_ENABLE_RTREE"),
		types.Define("SQLITE_SOUNDEX"),
		types.Define("SQLITE_ENABLE_UNLOCK_NOTIFY"),
		types.Define("SQLITE_OMIT_LOOKASIDE"),
		types.Define("SQLITE_ENABLE_UPDATE_DELETE_LIMIT"),
		types.DefineValue("SQLITE_MAX_VARIABLE_NUMBER", "250000"),

		// sqlite.org full-featured build
		types.Define("SQLITE_ENABLE_FTS4"),
		types.Define("SQLITE_ENABLE_FTS5"),
		types.Define("SQLITE_ENABLE_JSON1"),
		types.Define("SQLITE_ENABLE_EXPLAIN_COMMENTS"),

		// SQLCipher
		types.Define("SQLITE_HAS_CODEC"),
	}
}

// Flags renders each macro as a compiler flag, preserving order
func Flags(ms []types.FeatureMacro) []string {
	flags := make([]string, 0, len(ms))
	for _, m := range ms {
		flags = append(flags, m.Flag())
	}
	return flags
}

// CFlags renders the macros as a single CFLAGS value
func CFlags(ms []types.FeatureMacro) string {
	return strings.Join(Flags(ms), " ")
}

// Fingerprint returns a BLAKE2b-256 digest of the rendered flags. Any change
// in name, value or order changes the fingerprint.
func Fingerprint(ms []types.FeatureMacro) string {
	sum := blake2b.Sum256([]byte(strings.Join(Flags(ms), "\n")))
	return hex.EncodeToString(sum[:])
}
