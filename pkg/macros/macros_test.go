package macros_test

import (
	"strings"
	"testing"

	"github.com/pysqlcipher/amalgam/pkg/macros"
	"github.com/pysqlcipher/amalgam/pkg/types"
)

func TestDefines_FixedOrder(t *testing.T) {
	ms := macros.Defines()
	if len(ms) != 14 {
		t.Fatalf("expected 14 macros, got %d", len(ms))
	}
	if ms[0].Name != "SQLITE_SECURE_DELETE" {
		t.Errorf("expected first macro SQLITE_SECURE_DELETE, got %s", ms[0].Name)
	}
	if last := ms[len(ms)-1]; last.Name != "SQLITE_HAS_CODEC" || last.Value != nil {
		t.Errorf("expected SQLITE_HAS_CODEC flag last, got %s", last.Flag())
	}
}

func TestDefines_ReturnsCopy(t *testing.T) {
	first := macros.Defines()
	first[0] = types.Define("TAMPERED")

	second := macros.Defines()
	if second[0].Name != "SQLITE_SECURE_DELETE" {
		t.Error("mutating a returned table must not affect later calls")
	}
}

func TestCFlags(t *testing.T) {
	got := macros.CFlags(macros.Defines())

	if !strings.HasPrefix(got, "-DSQLITE_SECURE_DELETE -DSQLITE_ENABLE_COLUMN_METADATA ") {
		t.Errorf("unexpected prefix: %s", got)
	}
	if !strings.Contains(got, " -DSQLITE_MAX_VARIABLE_NUMBER=250000 ") {
		t.Errorf("expected valued macro in flags: %s", got)
	}
	if !strings.HasSuffix(got, "-DSQLITE_HAS_CODEC") {
		t.Errorf("unexpected suffix: %s", got)
	}
	if macros.CFlags(nil) != "" {
		t.Error("expected empty flags for empty table")
	}
}

func TestFingerprint(t *testing.T) {
	base := macros.Defines()
	fp := macros.Fingerprint(base)

	if len(fp) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(fp))
	}
	if fp != macros.Fingerprint(macros.Defines()) {
		t.Error("fingerprint must be stable across calls")
	}

	changed := macros.Defines()
	changed[8] = types.DefineValue("SQLITE_MAX_VARIABLE_NUMBER", "999")
	if macros.Fingerprint(changed) == fp {
		t.Error("changing a value must change the fingerprint")
	}

	reordered := macros.Defines()
	reordered[0], reordered[1] = reordered[1], reordered[0]
	if macros.Fingerprint(reordered) == fp {
		t.Error("reordering must change the fingerprint")
	}
}
