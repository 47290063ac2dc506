// Package state records how a staged amalgamation was produced and
// detects when it no longer matches the current macro set
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pysqlcipher/amalgam/pkg/logger"
	"github.com/pysqlcipher/amalgam/pkg/types"
	"github.com/pysqlcipher/amalgam/pkg/utils"
)

// StampFile is written next to the staged files
const StampFile = ".amalgamation.json"

// Stamp describes one regeneration run
type Stamp struct {
	RunID             string            `json:"runId"`
	Source            string            `json:"source"`
	MacroFingerprint  string            `json:"macroFingerprint"`
	MacroTableVersion int               `json:"macroTableVersion"`
	Files             map[string]string `json:"files"`
	GeneratedAt       time.Time         `json:"generatedAt"`
	ToolVersion       string            `json:"toolVersion,omitempty"`
}

// Report is the outcome of inspecting an amalgamation directory
type Report struct {
	Dir      string
	Stamp    *Stamp
	Missing  []string
	Modified []string
	// Reason is empty when the amalgamation is fresh
	Reason string
}

// Fresh reports whether the amalgamation can be bundled as is
func (r *Report) Fresh() bool {
	return len(r.Missing) == 0 && r.Reason == ""
}

// Err converts the report into the matching sentinel error
func (r *Report) Err() error {
	switch {
	case len(r.Missing) > 0:
		return fmt.Errorf("%w: %s lacks %s; run update-amalgamation",
			types.ErrAmalgamationMissing, r.Dir, strings.Join(r.Missing, ", "))
	case r.Reason != "":
		return fmt.Errorf("%w: %s; run update-amalgamation", types.ErrStaleAmalgamation, r.Reason)
	default:
		return nil
	}
}

// StampManager reads and writes the stamp of an amalgamation directory
type StampManager struct {
	dir    string
	logger logger.Logger
	fs     *utils.FileSystemUtils
}

// NewStampManager creates a manager for dir
func NewStampManager(dir string, log logger.Logger) *StampManager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &StampManager{
		dir:    dir,
		logger: log.WithTarget("state"),
		fs:     utils.NewFileSystemUtils(),
	}
}

// Dir returns the amalgamation directory
func (sm *StampManager) Dir() string {
	return sm.dir
}

func (sm *StampManager) stampPath() string {
	return filepath.Join(sm.dir, StampFile)
}

// Record digests files (names relative to the directory) and writes stamp atomically
func (sm *StampManager) Record(stamp Stamp, files []string) (*Stamp, error) {
	stamp.Files = make(map[string]string, len(files))
	for _, name := range files {
		digest, err := sm.fs.GetFileHash(filepath.Join(sm.dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to digest %s: %w", name, err)
		}
		stamp.Files[name] = digest
	}
	if stamp.GeneratedAt.IsZero() {
		stamp.GeneratedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(&stamp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stamp: %w", err)
	}
	if err := sm.fs.WriteFile(sm.stampPath(), data); err != nil {
		return nil, fmt.Errorf("failed to write stamp: %w", err)
	}

	sm.logger.Debug("Wrote stamp", logger.WithField("path", sm.stampPath()))
	return &stamp, nil
}

// Read loads the stamp. A missing stamp yields an error matching os.ErrNotExist.
func (sm *StampManager) Read() (*Stamp, error) {
	data, err := os.ReadFile(sm.stampPath())
	if err != nil {
		return nil, err
	}

	var stamp Stamp
	if err := json.Unmarshal(data, &stamp); err != nil {
		return nil, fmt.Errorf("failed to parse stamp: %w", err)
	}
	return &stamp, nil
}

// Inspect compares the directory against the required files and the
// current macro fingerprint and table version
func (sm *StampManager) Inspect(required []string, fingerprint string, tableVersion int) *Report {
	report := &Report{Dir: sm.dir}

	for _, name := range required {
		if !utils.FileExists(filepath.Join(sm.dir, name)) {
			report.Missing = append(report.Missing, name)
		}
	}
	if len(report.Missing) > 0 {
		return report
	}

	stamp, err := sm.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			report.Reason = "no " + StampFile + " records how the files were generated"
		} else {
			report.Reason = err.Error()
		}
		return report
	}
	report.Stamp = stamp

	if stamp.MacroTableVersion != tableVersion || stamp.MacroFingerprint != fingerprint {
		report.Reason = fmt.Sprintf("generated with macro table v%d (%s), current is v%d (%s)",
			stamp.MacroTableVersion, short(stamp.MacroFingerprint), tableVersion, short(fingerprint))
		return report
	}

	names := make([]string, 0, len(stamp.Files))
	for name := range stamp.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		digest, err := sm.fs.GetFileHash(filepath.Join(sm.dir, name))
		if err != nil || digest != stamp.Files[name] {
			report.Modified = append(report.Modified, name)
		}
	}
	if len(report.Modified) > 0 {
		report.Reason = "modified since generation: " + strings.Join(report.Modified, ", ")
	}
	return report
}

// Check is Inspect reduced to an error
func (sm *StampManager) Check(required []string, fingerprint string, tableVersion int) error {
	return sm.Inspect(required, fingerprint, tableVersion).Err()
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
