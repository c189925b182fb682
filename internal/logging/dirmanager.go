// Package logging implements the run-scoped logging substrate: the
// directory manager, per-component structured loggers, and the append-only
// JSONL domain-event writer (spec §4.8).
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/basistrade/engine/internal/domain/errorcode"
)

// RunMetadata describes one engine run, written to run_metadata.json at
// directory creation and updated at shutdown (spec §4.8, §6).
type RunMetadata struct {
	CorrelationID string    `json:"correlation_id"`
	PID           int       `json:"pid"`
	Mode          string    `json:"mode"`
	Capital       string    `json:"capital"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	ExitStatus    string    `json:"exit_status,omitempty"`
}

// DirectoryManager creates and owns the run-scoped directory tree
// logs/<correlation_id>/<pid>/ with an events/ subdirectory (spec §4.8).
type DirectoryManager struct {
	root     string // logs/<correlation_id>/<pid>
	eventsDir string
	metaPath string
}

// NewDirectoryManager creates the directory tree and writes the initial
// run_metadata.json. A directory creation failure is LOG-002, CRITICAL:
// without a log directory the run cannot be audited at all. A failure to
// write the metadata file is LOG-001, HIGH.
func NewDirectoryManager(baseDir, correlationID string, pid int, meta RunMetadata) (*DirectoryManager, error) {
	root := filepath.Join(baseDir, correlationID, fmt.Sprint(pid))
	eventsDir := filepath.Join(root, "events")
	if err := os.MkdirAll(eventsDir, 0o755); err != nil {
		return nil, errorcode.Wrap(errorcode.LogDirCreateFailure, errorcode.Critical,
			"failed to create run log directory", err)
	}

	dm := &DirectoryManager{root: root, eventsDir: eventsDir, metaPath: filepath.Join(root, "run_metadata.json")}
	if err := dm.writeMetadata(meta); err != nil {
		return nil, err
	}
	return dm, nil
}

// RootDir returns logs/<correlation_id>/<pid>.
func (d *DirectoryManager) RootDir() string { return d.root }

// EventsDir returns logs/<correlation_id>/<pid>/events.
func (d *DirectoryManager) EventsDir() string { return d.eventsDir }

// ComponentLogPath returns the path for a given component's structured log
// file, <component>.log under the run root.
func (d *DirectoryManager) ComponentLogPath(component string) string {
	return filepath.Join(d.root, component+".log")
}

func (d *DirectoryManager) writeMetadata(meta RunMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errorcode.Wrap(errorcode.LogWriteFailure, errorcode.High, "failed to marshal run metadata", err)
	}
	if err := os.WriteFile(d.metaPath, data, 0o644); err != nil {
		return errorcode.Wrap(errorcode.LogWriteFailure, errorcode.High, "failed to write run metadata", err)
	}
	return nil
}

// WriteShutdownMetadata re-writes run_metadata.json with the finish time
// and exit status, called once by Engine.shutdown.
func (d *DirectoryManager) WriteShutdownMetadata(meta RunMetadata) error {
	return d.writeMetadata(meta)
}
