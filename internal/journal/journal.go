// Package journal implements the per-task status journal: a durable,
// atomically-written JSON record per task key, used for crash recovery
// and selective re-execution by the scheduler.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// StatusData is the in-memory form of a journal entry. Per-executor
// output is arbitrary JSON, so the engine never forces a static schema
// on it - it is represented as a dynamic map.
type StatusData map[string]interface{}

// Reserved top-level keys.
const (
	KeyName   = "name"
	KeyParams = "params"
)

// Executor status values.
const (
	StatusSuccess = "SUCCESS"
	StatusSkipped = "SKIPPED"
)

// ErrorPrefix marks a recoverable per-executor failure, e.g.
// "ERROR RuntimeError::HTTP response 500".
const ErrorPrefix = "ERROR "

// CorruptJournalError is returned by Load/Scan when a journal file exists
// but does not parse as JSON.
type CorruptJournalError struct {
	Path string
	Err  error
}

func (e *CorruptJournalError) Error() string {
	return fmt.Sprintf("corrupt journal file %s: %v", e.Path, e.Err)
}

func (e *CorruptJournalError) Unwrap() error { return e.Err }

// fileName returns the journal file name ("<key>.status.json") for key.
func fileName(key string) string {
	return key + ".status.json"
}

// Path returns the on-disk path of the journal file for key under dir.
func Path(dir, key string) string {
	return filepath.Join(dir, fileName(key))
}

// Load reads and parses the journal entry for key. The second return
// value is false when the file does not exist - that is not an error.
func Load(dir, key string) (StatusData, bool, error) {
	path := Path(dir, key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read journal %s: %w", path, err)
	}

	var status StatusData
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, false, &CorruptJournalError{Path: path, Err: err}
	}
	return status, true, nil
}

// Save serializes status as indented JSON and installs it at the journal
// path for key using a write-temp-then-rename discipline, so a concurrent
// reader always observes either the previous content in full or the new
// content in full, never a partial write.
func Save(dir, key string, status StatusData) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create journal directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal for %s: %w", key, err)
	}

	final := Path(dir, key)
	tmp, err := os.CreateTemp(dir, fileName(key)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp journal file for %s: %w", key, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp journal file for %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp journal file for %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp journal file for %s: %w", key, err)
	}

	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("install journal file for %s: %w", key, err)
	}
	return nil
}

// ScanResult pairs a loaded entry's source path with a load error, so
// callers can tell which file was corrupt.
type ScanResult struct {
	Path   string
	Status StatusData
	Err    error
}

// Scan enumerates every *.status.json file in dir and loads each one.
// Corrupt files are reported in the result slice, not silently dropped.
func Scan(dir string) ([]ScanResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".status.json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	results := make([]ScanResult, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			results = append(results, ScanResult{Path: path, Err: fmt.Errorf("read journal %s: %w", path, err)})
			continue
		}
		var status StatusData
		if err := json.Unmarshal(data, &status); err != nil {
			results = append(results, ScanResult{Path: path, Err: &CorruptJournalError{Path: path, Err: err}})
			continue
		}
		results = append(results, ScanResult{Path: path, Status: status})
	}
	return results, nil
}

// New creates the initial journal entry content for a freshly admitted
// task: just name and params.
func New(key string, params map[string]interface{}) StatusData {
	return StatusData{
		KeyName:   key,
		KeyParams: params,
	}
}

// StatusKey returns the reserved status field name for executor name.
func StatusKey(name string) string { return name + "_status" }

// LastRunKey returns the reserved last-run field name for executor name.
func LastRunKey(name string) string { return name + "_last_run" }

// ExecutorStatus returns the current status string for executor name, or
// "" if the executor has never run.
func ExecutorStatus(status StatusData, name string) string {
	v, ok := status[StatusKey(name)]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// IsError reports whether a status string represents a recoverable
// per-executor error ("ERROR <kind>::<message>").
func IsError(status string) bool {
	return strings.HasPrefix(status, ErrorPrefix)
}

// Params extracts the params map from a journal entry, if present.
func Params(status StatusData) map[string]interface{} {
	v, ok := status[KeyParams]
	if !ok {
		return nil
	}
	p, _ := v.(map[string]interface{})
	return p
}
