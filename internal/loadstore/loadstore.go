// Package loadstore is the write side of the normalize stage's storage
// (spec.md §4.2): per-format writers, the temp load-package directory, and
// the atomic commit that makes a package visible to the loader. Grounded
// on the teacher's internal/snapshot/snapshot_manager.go atomic
// temp-file-then-rename technique, generalized from "one JSON file" to
// "a directory of many output files plus two bookkeeping files".
package loadstore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ChuLiYu/beaver-normalize/pkg/schema"
	"github.com/ChuLiYu/beaver-normalize/pkg/types"
)

// tableKey identifies one output file's writer within a single Storage
// instance (one load_id, one table — a Storage instance only ever writes
// one format, so format is not part of the key).
type tableKey struct {
	loadID    string
	tableName string
}

// Storage is the Load Storage component. The run driver holds a read-only
// instance (readOnly true) as its bookkeeping handle for creating, filling
// and committing the temp load package; workers materialize writable
// instances, one per write format.
type Storage struct {
	cfg       Config
	readOnly  bool
	format    types.LoaderFileFormat
	supported map[types.LoaderFileFormat]bool

	mu      sync.Mutex
	writers map[tableKey]tableWriter
	closed  []string
}

// New constructs a Load Storage instance. format is the write format this
// instance serializes rows into. readOnly is recorded but not checked: no
// method refuses to write on a read-only instance.
func New(readOnly bool, format types.LoaderFileFormat, supported map[types.LoaderFileFormat]bool, cfg Config) *Storage {
	return &Storage{
		cfg:       cfg,
		readOnly:  readOnly,
		format:    format,
		supported: supported,
		writers:   map[tableKey]tableWriter{},
	}
}

// Config returns the value-form configuration, for shipping to workers.
func (s *Storage) Config() Config { return s.cfg }

// Format returns the write format this instance serializes into.
func (s *Storage) Format() types.LoaderFileFormat { return s.format }

func (s *Storage) tempDir(loadID string) string {
	dir := filepath.Join(s.cfg.TempDir, loadID)
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

func (s *Storage) processingDir(loadID string) string {
	return filepath.Join(s.cfg.ProcessingDir, loadID)
}

// CreateTempLoadPackage creates temp/<load_id>/ for a fresh load. It is
// idempotent over crashes: if the directory already exists (a prior,
// abandoned attempt at this load_id), its contents are purged first
// (spec.md §4.2).
func (s *Storage) CreateTempLoadPackage(loadID string) error {
	dir := s.tempDir(loadID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("loadstore: purge temp package %s: %w", loadID, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("loadstore: create temp package %s: %w", loadID, err)
	}
	return nil
}

func (s *Storage) writerFor(loadID, schemaName, tableName string, columns map[string]schema.Column) (tableWriter, error) {
	key := tableKey{loadID: loadID, tableName: tableName}
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.writers[key]; ok {
		return w, nil
	}
	ext := s.format.Extension()
	path := filepath.Join(s.tempDir(loadID), uniqueFileName(schemaName, tableName, string(s.format), ext))
	var (
		w   tableWriter
		err error
	)
	switch s.format {
	case types.FormatParquet, types.FormatArrow:
		w, err = newParquetTableWriter(path, columns)
	default:
		w, err = newJSONLTableWriter(path)
	}
	if err != nil {
		return nil, err
	}
	s.writers[key] = w
	return w, nil
}

// WriteRow writes one row to the table's output file for this instance's
// write format, creating the writer on first use.
func (s *Storage) WriteRow(loadID, schemaName, tableName string, columns map[string]schema.Column, row map[string]interface{}) error {
	w, err := s.writerFor(loadID, schemaName, tableName, columns)
	if err != nil {
		return err
	}
	return w.WriteRow(row)
}

// WriteEmptyFile emits a zero-row file in this instance's write format for
// a table that exists in the schema but received no rows this load
// (spec.md §4.2, §4.3 step 4).
func (s *Storage) WriteEmptyFile(loadID, schemaName, tableName string, columns map[string]schema.Column) error {
	_, err := s.writerFor(loadID, schemaName, tableName, columns)
	return err
}

// CopyColumnarPassthrough copies a source parquet file's bytes verbatim
// into a new output file under this load package — the "arrow" write-side
// hint from spec.md §3: when input is already columnar and the
// destination accepts columnar input directly, re-encoding row by row
// would be pure overhead.
func (s *Storage) CopyColumnarPassthrough(loadID, schemaName, tableName, srcPath string) (string, error) {
	path := filepath.Join(s.tempDir(loadID), uniqueFileName(schemaName, tableName, string(types.FormatArrow), types.FormatArrow.Extension()))
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("loadstore: open passthrough source %s: %w", srcPath, err)
	}
	defer src.Close()
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("loadstore: create passthrough dest %s: %w", path, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("loadstore: copy passthrough %s: %w", srcPath, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("loadstore: close passthrough dest %s: %w", path, err)
	}
	s.mu.Lock()
	s.closed = append(s.closed, path)
	s.mu.Unlock()
	return path, nil
}

// CloseWriters finalizes every writer this instance opened for loadID.
// Must be called on every exit path, success or failure (spec.md §4.3
// step 5).
func (s *Storage) CloseWriters(loadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for key, w := range s.writers {
		if key.loadID != loadID {
			continue
		}
		path, err := w.Close()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.closed = append(s.closed, path)
		delete(s.writers, key)
	}
	return firstErr
}

// ClosedFiles returns the absolute paths written and closed by this
// instance so far, across all loads.
func (s *Storage) ClosedFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.closed))
	copy(out, s.closed)
	return out
}

// SaveTempSchema serializes a schema snapshot into the temp load package
// (spec.md §4.5 step 5).
func (s *Storage) SaveTempSchema(sch *schema.Schema, loadID string) error {
	data, err := json.MarshalIndent(sch.ToDict(), "", "  ")
	if err != nil {
		return fmt.Errorf("loadstore: marshal schema snapshot: %w", err)
	}
	return os.WriteFile(filepath.Join(s.tempDir(loadID), "schema.json"), data, 0o644)
}

// SaveTempSchemaUpdates serializes the merged schema update list into the
// temp load package, even when empty.
func (s *Storage) SaveTempSchemaUpdates(loadID string, merged schema.SchemaUpdate) error {
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("loadstore: marshal schema updates: %w", err)
	}
	return os.WriteFile(filepath.Join(s.tempDir(loadID), "schema_updates.json"), data, 0o644)
}

// CommitTempLoadPackage atomically renames temp/<load_id> to
// processing/<load_id>. It is the only operation that publishes a load
// package; a crash before it leaves no loader-visible state (spec.md §4.2
// invariant, §8.2).
func (s *Storage) CommitTempLoadPackage(loadID string) error {
	if err := os.MkdirAll(s.cfg.ProcessingDir, 0o755); err != nil {
		return fmt.Errorf("loadstore: create processing dir: %w", err)
	}
	if err := os.Rename(s.tempDir(loadID), s.processingDir(loadID)); err != nil {
		return fmt.Errorf("loadstore: commit %s: %w", loadID, err)
	}
	return nil
}
