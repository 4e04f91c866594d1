// Package normstore is the read side of the normalize stage's storage:
// it enumerates pending extracted files, parses and builds their names,
// groups them by schema, and deletes them once a load package has been
// committed. Grounded on the teacher's internal/storage/wal file-scanning
// helpers, generalized from "scan one WAL file" to "scan a directory of
// many small extracted-item files".
package normstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ChuLiYu/beaver-normalize/pkg/types"
)

// ErrMalformedFileName is raised when an extracted file's name does not
// match the grammar in spec.md §6.
var ErrMalformedFileName = errors.New("normstore: malformed extracted file name")

// Config is the (serializable) configuration handed to worker goroutines,
// mirroring the teacher's practice of shipping a small config value rather
// than a live storage handle across a goroutine boundary.
type Config struct {
	ExtractedDir string
}

// Storage is the Normalize Storage component (spec.md §4.1). A read-only
// instance is safe to construct fresh inside every worker; the run driver
// keeps one long-lived instance too.
type Storage struct {
	cfg Config
}

// New constructs a Storage over the given config.
func New(cfg Config) *Storage {
	return &Storage{cfg: cfg}
}

// Config returns the value-form configuration, for shipping to workers.
func (s *Storage) Config() Config { return s.cfg }

// ListFilesToNormalizeSorted enumerates all pending extracted files,
// returning their full paths in a total, stable order (lexicographic by
// filename, which sorts by schema name then table name — required for
// GroupBySchema to work, per spec.md §4.1).
func (s *Storage) ListFilesToNormalizeSorted() ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(s.cfg.ExtractedDir), "*")
	if err != nil {
		return nil, fmt.Errorf("normstore: glob: %w", err)
	}
	sort.Strings(matches)
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		files = append(files, filepath.Join(s.cfg.ExtractedDir, m))
	}
	return files, nil
}

// SchemaGroup is one (schema_name, files) pair yielded by GroupBySchema.
type SchemaGroup struct {
	SchemaName string
	Files      []string
}

// GroupBySchema groups a pre-sorted file list into contiguous runs sharing
// the same schema name, in the order schemas first appear. Input must
// already be sorted by filename (spec.md §4.1).
func (s *Storage) GroupBySchema(files []string) ([]SchemaGroup, error) {
	var groups []SchemaGroup
	for _, f := range files {
		parsed, err := ParseNormalizeFileName(filepath.Base(f))
		if err != nil {
			return nil, err
		}
		if len(groups) > 0 && groups[len(groups)-1].SchemaName == parsed.SchemaName {
			last := &groups[len(groups)-1]
			last.Files = append(last.Files, f)
			continue
		}
		groups = append(groups, SchemaGroup{SchemaName: parsed.SchemaName, Files: []string{f}})
	}
	return groups, nil
}

// ParseNormalizeFileName decomposes a filename per the grammar in spec.md
// §6: <schema_name> "." <table_name> "." <file_format> "." <uniq_id> "." <ext>
func ParseNormalizeFileName(name string) (types.ParsedFileName, error) {
	parts := strings.Split(name, ".")
	if len(parts) != 5 {
		return types.ParsedFileName{}, fmt.Errorf("%w: %q", ErrMalformedFileName, name)
	}
	for _, p := range parts {
		if p == "" {
			return types.ParsedFileName{}, fmt.Errorf("%w: %q", ErrMalformedFileName, name)
		}
	}
	return types.ParsedFileName{
		SchemaName: parts[0],
		TableName:  parts[1],
		FileFormat: types.LoaderFileFormat(parts[2]),
		UniqID:     parts[3],
		Ext:        parts[4],
	}, nil
}

// BuildNormalizeFileName is the inverse of ParseNormalizeFileName, used by
// tests to assert the round-trip invariant in spec.md §8.6 and by anything
// that needs to synthesize an extracted file name.
func BuildNormalizeFileName(p types.ParsedFileName) string {
	return p.FileName()
}

// DeleteExtractedFiles best-effort removes the given files. Missing files
// are not an error (idempotent over repeated/partial runs, spec.md §4.1).
func (s *Storage) DeleteExtractedFiles(files []string) error {
	var firstErr error
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("normstore: delete %s: %w", f, err)
			}
		}
	}
	return firstErr
}
