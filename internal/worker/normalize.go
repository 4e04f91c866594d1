package worker

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ChuLiYu/beaver-normalize/internal/itemnorm"
	"github.com/ChuLiYu/beaver-normalize/internal/loadstore"
	"github.com/ChuLiYu/beaver-normalize/internal/normstore"
	"github.com/ChuLiYu/beaver-normalize/pkg/schema"
	"github.com/ChuLiYu/beaver-normalize/pkg/types"
)

var log = slog.Default()

// Config is the value-form configuration a task needs, shipped across the
// goroutine boundary the same way the teacher ships Task.Payload rather
// than a live handle.
type Config struct {
	Load         loadstore.Config
	Capabilities types.DestinationCapabilities
}

// TaskResult is Component E's output tuple from spec.md §4.3: schema
// deltas, a total item count, every file this task's writers closed, and
// per-table row counts.
type TaskResult struct {
	SchemaUpdates schema.SchemaUpdate
	TotalItems    int
	ClosedFiles   []string
	RowCounts     types.RowCount
}

// NormalizeFiles is the stateless worker task (spec.md §4.3). It is a pure
// function of its inputs up to filesystem side effects confined to the
// temp load directory for loadID; it never touches the coordinator's live
// Schema, only the immutable snapshot passed in.
func NormalizeFiles(cfg Config, schemaSnapshot schema.StoredSchema, loadID string, files []string) (result TaskResult, err error) {
	sch := schema.FromStoredSchema(schemaSnapshot)

	destByFormat := map[types.LoaderFileFormat]*loadstore.Storage{}
	normalizerByFormat := map[types.LoaderFileFormat]itemnorm.Normalizer{}

	getDest := func(format types.LoaderFileFormat) *loadstore.Storage {
		if st, ok := destByFormat[format]; ok {
			return st
		}
		supported := cfg.Capabilities.SupportedLoaderFileFormats
		if format == types.FormatArrow {
			caps := cfg.Capabilities.Clone()
			caps.SupportedLoaderFileFormats[types.FormatArrow] = true
			supported = caps.SupportedLoaderFileFormats
		}
		st := loadstore.New(false, format, supported, cfg.Load)
		destByFormat[format] = st
		return st
	}

	getNormalizer := func(inputFormat types.LoaderFileFormat, dest *loadstore.Storage) (itemnorm.Normalizer, error) {
		if n, ok := normalizerByFormat[inputFormat]; ok {
			return n, nil
		}
		n, nerr := itemnorm.New(inputFormat, dest)
		if nerr != nil {
			return nil, nerr
		}
		normalizerByFormat[inputFormat] = n
		return n, nil
	}

	// Per spec.md §4: write_empty_file always goes through the default Load
	// Storage keyed by the destination's preferred format, not whatever
	// per-input-file storage happens to exist — resolved once up front
	// (SPEC_FULL.md §4, ported from normalize.py's _get_load_storage call
	// before the per-file loop).
	defaultDest := getDest(cfg.Capabilities.PreferredFormat())

	defer func() {
		for _, dest := range destByFormat {
			if closeErr := dest.CloseWriters(loadID); closeErr != nil && err == nil {
				err = fmt.Errorf("worker: close writers: %w", closeErr)
			}
			result.ClosedFiles = append(result.ClosedFiles, dest.ClosedFiles()...)
		}
	}()

	var schemaUpdates []schema.SchemaUpdate
	rowCounts := types.RowCount{}
	rootTables := map[string]bool{}
	populated := map[string]bool{}
	var schemaName string

	for _, path := range files {
		parsed, perr := normstore.ParseNormalizeFileName(filepath.Base(path))
		if perr != nil {
			log.Error("malformed extracted file name", "file", path, "error", perr)
			err = perr
			return
		}
		schemaName = parsed.SchemaName
		tableName := sch.Naming.NormalizeTableIdentifier(parsed.TableName)
		rootTables[tableName] = true

		writeFormat := cfg.Capabilities.PreferredFormat()
		if parsed.FileFormat == types.FormatParquet && cfg.Capabilities.Supports(types.FormatParquet) {
			writeFormat = types.FormatArrow
		}
		dest := getDest(writeFormat)

		normalizer, nerr := getNormalizer(parsed.FileFormat, dest)
		if nerr != nil {
			log.Error("no normalizer for file format", "file", path, "format", parsed.FileFormat, "error", nerr)
			err = nerr
			return
		}

		fileResult, ferr := normalizer.Normalize(loadID, parsed.SchemaName, path, tableName)
		if ferr != nil {
			log.Error("item normalizer failed", "file", path, "error", ferr)
			err = ferr
			return
		}
		if fileResult.SchemaUpdates != nil {
			schemaUpdates = append(schemaUpdates, fileResult.SchemaUpdates)
		}
		result.TotalItems += fileResult.ItemsCount
		rowCounts = types.Merge(rowCounts, fileResult.RowCounts)
		if fileResult.RowCounts[tableName] > 0 {
			populated[tableName] = true
		}
	}

	for table := range rootTables {
		if populated[table] {
			continue
		}
		columns := sch.GetTableColumns(table)
		if columns == nil {
			continue // seen only as a filename; never defined in the schema
		}
		if werr := defaultDest.WriteEmptyFile(loadID, schemaName, table, columns); werr != nil {
			log.Error("write empty file failed", "table", table, "error", werr)
			err = werr
			return
		}
	}

	result.SchemaUpdates = schema.MergeSchemaUpdates(schemaUpdates)
	result.RowCounts = rowCounts
	return
}
