// Package types defines the core value types shared across the normalize
// pipeline: extracted-file identity, the loader file format enumeration,
// destination capabilities, row counts, and schema update deltas.
package types

import (
	"fmt"
)

// LoaderFileFormat is the closed enumeration of formats a load package's
// output files can be written in.
type LoaderFileFormat string

const (
	// FormatJSONL is row-oriented text, one JSON object per line.
	FormatJSONL LoaderFileFormat = "jsonl"
	// FormatParquet is columnar binary.
	FormatParquet LoaderFileFormat = "parquet"
	// FormatArrow is a write-side-only hint: "write this table as a
	// columnar passthrough" when the destination accepts it directly.
	// It never appears on the read side of a filename.
	FormatArrow LoaderFileFormat = "arrow"
)

// fileExtensions maps a format to the extension used for files written in
// that format. Input extraction files are always named with their true
// format's extension; output load-package files use this table.
var fileExtensions = map[LoaderFileFormat]string{
	FormatJSONL:   "jsonl",
	FormatParquet: "parquet",
	FormatArrow:   "parquet",
}

// Extension returns the filename extension conventionally used for files
// written in this format.
func (f LoaderFileFormat) Extension() string {
	if ext, ok := fileExtensions[f]; ok {
		return ext
	}
	return string(f)
}

// DestinationCapabilities is an immutable per-run descriptor of what the
// downstream loader accepts. Invariant: at least one of
// PreferredLoaderFileFormat / PreferredStagingFileFormat is non-empty.
type DestinationCapabilities struct {
	PreferredLoaderFileFormat  LoaderFileFormat
	PreferredStagingFileFormat LoaderFileFormat
	SupportedLoaderFileFormats map[LoaderFileFormat]bool
}

// PreferredFormat resolves the fallback rule in spec.md §4.3 step 2:
// prefer the loader format, falling back to the staging format when the
// loader format is unset.
func (d DestinationCapabilities) PreferredFormat() LoaderFileFormat {
	if d.PreferredLoaderFileFormat != "" {
		return d.PreferredLoaderFileFormat
	}
	return d.PreferredStagingFileFormat
}

// Supports reports whether the destination accepts a given loader file
// format directly.
func (d DestinationCapabilities) Supports(f LoaderFileFormat) bool {
	return d.SupportedLoaderFileFormats != nil && d.SupportedLoaderFileFormats[f]
}

// Clone returns a deep copy safe to hand to a worker and mutate locally
// (workers augment the supported-format set with "arrow" on the fly; see
// spec.md §4.3 step 2).
func (d DestinationCapabilities) Clone() DestinationCapabilities {
	supported := make(map[LoaderFileFormat]bool, len(d.SupportedLoaderFileFormats))
	for k, v := range d.SupportedLoaderFileFormats {
		supported[k] = v
	}
	return DestinationCapabilities{
		PreferredLoaderFileFormat:  d.PreferredLoaderFileFormat,
		PreferredStagingFileFormat: d.PreferredStagingFileFormat,
		SupportedLoaderFileFormats: supported,
	}
}

// ParsedFileName is the decomposition of an extracted file's name, per
// spec.md §6's filename grammar:
// <schema_name> "." <table_name> "." <file_format> "." <uniq_id> "." <ext>
type ParsedFileName struct {
	SchemaName string
	TableName  string
	FileFormat LoaderFileFormat
	UniqID     string
	Ext        string
}

// FileName reconstructs the filename this was parsed from. Used to assert
// the parse/build round trip invariant (spec.md §8.6).
func (p ParsedFileName) FileName() string {
	return fmt.Sprintf("%s.%s.%s.%s.%s", p.SchemaName, p.TableName, p.FileFormat, p.UniqID, p.Ext)
}

// RowCount maps table name to a non-negative row count. Merging two
// RowCounts is per-key addition (spec.md §3, §8.5).
type RowCount map[string]int

// Merge adds delta's counts into r in place, returning r for chaining.
func Merge(r RowCount, delta RowCount) RowCount {
	if r == nil {
		r = RowCount{}
	}
	for table, count := range delta {
		r[table] += count
	}
	return r
}

// Increase bumps a single table's count by delta (possibly zero), creating
// the entry if absent. This is how a root table with no rows still ends up
// represented in RowCount (spec.md §4.3 step 3f).
func Increase(r RowCount, table string, delta int) {
	r[table] += delta
}
