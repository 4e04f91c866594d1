// Package itemnorm implements the Item Normalizer contract from spec.md §6:
// a per-format function that turns one input file's records into output
// rows (written through a bound Load Storage instance) and a partial
// schema delta. Grounded on the teacher's worker.Task design in that each
// normalizer is a small, stateless-per-call value constructed once and
// reused across files of the same format within a worker task.
package itemnorm

import (
	"fmt"

	"github.com/ChuLiYu/beaver-normalize/internal/loadstore"
	"github.com/ChuLiYu/beaver-normalize/pkg/schema"
	"github.com/ChuLiYu/beaver-normalize/pkg/types"
)

// Result is what one Normalize call reports back to the worker task,
// matching spec.md §4.3's per-file accumulation step.
type Result struct {
	SchemaUpdates schema.SchemaUpdate
	ItemsCount    int
	RowCounts     types.RowCount
}

// Normalizer is the item-normalizer contract (spec.md §6): given a source
// file and the table name it was filed under, produce output rows (as a
// side effect on the bound destination) and report the schema delta those
// rows imply. schemaName is not part of the external contract in spec.md
// §6 (which only names file_path and root_table_name) but is threaded
// through here because the destination's unique output filenames are
// scoped by schema, and the worker already has it on hand from parsing
// the input filename.
type Normalizer interface {
	Normalize(loadID, schemaName, filePath, rootTableName string) (Result, error)
}

// LineError attaches the source file and a 1-based line number to an
// underlying error, so the worker can log "filename + line number" for a
// normalizer failure per spec.md §4.3 step 5 without every caller having to
// thread that context through manually.
type LineError struct {
	File string
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// New selects the canonical implementation for an input file format:
// columnar files get the columnar normalizer, everything else gets the
// line-oriented one (spec.md §4.3 step 3c — dispatch is keyed on the
// *input* format, never on the destination's write format).
func New(inputFormat types.LoaderFileFormat, dest *loadstore.Storage) (Normalizer, error) {
	switch inputFormat {
	case types.FormatParquet:
		return NewParquetNormalizer(dest), nil
	default:
		return NewJSONLNormalizer(dest), nil
	}
}
