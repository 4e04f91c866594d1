// Package schema implements the evolvable table/column catalog described in
// spec.md §3/§4.3 as a "black-box value type": a named, versioned
// collection of tables, each with columns that can only ever widen, plus
// the merge and conflict-detection semantics the coordinator depends on.
//
// Schema itself is not safe for concurrent mutation from multiple
// goroutines — per spec.md §9, it is owned exclusively by the coordinator,
// which is the sole mutator. Workers receive immutable value-form
// snapshots (StoredSchema) and hand back deltas (PartialTable) instead of
// touching a live Schema.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ColumnType is a small closed type lattice. Columns may only widen along
// the chain Bool < BigInt < Double < Text; Timestamp and JSON are leaves
// incomparable with the numeric chain and with each other.
type ColumnType string

const (
	Bool      ColumnType = "bool"
	BigInt    ColumnType = "bigint"
	Double    ColumnType = "double"
	Text      ColumnType = "text"
	Timestamp ColumnType = "timestamp"
	JSON      ColumnType = "json"
)

// numericRank orders the widening chain; types absent from this map are
// leaves that only coerce with themselves.
var numericRank = map[ColumnType]int{
	Bool:   0,
	BigInt: 1,
	Double: 2,
	Text:   3,
}

// Widen returns the widened type of (existing, incoming), or an error if
// the two types cannot be coerced into a common type.
func Widen(existing, incoming ColumnType) (ColumnType, error) {
	if existing == incoming {
		return existing, nil
	}
	er, eok := numericRank[existing]
	ir, iok := numericRank[incoming]
	if !eok || !iok {
		return "", fmt.Errorf("%w: %s and %s are not on the same coercion chain", ErrColumnCoercionConflict, existing, incoming)
	}
	if er >= ir {
		return existing, nil
	}
	return incoming, nil
}

// ErrColumnCoercionConflict is the sentinel wrapped by ColumnCoercionConflict.
var ErrColumnCoercionConflict = errors.New("column coercion conflict")

// ColumnCoercionConflict is raised by UpdateTable when an incoming column's
// type cannot be coerced into the existing one.
type ColumnCoercionConflict struct {
	Table    string
	Column   string
	Existing ColumnType
	Incoming ColumnType
}

func (c *ColumnCoercionConflict) Error() string {
	return fmt.Sprintf("column coercion conflict: table %q column %q: cannot coerce %s into %s",
		c.Table, c.Column, c.Incoming, c.Existing)
}

func (c *ColumnCoercionConflict) Unwrap() error { return ErrColumnCoercionConflict }

// Column is one table column.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"data_type"`
}

// Table is a named set of columns plus transient per-normalizer
// annotations (stripped before persisting, spec.md §4.5 step 3).
type Table struct {
	Name        string            `json:"name"`
	Columns     map[string]Column `json:"columns"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

func newTable(name string) *Table {
	return &Table{Name: name, Columns: map[string]Column{}}
}

// PartialTable is an additive delta for one table: new or widened columns,
// as produced by an item normalizer.
type PartialTable struct {
	Name    string
	Columns map[string]Column
}

// SchemaUpdate is a table name to ordered list of deltas, as defined in
// spec.md §3. Order is preserved for reproducibility.
type SchemaUpdate map[string][]PartialTable

// MergeSchemaUpdates concatenates the per-table delta lists of several
// SchemaUpdate values, preserving relative order within each table —
// mirroring dlt's merge_schema_updates, which simply appends.
func MergeSchemaUpdates(updates []SchemaUpdate) SchemaUpdate {
	merged := SchemaUpdate{}
	for _, u := range updates {
		for table, deltas := range u {
			merged[table] = append(merged[table], deltas...)
		}
	}
	return merged
}

// NamingConvention canonicalizes raw identifiers into table/column names.
// spec.md §3 requires it be deterministic and idempotent.
type NamingConvention interface {
	NormalizeTableIdentifier(raw string) string
}

// SnakeCaseNaming lower-cases and replaces runs of non-alphanumeric
// characters with a single underscore — the default, dependency-free
// naming convention.
type SnakeCaseNaming struct{}

func (SnakeCaseNaming) NormalizeTableIdentifier(raw string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// Schema is a named, versioned collection of tables. It is owned
// exclusively by the coordinator (spec.md §9); it is not goroutine-safe by
// design, the same way the teacher's jobmanager.JobManager is the single
// mutator of job state behind the controller's own lock.
type Schema struct {
	Name          string
	Tables        map[string]*Table
	Naming        NamingConvention
	version       int
	storedVersion int
}

// New creates an empty schema with the default naming convention.
func New(name string) *Schema {
	return &Schema{
		Name:   name,
		Tables: map[string]*Table{},
		Naming: SnakeCaseNaming{},
	}
}

// Version returns the in-memory version, bumped on every successful
// UpdateTable call.
func (s *Schema) Version() int { return s.version }

// StoredVersion returns the version as of the last load/save round trip.
func (s *Schema) StoredVersion() int { return s.storedVersion }

// UpdateNormalizers re-resolves naming convention implementations after a
// schema is loaded from storage (spec.md §4.5 step 1). Naming conventions
// here are stateless, so this is a no-op beyond ensuring one is set.
func (s *Schema) UpdateNormalizers() {
	if s.Naming == nil {
		s.Naming = SnakeCaseNaming{}
	}
}

// GetTableColumns returns the current columns for a table, or nil if the
// table does not exist.
func (s *Schema) GetTableColumns(tableName string) map[string]Column {
	t, ok := s.Tables[tableName]
	if !ok {
		return nil
	}
	return t.Columns
}

// HasTable reports whether the table is already known to the schema.
func (s *Schema) HasTable(tableName string) bool {
	_, ok := s.Tables[tableName]
	return ok
}

// UpdateTable merges one table's added/widened columns into the schema.
// It raises *ColumnCoercionConflict when an incoming column's type is
// incompatible with the existing one. On success the schema version is
// bumped exactly once regardless of how many columns changed.
func (s *Schema) UpdateTable(partial PartialTable) error {
	table, ok := s.Tables[partial.Name]
	if !ok {
		table = newTable(partial.Name)
		s.Tables[partial.Name] = table
	}
	// Compute the full merged column set before mutating anything, so a
	// conflict midway through leaves the table untouched.
	merged := make(map[string]Column, len(table.Columns)+len(partial.Columns))
	for name, col := range table.Columns {
		merged[name] = col
	}
	for name, incoming := range partial.Columns {
		existing, ok := merged[name]
		if !ok {
			merged[name] = incoming
			continue
		}
		widened, err := Widen(existing.Type, incoming.Type)
		if err != nil {
			return &ColumnCoercionConflict{
				Table:    partial.Name,
				Column:   name,
				Existing: existing.Type,
				Incoming: incoming.Type,
			}
		}
		merged[name] = Column{Name: name, Type: widened}
	}
	table.Columns = merged
	s.version++
	return nil
}

// StripTransientAnnotations removes per-run normalizer annotations
// ("x-normalizer") from every table before the schema is persisted
// (spec.md §4.5 step 3).
func (s *Schema) StripTransientAnnotations() {
	for _, t := range s.Tables {
		delete(t.Annotations, "x-normalizer")
	}
}

// StoredSchema is the value form of a Schema, shipped to workers via
// ToDict and rebuilt with FromStoredSchema. It round-trips through JSON
// for persistence to <schemas>/<name>.json.
type StoredSchema struct {
	Name    string            `json:"name"`
	Version int               `json:"version"`
	Tables  map[string]*Table `json:"tables"`
}

// ToDict produces an immutable snapshot safe to hand to a worker goroutine.
func (s *Schema) ToDict() StoredSchema {
	tables := make(map[string]*Table, len(s.Tables))
	for name, t := range s.Tables {
		cols := make(map[string]Column, len(t.Columns))
		for cn, c := range t.Columns {
			cols[cn] = c
		}
		annot := make(map[string]string, len(t.Annotations))
		for k, v := range t.Annotations {
			annot[k] = v
		}
		tables[name] = &Table{Name: t.Name, Columns: cols, Annotations: annot}
	}
	return StoredSchema{Name: s.Name, Version: s.version, Tables: tables}
}

// FromStoredSchema reconstructs a Schema from its value form.
func FromStoredSchema(d StoredSchema) *Schema {
	tables := make(map[string]*Table, len(d.Tables))
	for name, t := range d.Tables {
		cols := make(map[string]Column, len(t.Columns))
		for cn, c := range t.Columns {
			cols[cn] = c
		}
		tables[name] = &Table{Name: t.Name, Columns: cols, Annotations: t.Annotations}
	}
	return &Schema{
		Name:          d.Name,
		Tables:        tables,
		Naming:        SnakeCaseNaming{},
		version:       d.Version,
		storedVersion: d.Version,
	}
}
