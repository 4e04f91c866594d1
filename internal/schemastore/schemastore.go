// Package schemastore persists the authoritative Schema catalog to
// <schemas>/<schema_name>.json, the way the teacher's snapshot.Manager
// persists job-manager state: atomic temp-file-then-rename writes, plain
// indented JSON for debuggability.
package schemastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ChuLiYu/beaver-normalize/pkg/schema"
)

// ErrSchemaNotFound is returned by Load when no schema file exists yet for
// the given name — recoverable by creating a fresh empty schema
// (spec.md §7).
var ErrSchemaNotFound = errors.New("schemastore: schema not found")

// Store reads and writes schema snapshots under a single directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir, creating the directory if it
// does not exist yet.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("schemastore: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Load reads the named schema, or returns ErrSchemaNotFound.
func (s *Store) Load(name string) (*schema.Schema, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSchemaNotFound
		}
		return nil, fmt.Errorf("schemastore: read %s: %w", name, err)
	}
	var stored schema.StoredSchema
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("schemastore: parse %s: %w", name, err)
	}
	return schema.FromStoredSchema(stored), nil
}

// LoadOrCreate loads the named schema, creating a fresh empty one if none
// exists yet (spec.md §4.5 step 1).
func (s *Store) LoadOrCreate(name string) (*schema.Schema, bool, error) {
	sch, err := s.Load(name)
	if err == nil {
		sch.UpdateNormalizers()
		return sch, true, nil
	}
	if errors.Is(err, ErrSchemaNotFound) {
		return schema.New(name), false, nil
	}
	return nil, false, err
}

// Save atomically writes the schema's current value form to
// <dir>/<name>.json via temp-file-then-rename, the same technique the
// teacher's snapshot.Manager.Write uses.
func (s *Store) Save(sch *schema.Schema) error {
	stored := sch.ToDict()
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("schemastore: marshal %s: %w", sch.Name, err)
	}
	final := s.path(sch.Name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("schemastore: write temp %s: %w", sch.Name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("schemastore: rename %s: %w", sch.Name, err)
	}
	return nil
}
