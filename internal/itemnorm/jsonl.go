package itemnorm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ChuLiYu/beaver-normalize/internal/loadstore"
	"github.com/ChuLiYu/beaver-normalize/pkg/schema"
	"github.com/ChuLiYu/beaver-normalize/pkg/types"
)

// JSONLNormalizer reads newline-delimited JSON objects and writes each one
// through the bound destination, widening a local column map as it goes —
// the line-oriented normalizer named in spec.md §6.
type JSONLNormalizer struct {
	dest *loadstore.Storage
}

// NewJSONLNormalizer binds a normalizer to the Load Storage instance its
// output rows will be written through.
func NewJSONLNormalizer(dest *loadstore.Storage) *JSONLNormalizer {
	return &JSONLNormalizer{dest: dest}
}

func (n *JSONLNormalizer) Normalize(loadID, schemaName, filePath, rootTableName string) (Result, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return Result{}, fmt.Errorf("itemnorm: open %s: %w", filePath, err)
	}
	defer f.Close()

	columns := map[string]schema.Column{}
	rowCounts := types.RowCount{}
	itemsCount := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var row map[string]interface{}
		if err := dec.Decode(&row); err != nil {
			return Result{}, &LineError{File: filePath, Line: lineNo, Err: err}
		}
		for name, v := range row {
			if err := widenInto(columns, name, v); err != nil {
				conflict := err.(*schema.ColumnCoercionConflict)
				conflict.Table = rootTableName
				return Result{}, &LineError{File: filePath, Line: lineNo, Err: conflict}
			}
		}
		if n.dest != nil {
			if err := n.dest.WriteRow(loadID, schemaName, rootTableName, columns, row); err != nil {
				return Result{}, &LineError{File: filePath, Line: lineNo, Err: err}
			}
		}
		itemsCount++
		rowCounts[rootTableName]++
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("itemnorm: scan %s: %w", filePath, err)
	}

	var updates schema.SchemaUpdate
	if len(columns) > 0 {
		updates = schema.SchemaUpdate{
			rootTableName: {{Name: rootTableName, Columns: columns}},
		}
	}
	types.Increase(rowCounts, rootTableName, 0)

	return Result{SchemaUpdates: updates, ItemsCount: itemsCount, RowCounts: rowCounts}, nil
}
