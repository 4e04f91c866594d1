package itemnorm

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/ChuLiYu/beaver-normalize/internal/loadstore"
	"github.com/ChuLiYu/beaver-normalize/pkg/schema"
	"github.com/ChuLiYu/beaver-normalize/pkg/types"
)

// ParquetNormalizer reads a columnar input file with xitongsys/parquet-go's
// dynamic column reader (no compile-time struct — the schema comes purely
// from the file's own footer) and either re-encodes every row through the
// bound destination, or, when the destination's write format is
// types.FormatArrow, copies the source file's bytes through unchanged — the
// "arrow" columnar-passthrough hint from spec.md §3/§4.3 step 2. Either way
// the column types observed in the footer become this file's schema delta.
type ParquetNormalizer struct {
	dest *loadstore.Storage
}

// NewParquetNormalizer binds a normalizer to the Load Storage instance its
// output (rewritten or passed-through) will land in.
func NewParquetNormalizer(dest *loadstore.Storage) *ParquetNormalizer {
	return &ParquetNormalizer{dest: dest}
}

func (n *ParquetNormalizer) Normalize(loadID, schemaName, filePath, rootTableName string) (Result, error) {
	fr, err := local.NewLocalFileReader(filePath)
	if err != nil {
		return Result{}, fmt.Errorf("itemnorm: open parquet %s: %w", filePath, err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetColumnReader(fr, 4)
	if err != nil {
		return Result{}, fmt.Errorf("itemnorm: open parquet column reader %s: %w", filePath, err)
	}
	defer pr.ReadStop()

	numRows := int(pr.GetNumRows())
	columns := map[string]schema.Column{}
	names := make([]string, 0)
	for _, el := range pr.SchemaHandler.SchemaElements {
		if el.GetNumChildren() > 0 {
			continue // root or nested group marker, not a leaf column
		}
		name := el.GetName()
		names = append(names, name)
		columns[name] = schema.Column{Name: name, Type: columnTypeFromElement(el)}
	}

	rowCounts := types.RowCount{}
	itemsCount := numRows
	rowCounts[rootTableName] = numRows

	if n.dest != nil {
		if n.dest.Format() == types.FormatArrow {
			if _, err := n.dest.CopyColumnarPassthrough(loadID, schemaName, rootTableName, filePath); err != nil {
				return Result{}, fmt.Errorf("itemnorm: passthrough %s: %w", filePath, err)
			}
		} else if numRows > 0 {
			rows, err := readRows(pr, names, numRows)
			if err != nil {
				return Result{}, fmt.Errorf("itemnorm: read parquet rows %s: %w", filePath, err)
			}
			for _, row := range rows {
				if err := n.dest.WriteRow(loadID, schemaName, rootTableName, columns, row); err != nil {
					return Result{}, fmt.Errorf("itemnorm: write row from %s: %w", filePath, err)
				}
			}
		}
	}

	var updates schema.SchemaUpdate
	if len(columns) > 0 {
		updates = schema.SchemaUpdate{
			rootTableName: {{Name: rootTableName, Columns: columns}},
		}
	}

	return Result{SchemaUpdates: updates, ItemsCount: itemsCount, RowCounts: rowCounts}, nil
}

// readRows reconstructs row-oriented maps from the reader's column-major
// output, column by column, so the re-encoding path can reuse the same
// tableWriter.WriteRow(map[string]interface{}) used by the line-oriented
// normalizer.
func readRows(pr *reader.ParquetColumnReader, names []string, numRows int) ([]map[string]interface{}, error) {
	rows := make([]map[string]interface{}, numRows)
	for i := range rows {
		rows[i] = make(map[string]interface{}, len(names))
	}
	for idx, name := range names {
		values, _, _, err := pr.ReadColumnByIndex(int64(idx), int64(numRows))
		if err != nil {
			return nil, fmt.Errorf("read column %s: %w", name, err)
		}
		for i := 0; i < numRows && i < len(values); i++ {
			rows[i][name] = values[i]
		}
	}
	return rows, nil
}

// columnTypeFromElement maps a parquet schema element's physical/converted
// type to our closed column-type lattice.
func columnTypeFromElement(el *parquet.SchemaElement) schema.ColumnType {
	if el.ConvertedType != nil && *el.ConvertedType == parquet.ConvertedType_TIMESTAMP_MILLIS {
		return schema.Timestamp
	}
	if el.Type == nil {
		return schema.Text
	}
	switch *el.Type {
	case parquet.Type_BOOLEAN:
		return schema.Bool
	case parquet.Type_INT32, parquet.Type_INT64:
		return schema.BigInt
	case parquet.Type_FLOAT, parquet.Type_DOUBLE:
		return schema.Double
	default:
		return schema.Text
	}
}
