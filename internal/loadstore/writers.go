package loadstore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/ChuLiYu/beaver-normalize/pkg/schema"
)

// tableWriter is the per-(load_id, table) sink a row-oriented item
// normalizer writes through. Each writer owns exactly one output file, so
// two workers writing the same table concurrently never collide — the
// uniqueness comes from uniqueFileName, not from any shared state.
type tableWriter interface {
	WriteRow(row map[string]interface{}) error
	// Close finalizes the writer and returns the absolute path it wrote.
	Close() (string, error)
}

// uniqueFileName builds an output filename following the same grammar as
// extracted files (spec.md §6), with uniq_id derived from an xxhash of a
// fresh UUID — a faster fingerprint than the teacher's WAL crc32, doing the
// analogous "short, collision-resistant tag" job for the higher-volume
// write path.
func uniqueFileName(schemaName, tableName string, format string, ext string) string {
	sum := xxhash.Sum64String(uuid.NewString())
	return fmt.Sprintf("%s.%s.%s.%x.%s", schemaName, tableName, format, sum, ext)
}

// jsonlTableWriter appends one JSON object per line, the simplest and most
// debuggable of the writers.
type jsonlTableWriter struct {
	f   *os.File
	enc *json.Encoder
	ext string
}

func newJSONLTableWriter(path string) (*jsonlTableWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("loadstore: create %s: %w", path, err)
	}
	return &jsonlTableWriter{f: f, enc: json.NewEncoder(f)}, nil
}

func (w *jsonlTableWriter) WriteRow(row map[string]interface{}) error {
	return w.enc.Encode(row)
}

func (w *jsonlTableWriter) Close() (string, error) {
	path := w.f.Name()
	if err := w.f.Close(); err != nil {
		return path, fmt.Errorf("loadstore: close %s: %w", path, err)
	}
	return path, nil
}

// parquetTableWriter writes rows through xitongsys/parquet-go's dynamic
// JSON writer, which accepts a per-column schema description instead of a
// compile-time Go struct — the right fit here since the column set is only
// known at run time (it comes from the evolving Schema).
type parquetTableWriter struct {
	file source_ParquetFile
	pw   *writer.JSONWriter
	path string
}

// source_ParquetFile avoids importing the source package under its own
// name purely for a type alias; parquet-go's source.ParquetFile is the
// interface local.NewLocalFileWriter returns.
type source_ParquetFile = interface {
	io.Writer
	io.Closer
	io.Seeker
	io.ReaderAt
}

func columnTag(name string, t schema.ColumnType) string {
	switch t {
	case schema.Bool:
		return fmt.Sprintf("name=%s, type=BOOLEAN", name)
	case schema.BigInt:
		return fmt.Sprintf("name=%s, type=INT64", name)
	case schema.Double:
		return fmt.Sprintf("name=%s, type=DOUBLE", name)
	case schema.Timestamp:
		return fmt.Sprintf("name=%s, type=INT64, convertedtype=TIMESTAMP_MILLIS", name)
	default: // Text, JSON
		return fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8", name)
	}
}

// parquetJSONSchema builds the JSON schema string NewJSONWriter expects
// from the table's current columns.
func parquetJSONSchema(columns map[string]schema.Column) string {
	fields := make([]string, 0, len(columns))
	for name, col := range columns {
		fields = append(fields, fmt.Sprintf(`{"Tag":"%s"}`, columnTag(name, col.Type)))
	}
	return fmt.Sprintf(`{"Tag":"name=parquet_go_root, repetitiontype=REQUIRED","Fields":[%s]}`, joinJSON(fields))
}

func joinJSON(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}

func newParquetTableWriter(path string, columns map[string]schema.Column) (*parquetTableWriter, error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("loadstore: open parquet file %s: %w", path, err)
	}
	pw, err := writer.NewJSONWriter(parquetJSONSchema(columns), fw, 4)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("loadstore: new parquet writer %s: %w", path, err)
	}
	return &parquetTableWriter{file: fw, pw: pw, path: path}, nil
}

func (w *parquetTableWriter) WriteRow(row map[string]interface{}) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("loadstore: marshal parquet row: %w", err)
	}
	return w.pw.Write(string(data))
}

func (w *parquetTableWriter) Close() (string, error) {
	if err := w.pw.WriteStop(); err != nil {
		return "", fmt.Errorf("loadstore: parquet write stop: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return "", fmt.Errorf("loadstore: close parquet file: %w", err)
	}
	return w.path, nil
}
