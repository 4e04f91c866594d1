package itemnorm

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/ChuLiYu/beaver-normalize/internal/loadstore"
	"github.com/ChuLiYu/beaver-normalize/pkg/schema"
	"github.com/ChuLiYu/beaver-normalize/pkg/types"
)

// parquetFixtureSchema is a two-column schema (id INT64, label UTF8
// BYTE_ARRAY) shared by the fixtures below — the same Tag grammar
// loadstore's writers.go builds for its own dynamic parquet writer.
const parquetFixtureSchema = `{"Tag":"name=parquet_go_root, repetitiontype=REQUIRED","Fields":[{"Tag":"name=id, type=INT64"},{"Tag":"name=label, type=BYTE_ARRAY, convertedtype=UTF8"}]}`

// writeParquetFixture builds a small parquet file at path with the given
// rows (each a JSON-encoded object matching parquetFixtureSchema), using
// the same xitongsys/parquet-go JSON writer loadstore's writers.go uses to
// produce real output files.
func writeParquetFixture(t *testing.T, path string, rows []string) {
	t.Helper()
	fw, err := local.NewLocalFileWriter(path)
	require.NoError(t, err)
	pw, err := writer.NewJSONWriter(parquetFixtureSchema, fw, 4)
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, pw.Write(row))
	}
	require.NoError(t, pw.WriteStop())
	require.NoError(t, fw.Close())
}

func newParquetTestConfig(t *testing.T) loadstore.Config {
	root := t.TempDir()
	cfg := loadstore.Config{
		TempDir:       filepath.Join(root, "temp"),
		ProcessingDir: filepath.Join(root, "processing"),
	}
	require.NoError(t, os.MkdirAll(cfg.TempDir, 0o755))
	return cfg
}

func TestParquetNormalizerRewritesRowsWhenDestNotParquet(t *testing.T) {
	cfg := newParquetTestConfig(t)
	fixture := filepath.Join(t.TempDir(), "events.clicks.parquet.a.parquet")
	writeParquetFixture(t, fixture, []string{
		`{"id": 1, "label": "a"}`,
		`{"id": 2, "label": "b"}`,
	})

	dest := loadstore.New(false, types.FormatJSONL, map[types.LoaderFileFormat]bool{types.FormatJSONL: true}, cfg)
	require.NoError(t, dest.CreateTempLoadPackage("load1"))

	n := NewParquetNormalizer(dest)
	result, err := n.Normalize("load1", "events", fixture, "clicks")
	require.NoError(t, err)

	assert.Equal(t, 2, result.ItemsCount)
	assert.Equal(t, 2, result.RowCounts["clicks"])

	cols := result.SchemaUpdates["clicks"][0].Columns
	assert.Equal(t, schema.BigInt, cols["id"].Type)
	assert.Equal(t, schema.Text, cols["label"].Type)

	require.NoError(t, dest.CloseWriters("load1"))
	closed := dest.ClosedFiles()
	require.Len(t, closed, 1)

	f, err := os.Open(closed[0])
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var rows []map[string]interface{}
	for scanner.Scan() {
		var row map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		rows = append(rows, row)
	}
	assert.Len(t, rows, 2)
}

func TestParquetNormalizerPassthroughWhenDestAcceptsArrow(t *testing.T) {
	cfg := newParquetTestConfig(t)
	fixture := filepath.Join(t.TempDir(), "events.clicks.parquet.a.parquet")
	writeParquetFixture(t, fixture, []string{
		`{"id": 1, "label": "a"}`,
		`{"id": 2, "label": "b"}`,
	})

	dest := loadstore.New(false, types.FormatArrow, map[types.LoaderFileFormat]bool{types.FormatParquet: true}, cfg)
	require.NoError(t, dest.CreateTempLoadPackage("load1"))

	n := NewParquetNormalizer(dest)
	result, err := n.Normalize("load1", "events", fixture, "clicks")
	require.NoError(t, err)

	assert.Equal(t, 2, result.ItemsCount)
	assert.Equal(t, 2, result.RowCounts["clicks"])
	cols := result.SchemaUpdates["clicks"][0].Columns
	assert.Equal(t, schema.BigInt, cols["id"].Type)

	closed := dest.ClosedFiles()
	require.Len(t, closed, 1, "passthrough must produce exactly one output file, not a re-encode")

	want, err := os.ReadFile(fixture)
	require.NoError(t, err)
	got, err := os.ReadFile(closed[0])
	require.NoError(t, err)
	assert.Equal(t, want, got, "passthrough must copy the source file's bytes verbatim")
}

func TestParquetNormalizerEmptyFile(t *testing.T) {
	cfg := newParquetTestConfig(t)
	fixture := filepath.Join(t.TempDir(), "events.clicks.parquet.a.parquet")
	writeParquetFixture(t, fixture, nil)

	dest := loadstore.New(false, types.FormatJSONL, map[types.LoaderFileFormat]bool{types.FormatJSONL: true}, cfg)
	require.NoError(t, dest.CreateTempLoadPackage("load1"))

	n := NewParquetNormalizer(dest)
	result, err := n.Normalize("load1", "events", fixture, "clicks")
	require.NoError(t, err)

	assert.Equal(t, 0, result.ItemsCount)
	assert.Equal(t, 0, result.RowCounts["clicks"])
	// The schema delta still reports the table's columns even with zero
	// rows: the footer carries them regardless of row count.
	cols := result.SchemaUpdates["clicks"][0].Columns
	assert.Contains(t, cols, "id")
	assert.Contains(t, cols, "label")

	require.NoError(t, dest.CloseWriters("load1"))
	assert.Empty(t, dest.ClosedFiles(), "a zero-row parquet input must not open a writer on the destination")
}
