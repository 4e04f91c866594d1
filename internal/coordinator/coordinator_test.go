package coordinator

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/beaver-normalize/internal/loadstore"
	"github.com/ChuLiYu/beaver-normalize/internal/worker"
	"github.com/ChuLiYu/beaver-normalize/pkg/schema"
	"github.com/ChuLiYu/beaver-normalize/pkg/types"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func testWorkerConfig(t *testing.T) worker.Config {
	root := t.TempDir()
	tempDir := filepath.Join(root, "temp")
	require.NoError(t, os.MkdirAll(tempDir, 0o755))
	return worker.Config{
		Load: loadstore.Config{
			TempDir:       tempDir,
			ProcessingDir: filepath.Join(root, "processing"),
		},
		Capabilities: types.DestinationCapabilities{
			PreferredLoaderFileFormat: types.FormatJSONL,
			SupportedLoaderFileFormats: map[types.LoaderFileFormat]bool{
				types.FormatJSONL: true,
			},
		},
	}
}

func TestMapSingleMergesSchemaAndRowCounts(t *testing.T) {
	extractedDir := t.TempDir()
	f1 := writeFile(t, extractedDir, "events.clicks.jsonl.a.jsonl", "{\"id\": 1}\n")
	f2 := writeFile(t, extractedDir, "events.views.jsonl.a.jsonl", "{\"count\": 1.5}\n")

	sch := schema.New("events")
	c := New(nil, testWorkerConfig(t), nil)

	result, err := c.MapSingle(sch, "load1", []string{f1, f2})
	require.NoError(t, err)

	assert.Equal(t, 1, result.RowCounts["clicks"])
	assert.Equal(t, 1, result.RowCounts["views"])
	assert.Equal(t, schema.BigInt, sch.GetTableColumns("clicks")["id"].Type)
	assert.Equal(t, schema.Double, sch.GetTableColumns("views")["count"].Type)
}

func TestMapParallelMergesAcrossBatches(t *testing.T) {
	extractedDir := t.TempDir()
	var files []string
	for i := 0; i < 6; i++ {
		files = append(files, writeFile(t, extractedDir,
			"events.clicks.jsonl."+string(rune('a'+i))+".jsonl", "{\"id\": 1}\n"))
	}

	pool := worker.NewPool(3)
	require.NoError(t, pool.Start())
	defer pool.Stop()

	sch := schema.New("events")
	c := New(pool, testWorkerConfig(t), nil)

	result, err := c.MapParallel(sch, "load1", files)
	require.NoError(t, err)
	assert.Equal(t, 6, result.RowCounts["clicks"])
	assert.Equal(t, schema.BigInt, sch.GetTableColumns("clicks")["id"].Type)
}

// alwaysConflictsRunner is a schema double that returns an unwideneable
// conflict on every call, for driving the retry budget to exhaustion
// (spec.md §8 S5: "force repeated conflict").
func alwaysConflictsRunner() (TaskRunner, *int32) {
	var calls int32
	return func(cfg worker.Config, snapshot schema.StoredSchema, loadID string, files []string) (worker.TaskResult, error) {
		atomic.AddInt32(&calls, 1)
		return worker.TaskResult{
			SchemaUpdates: schema.SchemaUpdate{
				"clicks": {{Name: "clicks", Columns: map[string]schema.Column{
					"ts": {Name: "ts", Type: schema.Text},
				}}},
			},
			RowCounts: types.RowCount{"clicks": 1},
		}, nil
	}, &calls
}

// TestMapParallelRetriesConflictingBatchThenSucceeds covers spec.md §8 S4:
// one batch's merge succeeds outright (seeding "ts" as Timestamp); the
// other's first attempt conflicts against it, is resubmitted, and its
// retry's delta (a disjoint column) merges cleanly. On completion the
// schema's "ts" column is still the merge-result (Timestamp) type. Both
// batches finish within the first poll interval, and the gather loop scans
// them in submission order, so the seed batch lands before the conflicting
// one is gathered.
func TestMapParallelRetriesConflictingBatchThenSucceeds(t *testing.T) {
	extractedDir := t.TempDir()
	seedFile := writeFile(t, extractedDir, "events.clicks.jsonl.a.jsonl", "{\"ts\": \"2024-01-01T00:00:00Z\"}\n")
	conflictFile := writeFile(t, extractedDir, "events.clicks.jsonl.b.jsonl", "{\"ts\": \"not-a-timestamp\"}\n")

	// Two workers so GroupWorkerFiles splits the two files into two
	// single-file batches rather than coalescing them into one chunk; the
	// gather loop processes completed tasks in submission order, so once both
	// are done the seed batch is merged before the conflicting batch is
	// evaluated.
	pool := worker.NewPool(2)
	require.NoError(t, pool.Start())
	defer pool.Stop()

	sch := schema.New("events")
	c := New(pool, testWorkerConfig(t), nil)

	var callsForConflict int32
	seedRunner := func(cfg worker.Config, snapshot schema.StoredSchema, loadID string, files []string) (worker.TaskResult, error) {
		if files[0] == seedFile {
			return worker.TaskResult{
				SchemaUpdates: schema.SchemaUpdate{
					"clicks": {{Name: "clicks", Columns: map[string]schema.Column{
						"ts": {Name: "ts", Type: schema.Timestamp},
					}}},
				},
				RowCounts: types.RowCount{"clicks": 1},
			}, nil
		}
		n := atomic.AddInt32(&callsForConflict, 1)
		if n == 1 {
			return worker.TaskResult{
				SchemaUpdates: schema.SchemaUpdate{
					"clicks": {{Name: "clicks", Columns: map[string]schema.Column{
						"ts": {Name: "ts", Type: schema.JSON},
					}}},
				},
				RowCounts: types.RowCount{"clicks": 1},
			}, nil
		}
		return worker.TaskResult{
			SchemaUpdates: schema.SchemaUpdate{
				"clicks": {{Name: "clicks", Columns: map[string]schema.Column{
					"ip": {Name: "ip", Type: schema.Text},
				}}},
			},
			RowCounts: types.RowCount{"clicks": 1},
		}, nil
	}
	c.TaskRunner = seedRunner

	result, err := c.MapParallel(sch, "load1", []string{seedFile, conflictFile})
	require.NoError(t, err)

	assert.Equal(t, schema.Timestamp, sch.GetTableColumns("clicks")["ts"].Type)
	assert.Contains(t, sch.GetTableColumns("clicks"), "ip")
	assert.Equal(t, int32(2), atomic.LoadInt32(&callsForConflict), "conflicting batch must be retried exactly once before succeeding")
	// The conflicting attempt's row count is dropped (its output files are
	// deleted on conflict); only the seed batch and the successful retry
	// contribute, so the total is 2, not 3.
	assert.Equal(t, 2, result.RowCounts["clicks"])
}

// TestMapParallelGivesUpAfterMaxRetries covers spec.md §8 S5's parallel
// half: a batch whose merge conflicts on every attempt is retried
// maxBatchRetries times and then surfaces as a *schema.ColumnCoercionConflict
// error instead of retrying forever.
func TestMapParallelGivesUpAfterMaxRetries(t *testing.T) {
	extractedDir := t.TempDir()
	f := writeFile(t, extractedDir, "events.clicks.jsonl.a.jsonl", "{\"ts\": \"x\"}\n")

	pool := worker.NewPool(1)
	require.NoError(t, pool.Start())
	defer pool.Stop()

	sch := schema.New("events")
	require.NoError(t, sch.UpdateTable(schema.PartialTable{
		Name:    "clicks",
		Columns: map[string]schema.Column{"ts": {Name: "ts", Type: schema.Timestamp}},
	}))

	c := New(pool, testWorkerConfig(t), nil)
	runner, calls := alwaysConflictsRunner()
	c.TaskRunner = runner

	_, err := c.MapParallel(sch, "load1", []string{f})
	require.Error(t, err)

	var conflict *schema.ColumnCoercionConflict
	assert.ErrorAs(t, err, &conflict)
	assert.Equal(t, "ts", conflict.Column)
	assert.Equal(t, int32(maxBatchRetries+1), atomic.LoadInt32(calls), "one initial attempt plus maxBatchRetries retries")
}

func TestUpdateTableStopsAtFirstConflict(t *testing.T) {
	sch := schema.New("events")
	updates := schema.SchemaUpdate{
		"clicks": {
			{Name: "clicks", Columns: map[string]schema.Column{"ts": {Name: "ts", Type: schema.Timestamp}}},
			{Name: "clicks", Columns: map[string]schema.Column{"ts": {Name: "ts", Type: schema.Text}}},
		},
	}
	err := UpdateTable(sch, updates)
	require.Error(t, err)
	assert.Equal(t, schema.Timestamp, sch.GetTableColumns("clicks")["ts"].Type)
}
