// Package rundriver implements Component G from spec.md §4.5: group
// extracted files by schema, assign a load_id per group, and orchestrate
// each group's spool through the coordinator, observing signal safety
// around the commit. Grounded on the teacher's runControllerNode
// start/signal/stop shape, generalized from "one controller, one
// lifetime" to "one run, many schema groups in sequence."
package rundriver

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ChuLiYu/beaver-normalize/internal/collector"
	"github.com/ChuLiYu/beaver-normalize/internal/coordinator"
	"github.com/ChuLiYu/beaver-normalize/internal/loadstore"
	"github.com/ChuLiYu/beaver-normalize/internal/normstore"
	"github.com/ChuLiYu/beaver-normalize/internal/schemastore"
	"github.com/ChuLiYu/beaver-normalize/internal/termsignal"
	"github.com/ChuLiYu/beaver-normalize/internal/worker"
	"github.com/ChuLiYu/beaver-normalize/pkg/schema"
	"github.com/ChuLiYu/beaver-normalize/pkg/types"
)

var log = slog.Default()

// RunMetrics is the run-level outcome spec.md §4.5's run(pool) returns.
type RunMetrics struct {
	Terminal     bool
	PendingAfter int
}

// Info is published after a successful run, mirroring the teacher's
// last-run bookkeeping pattern.
type Info struct {
	RowCounts types.RowCount
}

// Driver ties the storage components and a worker pool together for one
// process lifetime. It is not safe for concurrent Run calls — like the
// Schema it drives, it has a single owner.
type Driver struct {
	NormalizeStore *normstore.Storage
	SchemaStore    *schemastore.Store
	LoadConfig     loadstore.Config
	Capabilities   types.DestinationCapabilities
	Pool           *worker.Pool
	Collector      *collector.Collector

	// TaskRunner, when set, replaces the TaskRunner of the
	// coordinator.Coordinator built for each schema group's spool — a seam for tests to drive the
	// parallel-conflict/single-threaded-fallback path (spec.md §8 S5) with
	// a schema double instead of real irreconcilable files. Left nil in
	// production, where the coordinator's own default (worker.NormalizeFiles)
	// applies.
	TaskRunner coordinator.TaskRunner

	lastRun Info
}

// New builds a Driver from its storage and pool dependencies.
func New(normalizeStore *normstore.Storage, schemaStore *schemastore.Store, loadCfg loadstore.Config, caps types.DestinationCapabilities, pool *worker.Pool, coll *collector.Collector) *Driver {
	return &Driver{
		NormalizeStore: normalizeStore,
		SchemaStore:    schemaStore,
		LoadConfig:     loadCfg,
		Capabilities:   caps,
		Pool:           pool,
		Collector:      coll,
	}
}

// Info returns the row counts published by the most recently completed run.
func (d *Driver) Info() Info { return d.lastRun }

// allSupportedFormats is what the run driver's own bookkeeping Load
// Storage instance declares it can read — mirroring normalize.py's use of
// the constant LoadStorage.ALL_SUPPORTED_FILE_FORMATS for the normalize
// stage's own (non-worker) storage handle.
var allSupportedFormats = map[types.LoaderFileFormat]bool{
	types.FormatJSONL:   true,
	types.FormatParquet: true,
}

func (d *Driver) bookkeepingStore() *loadstore.Storage {
	return loadstore.New(true, d.Capabilities.PreferredFormat(), allSupportedFormats, d.LoadConfig)
}

// Run is spec.md §4.5's run(pool): lists pending files, groups them by
// schema, and spools each group with a fresh load_id.
func (d *Driver) Run() (RunMetrics, error) {
	d.lastRun = Info{RowCounts: types.RowCount{}}
	log.Info("running file normalizing")

	files, err := d.NormalizeStore.ListFilesToNormalizeSorted()
	if err != nil {
		return RunMetrics{}, fmt.Errorf("rundriver: list files: %w", err)
	}
	log.Info("found pending files", "count", len(files))
	if len(files) == 0 {
		return RunMetrics{Terminal: true, PendingAfter: 0}, nil
	}

	groups, err := d.NormalizeStore.GroupBySchema(files)
	if err != nil {
		return RunMetrics{}, fmt.Errorf("rundriver: group by schema: %w", err)
	}

	var lastLoadID string
	for _, group := range groups {
		loadID := nextLoadID(lastLoadID)
		lastLoadID = loadID
		log.Info("spooling schema group", "schema", group.SchemaName, "load_id", loadID, "files", len(group.Files))

		scope, done := d.Collector.Scope(fmt.Sprintf("Normalize %s in %s", group.SchemaName, loadID))
		scope.Update("Files", 0, len(group.Files))
		scope.Update("Items", 0)
		if err := d.spoolSchemaFiles(loadID, group.SchemaName, group.Files, scope); err != nil {
			done()
			return RunMetrics{}, fmt.Errorf("rundriver: spool schema %s: %w", group.SchemaName, err)
		}
		done()
	}

	pending, err := d.NormalizeStore.ListFilesToNormalizeSorted()
	if err != nil {
		return RunMetrics{}, fmt.Errorf("rundriver: list files after run: %w", err)
	}
	return RunMetrics{Terminal: false, PendingAfter: len(pending)}, nil
}

// nextLoadID produces a decimal-timestamp load_id, advancing by at least
// one tick past the previous id in this run so ids stay strictly
// increasing even when two groups are spooled within the same clock tick
// (spec.md §3: "monotonic w.r.t. prior ids in the same run").
func nextLoadID(prev string) string {
	id := strconv.FormatInt(time.Now().UnixNano(), 10)
	if id <= prev {
		prevN, _ := strconv.ParseInt(prev, 10, 64)
		id = strconv.FormatInt(prevN+1, 10)
	}
	return id
}

// spoolSchemaFiles is spec.md §4.5's spool_schema_files: create the temp
// package, attempt the parallel map, and fall back to single-threaded
// execution (recreating the temp package from scratch) if a parallel
// conflict escapes unresolved.
func (d *Driver) spoolSchemaFiles(loadID, schemaName string, files []string, scope *collector.Scope) error {
	store := d.bookkeepingStore()
	if err := store.CreateTempLoadPackage(loadID); err != nil {
		return fmt.Errorf("rundriver: create temp load package: %w", err)
	}
	log.Info("created temp load folder", "load_id", loadID)

	coord := coordinator.New(d.Pool, workerConfig(d.LoadConfig, d.Capabilities), scope)
	if d.TaskRunner != nil {
		coord.TaskRunner = d.TaskRunner
	}

	err := d.spoolFiles(store, coord, schemaName, loadID, files, coord.MapParallel)
	var conflict *schema.ColumnCoercionConflict
	if err != nil && errors.As(err, &conflict) {
		log.Warn("parallel schema update conflict, switching to single thread", "error", err)
		if err := store.CreateTempLoadPackage(loadID); err != nil {
			return fmt.Errorf("rundriver: recreate temp load package: %w", err)
		}
		return d.spoolFiles(store, coord, schemaName, loadID, files, coord.MapSingle)
	}
	return err
}

type mapFunc func(sch *schema.Schema, loadID string, files []string) (coordinator.MapResult, error)

// spoolFiles is spec.md §4.5's spool_files, after the caller's chosen map
// function (parallel or single) has been selected.
func (d *Driver) spoolFiles(store *loadstore.Storage, coord *coordinator.Coordinator, schemaName, loadID string, files []string, mapF mapFunc) error {
	sch, existed, err := d.SchemaStore.LoadOrCreate(schemaName)
	if err != nil {
		return fmt.Errorf("rundriver: load or create schema: %w", err)
	}
	if existed {
		log.Info("loaded schema", "schema", schemaName, "version", sch.StoredVersion())
	} else {
		log.Info("created new schema", "schema", schemaName)
	}

	result, err := mapF(sch, loadID, files)
	if err != nil {
		return err
	}

	sch.StripTransientAnnotations()
	log.Info("saving schema", "schema", schemaName, "version", sch.Version())
	if err := d.SchemaStore.Save(sch); err != nil {
		return fmt.Errorf("rundriver: save schema: %w", err)
	}
	if err := store.SaveTempSchema(sch, loadID); err != nil {
		return fmt.Errorf("rundriver: save temp schema: %w", err)
	}
	if err := store.SaveTempSchemaUpdates(loadID, result.SchemaUpdates); err != nil {
		return fmt.Errorf("rundriver: save temp schema updates: %w", err)
	}

	if err := termsignal.RaiseIfSignalled(); err != nil {
		return err
	}

	log.Info("committing storage, do not kill this process")
	if err := store.CommitTempLoadPackage(loadID); err != nil {
		return fmt.Errorf("rundriver: commit temp load package: %w", err)
	}
	if err := d.NormalizeStore.DeleteExtractedFiles(files); err != nil {
		return fmt.Errorf("rundriver: delete extracted files: %w", err)
	}
	log.Info("chunk processed", "load_id", loadID)
	d.lastRun.RowCounts = types.Merge(d.lastRun.RowCounts, result.RowCounts)
	return nil
}

func workerConfig(loadCfg loadstore.Config, caps types.DestinationCapabilities) worker.Config {
	return worker.Config{Load: loadCfg, Capabilities: caps}
}
