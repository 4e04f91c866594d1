// Package coordinator implements Component F from spec.md §4.4: split →
// dispatch → gather → merge → retry, with a fallback to single-threaded
// execution when a parallel conflict cannot be resolved by retrying.
// Grounded on the teacher's internal/controller dispatch/gather loop
// shape, generalized from a fixed job queue to arbitrary retryable
// parameter tuples.
package coordinator

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ChuLiYu/beaver-normalize/internal/collector"
	"github.com/ChuLiYu/beaver-normalize/internal/worker"
	"github.com/ChuLiYu/beaver-normalize/pkg/schema"
	"github.com/ChuLiYu/beaver-normalize/pkg/types"
)

var log = slog.Default()

// pollInterval is the gather loop's cooperative sleep (spec.md §4.4 step
// 3: "poll tasks cooperatively with a small delay (≈300 ms)").
const pollInterval = 300 * time.Millisecond

// maxBatchRetries bounds how many times a single batch is resubmitted
// after a merge conflict before MapParallel gives up on it. The source
// this is ported from retries unconditionally forever, which is fine for
// the transient, order-of-completion conflicts it's meant to absorb but
// would spin forever on a genuinely irreconcilable one (spec.md §8 S5).
// spec.md §9's redesign note asks for exactly this: replace unbounded
// exception-driven retry with an explicit Ok | Conflict | Fatal outcome at
// the merge boundary, so a conflict that keeps recurring becomes a
// reported Conflict error instead of a hang.
const maxBatchRetries = 3

// TaskRunner is the shape of worker.NormalizeFiles: it does the actual
// per-batch item normalization. Exported as a field on Coordinator (rather
// than called directly) so tests can substitute a double that behaves
// differently across retries without needing real conflicting files on
// disk — spec.md §8's S4/S5 scenarios describe a schema double for exactly
// this purpose.
type TaskRunner func(cfg worker.Config, schemaSnapshot schema.StoredSchema, loadID string, files []string) (worker.TaskResult, error)

// Coordinator owns the authoritative Schema for one load group and drives
// it through a pool of workers.
type Coordinator struct {
	Pool       *worker.Pool
	WorkerCfg  worker.Config
	Collector  *collector.Scope
	TaskRunner TaskRunner
}

// New builds a Coordinator bound to a pool and the worker config every
// task will be shipped with.
func New(pool *worker.Pool, cfg worker.Config, scope *collector.Scope) *Coordinator {
	return &Coordinator{Pool: pool, WorkerCfg: cfg, Collector: scope, TaskRunner: worker.NormalizeFiles}
}

// MapResult is what both map entry points return: the combined schema
// updates (already merged into sch) and the combined row counts.
type MapResult struct {
	SchemaUpdates schema.SchemaUpdate
	RowCounts     types.RowCount
}

// UpdateTable applies every delta of a SchemaUpdate to sch, in order,
// aborting the whole merge on the first conflict (spec.md §4.4
// `update_table`). The caller decides whether to retry or escalate.
func UpdateTable(sch *schema.Schema, updates schema.SchemaUpdate) error {
	for _, deltas := range updates {
		for _, partial := range deltas {
			if err := sch.UpdateTable(partial); err != nil {
				return err
			}
		}
	}
	return nil
}

type pendingTask struct {
	future  *worker.Future
	files   []string
	retries int
}

// MapParallel is spec.md §4.4's map_parallel: partitions files across the
// pool's worker count, dispatches one task per batch, and gathers results,
// retrying any batch whose schema merge conflicts with work absorbed from
// another batch in the meantime.
func (c *Coordinator) MapParallel(sch *schema.Schema, loadID string, files []string) (MapResult, error) {
	nWorkers := c.Pool.MaxWorkers()
	batches := GroupWorkerFiles(files, nWorkers)

	rowCounts := types.RowCount{}
	var schemaUpdates []schema.SchemaUpdate

	submit := func(batch []string) (*worker.Future, error) {
		snapshot := sch.ToDict()
		return c.Pool.Submit(func() (interface{}, error) {
			return c.TaskRunner(c.WorkerCfg, snapshot, loadID, batch)
		})
	}

	var pending []pendingTask
	for _, batch := range batches {
		future, err := submit(batch)
		if err != nil {
			return MapResult{}, fmt.Errorf("coordinator: submit batch: %w", err)
		}
		pending = append(pending, pendingTask{future: future, files: batch})
	}

	for len(pending) > 0 {
		time.Sleep(pollInterval)
		remaining := pending[:0]
		for _, t := range pending {
			if !t.future.Done() {
				remaining = append(remaining, t)
				continue
			}
			value, err := t.future.Result()
			if err != nil {
				return MapResult{}, fmt.Errorf("coordinator: worker task failed: %w", err)
			}
			result := value.(worker.TaskResult)

			if mergeErr := UpdateTable(sch, result.SchemaUpdates); mergeErr != nil {
				var conflict *schema.ColumnCoercionConflict
				if !errors.As(mergeErr, &conflict) {
					return MapResult{}, fmt.Errorf("coordinator: merge schema updates: %w", mergeErr)
				}
				deleteFiles(result.ClosedFiles)
				if t.retries >= maxBatchRetries {
					log.Warn("parallel schema update conflict did not resolve after retrying, giving up", "error", mergeErr, "retries", t.retries)
					return MapResult{}, fmt.Errorf("coordinator: batch still conflicting after %d retries: %w", t.retries, mergeErr)
				}
				log.Warn("parallel schema update conflict, retrying batch", "error", mergeErr, "retries", t.retries+1)
				retryFuture, rerr := submit(t.files)
				if rerr != nil {
					return MapResult{}, fmt.Errorf("coordinator: resubmit batch: %w", rerr)
				}
				remaining = append(remaining, pendingTask{future: retryFuture, files: t.files, retries: t.retries + 1})
				continue
			}

			schemaUpdates = append(schemaUpdates, result.SchemaUpdates)
			rowCounts = types.Merge(rowCounts, result.RowCounts)
			if c.Collector != nil {
				c.Collector.Update("Files", len(result.ClosedFiles))
				c.Collector.Update("Items", result.TotalItems)
			}
		}
		pending = remaining
	}

	return MapResult{SchemaUpdates: schema.MergeSchemaUpdates(schemaUpdates), RowCounts: rowCounts}, nil
}

// MapSingle is spec.md §4.4's map_single: runs one worker call in-process
// over every file in a single batch. Single-threaded execution linearizes
// all schema widening and so can never produce the retry conflict
// map_parallel handles — it is the fallback spool_schema_files reaches for
// when a parallel retry itself conflicts pathologically.
func (c *Coordinator) MapSingle(sch *schema.Schema, loadID string, files []string) (MapResult, error) {
	value, err := c.TaskRunner(c.WorkerCfg, sch.ToDict(), loadID, files)
	if err != nil {
		return MapResult{}, fmt.Errorf("coordinator: single-threaded worker task failed: %w", err)
	}
	if err := UpdateTable(sch, value.SchemaUpdates); err != nil {
		return MapResult{}, fmt.Errorf("coordinator: merge schema updates: %w", err)
	}
	if c.Collector != nil {
		c.Collector.Update("Files", len(value.ClosedFiles))
		c.Collector.Update("Items", value.TotalItems)
	}
	return MapResult{SchemaUpdates: value.SchemaUpdates, RowCounts: value.RowCounts}, nil
}

// deleteFiles best-effort removes a conflicting task's output files before
// it is resubmitted, preserving the invariant that committed files are
// exactly the union of absorbed tasks' outputs (spec.md §5).
func deleteFiles(files []string) {
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove conflicting task output", "file", f, "error", err)
		}
	}
}
