// Package ingest implements batch span ingestion and trace-tree assembly.
//
// The engine accepts batches of spans arriving in any order, validates each
// batch as an atomic unit against the committed state of the traces it
// touches, and commits the resulting change-set in a single storage
// transaction. Writers to the same trace are serialized; readers are never
// blocked by in-flight ingestion.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

var (
	// ErrEmptyBatch is returned for a submission carrying no spans.
	ErrEmptyBatch = errors.New("ingest: batch contains no spans")

	// ErrCommitFailed is returned when the storage commit exhausted its
	// retries. The batch was not applied and may be resubmitted as-is.
	ErrCommitFailed = errors.New("ingest: commit failed")
)

// Engine coordinates validation, assembly, and atomic commit of span batches,
// and serves the read paths over committed state.
type Engine struct {
	store  storage.Store
	logger *slog.Logger
	locks  *traceLocks
	sf     singleflight.Group

	spansCommitted  metric.Int64Counter
	batchesAccepted metric.Int64Counter
	batchesRejected metric.Int64Counter
}

// New creates an Engine on top of the given store.
func New(store storage.Store, logger *slog.Logger) *Engine {
	e := &Engine{
		store:  store,
		logger: logger,
		locks:  newTraceLocks(),
	}

	meter := telemetry.Meter("kiroku/ingest")
	var err error
	if e.spansCommitted, err = meter.Int64Counter("kiroku.spans.committed"); err != nil {
		logger.Warn("metric registration failed", "metric", "kiroku.spans.committed", "error", err)
	}
	if e.batchesAccepted, err = meter.Int64Counter("kiroku.batches.accepted"); err != nil {
		logger.Warn("metric registration failed", "metric", "kiroku.batches.accepted", "error", err)
	}
	if e.batchesRejected, err = meter.Int64Counter("kiroku.batches.rejected"); err != nil {
		logger.Warn("metric registration failed", "metric", "kiroku.batches.rejected", "error", err)
	}
	return e
}

// Ingest validates and commits one batch atomically. On rejection the error
// is a *BatchError naming every offending span; nothing was committed. The
// write sections of every touched trace are held for the full
// validate-assemble-commit sequence, in sorted trace-ID order.
func (e *Engine) Ingest(ctx context.Context, batch []model.SpanInput) (model.IngestResponse, error) {
	if len(batch) == 0 {
		return model.IngestResponse{}, ErrEmptyBatch
	}
	start := time.Now()

	traceIDs := distinctTraceIDs(batch)
	release := e.locks.lockAll(traceIDs)
	defer release()

	states, err := e.loadStates(ctx, traceIDs)
	if err != nil {
		return model.IngestResponse{}, err
	}

	plan, err := assembleBatch(ctx, batch, states, e.store.SpanExistsInOtherTrace, time.Now().UTC())
	if err != nil {
		var be *BatchError
		if errors.As(err, &be) {
			e.count(ctx, e.batchesRejected, 1)
			e.logger.Info("batch rejected",
				"traces", len(traceIDs),
				"spans", len(batch),
				"violations", len(be.Violations),
			)
		}
		return model.IngestResponse{}, err
	}

	if err := e.store.Commit(ctx, plan); err != nil {
		e.logger.Error("batch commit failed", "batch_id", plan.BatchID, "error", err)
		return model.IngestResponse{}, fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	e.count(ctx, e.batchesAccepted, 1)
	e.count(ctx, e.spansCommitted, int64(len(plan.Spans)))
	e.logger.Info("batch committed",
		"batch_id", plan.BatchID,
		"traces", len(traceIDs),
		"spans", len(plan.Spans),
		"orphans_added", len(plan.OrphanAdds),
		"orphans_resolved", len(plan.OrphanResolves),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return model.IngestResponse{TraceIDs: traceIDs, SpanCount: len(plan.Spans)}, nil
}

// GetTrace returns the read view of a trace: all committed spans in start
// order plus the current root, from one storage snapshot so a concurrent
// commit never tears the view. Concurrent requests for the same trace share
// one storage round trip; the shared flight runs on a detached context so one
// caller's cancellation does not fail the others.
func (e *Engine) GetTrace(ctx context.Context, traceID string) (model.TraceView, error) {
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := e.sf.Do("trace:"+traceID, func() (any, error) {
		return e.store.GetTraceView(flightCtx, traceID)
	})
	if err != nil {
		return model.TraceView{}, err
	}
	return v.(model.TraceView), nil
}

// GetSpan returns one committed span.
func (e *Engine) GetSpan(ctx context.Context, traceID, spanID string) (model.Span, error) {
	return e.store.GetSpan(ctx, traceID, spanID)
}

// SpanExists reports whether a committed span exists for the given identity.
// It reflects committed state only; a span in an in-flight batch does not
// exist yet.
func (e *Engine) SpanExists(ctx context.Context, traceID, spanID string) (bool, error) {
	return e.store.SpanExists(ctx, traceID, spanID)
}

// ListTraces returns trace summaries, newest first.
func (e *Engine) ListTraces(ctx context.Context, limit, offset int) ([]model.TraceSummary, error) {
	return e.store.ListTraces(ctx, limit, offset)
}

// DeleteTrace removes a trace and all of its spans atomically. It takes the
// trace's write section so a concurrent batch never observes a half-deleted
// trace.
func (e *Engine) DeleteTrace(ctx context.Context, traceID string) (int64, error) {
	e.locks.lock(traceID)
	defer e.locks.unlock(traceID)

	deleted, err := e.store.DeleteTrace(ctx, traceID)
	if err != nil {
		return 0, err
	}
	e.logger.Info("trace deleted", "trace_id", traceID, "spans_deleted", deleted)
	return deleted, nil
}

// loadStates fetches the committed snapshot of every touched trace
// concurrently. It runs under the traces' write sections, so the snapshots
// are stable for the rest of the batch.
func (e *Engine) loadStates(ctx context.Context, traceIDs []string) (map[string]storage.TraceState, error) {
	states := make(map[string]storage.TraceState, len(traceIDs))
	results := make([]storage.TraceState, len(traceIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, traceID := range traceIDs {
		g.Go(func() error {
			st, err := e.store.TraceState(gctx, traceID)
			if err != nil {
				return fmt.Errorf("ingest: load state for trace %s: %w", traceID, err)
			}
			results[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, traceID := range traceIDs {
		states[traceID] = results[i]
	}
	return states, nil
}

func (e *Engine) count(ctx context.Context, c metric.Int64Counter, n int64) {
	if c != nil {
		c.Add(ctx, n)
	}
}

func distinctTraceIDs(batch []model.SpanInput) []string {
	seen := make(map[string]struct{}, len(batch))
	var ids []string
	for i := range batch {
		id := batch[i].TraceID
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
