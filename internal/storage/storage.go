// Package storage provides durable state for the trace ingestion engine.
//
// Two backends implement the Store contract: Postgres (via pgxpool) for
// production deployments and SQLite (via modernc.org/sqlite) for
// single-binary and development use. Both commit a batch's change-set in a
// single transaction so readers never observe a partially-applied batch.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
)

// TraceState is the committed-state snapshot for one trace, loaded under the
// trace's write section before a batch is assembled against it. Parents maps
// every committed span ID to its declared parent ID ("" for the root), so
// cycle detection is a bounded walk over stable identifiers rather than a
// live pointer traversal.
type TraceState struct {
	TraceID    string
	Exists     bool
	RootSpanID *string

	// Parents: committed span ID -> declared parent span ID ("" if none).
	Parents map[string]string

	// Orphans: missing parent ID -> span IDs waiting on it.
	Orphans map[string][]string
}

// HasSpan reports whether the trace has a committed span with the given ID.
func (st *TraceState) HasSpan(spanID string) bool {
	_, ok := st.Parents[spanID]
	return ok
}

// OrphanRef identifies one orphan-index entry: a committed span waiting on a
// parent that has not arrived yet.
type OrphanRef struct {
	TraceID      string
	ParentSpanID string
	SpanID       string
}

// CommitPlan is the full set of structural changes computed for one accepted
// batch. It is deterministic for the same input batch and prior state, so a
// retried commit applies the identical change-set.
type CommitPlan struct {
	BatchID     uuid.UUID
	CommittedAt time.Time

	Spans []model.Span

	// NewTraces are traces implicitly instantiated by this batch, with
	// RootSpanID already set when the batch carries their root.
	NewTraces []model.Trace

	// RootUpdates assigns roots to traces that already existed rootless:
	// trace ID -> newly committed root span ID.
	RootUpdates map[string]string

	OrphanAdds     []OrphanRef
	OrphanResolves []OrphanRef
}

// Empty reports whether the plan carries no changes.
func (p *CommitPlan) Empty() bool {
	return len(p.Spans) == 0
}

// Store is the durable, atomically-updated backing store for committed spans,
// trace roots, and the orphan index.
type Store interface {
	// TraceState loads the committed snapshot for a trace. A trace that has
	// never been written returns a zero-valued state with Exists=false.
	TraceState(ctx context.Context, traceID string) (TraceState, error)

	// SpanExistsInOtherTrace reports whether any committed span outside the
	// given trace carries the given span ID. Used to distinguish a
	// cross-trace parent reference (a conflict) from an unknown parent
	// (an orphan candidate).
	SpanExistsInOtherTrace(ctx context.Context, spanID, traceID string) (bool, error)

	// Commit applies the plan as a single durable write. Either every change
	// becomes visible to readers or none does. Transient storage failures
	// are retried internally; an error return means retries were exhausted
	// and the batch must be resubmitted.
	Commit(ctx context.Context, plan CommitPlan) error

	// GetTrace returns the trace row, or ErrNotFound if no span for the
	// trace has ever been committed.
	GetTrace(ctx context.Context, traceID string) (model.Trace, error)

	// GetTraceView returns the trace row, its spans in start order, and the
	// orphan count read from one consistent snapshot, so a batch committing
	// concurrently is either fully visible in the view or not at all.
	// Returns ErrNotFound for an unknown trace.
	GetTraceView(ctx context.Context, traceID string) (model.TraceView, error)

	// GetTraceSpans returns all committed spans for a trace ordered by start
	// time, ties broken by span ID for determinism.
	GetTraceSpans(ctx context.Context, traceID string) ([]model.Span, error)

	// OrphanCount returns the number of orphan-index entries for a trace.
	OrphanCount(ctx context.Context, traceID string) (int, error)

	// GetSpan returns one committed span, or ErrNotFound.
	GetSpan(ctx context.Context, traceID, spanID string) (model.Span, error)

	// SpanExists is the lightweight existence check used by the scoring
	// subsystem for referential validation.
	SpanExists(ctx context.Context, traceID, spanID string) (bool, error)

	// ListTraces returns trace summaries ordered by creation time descending.
	ListTraces(ctx context.Context, limit, offset int) ([]model.TraceSummary, error)

	// DeleteTrace removes the trace and every committed span within it as
	// one atomic operation, returning the number of spans removed.
	// Returns ErrNotFound if the trace does not exist.
	DeleteTrace(ctx context.Context, traceID string) (int64, error)

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}
