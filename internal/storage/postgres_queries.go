package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kiroku/internal/model"
)

// TraceState loads the committed snapshot for a trace: the trace row, every
// committed span's declared parent, and the orphan index.
func (db *DB) TraceState(ctx context.Context, traceID string) (TraceState, error) {
	st := TraceState{
		TraceID: traceID,
		Parents: make(map[string]string),
		Orphans: make(map[string][]string),
	}

	err := db.pool.QueryRow(ctx,
		`SELECT root_span_id FROM traces WHERE trace_id = $1`, traceID,
	).Scan(&st.RootSpanID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return st, nil
	case err != nil:
		return TraceState{}, fmt.Errorf("storage: load trace row: %w", err)
	}
	st.Exists = true

	rows, err := db.pool.Query(ctx,
		`SELECT span_id, parent_span_id FROM spans WHERE trace_id = $1`, traceID)
	if err != nil {
		return TraceState{}, fmt.Errorf("storage: load span parents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var spanID string
		var parent *string
		if err := rows.Scan(&spanID, &parent); err != nil {
			return TraceState{}, fmt.Errorf("storage: scan span parent: %w", err)
		}
		if parent != nil {
			st.Parents[spanID] = *parent
		} else {
			st.Parents[spanID] = ""
		}
	}
	if err := rows.Err(); err != nil {
		return TraceState{}, fmt.Errorf("storage: iterate span parents: %w", err)
	}

	orows, err := db.pool.Query(ctx,
		`SELECT parent_span_id, span_id FROM orphans WHERE trace_id = $1`, traceID)
	if err != nil {
		return TraceState{}, fmt.Errorf("storage: load orphans: %w", err)
	}
	defer orows.Close()
	for orows.Next() {
		var parentID, spanID string
		if err := orows.Scan(&parentID, &spanID); err != nil {
			return TraceState{}, fmt.Errorf("storage: scan orphan: %w", err)
		}
		st.Orphans[parentID] = append(st.Orphans[parentID], spanID)
	}
	if err := orows.Err(); err != nil {
		return TraceState{}, fmt.Errorf("storage: iterate orphans: %w", err)
	}

	return st, nil
}

// SpanExistsInOtherTrace reports whether any committed span outside the given
// trace carries the given span ID.
func (db *DB) SpanExistsInOtherTrace(ctx context.Context, spanID, traceID string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM spans WHERE span_id = $1 AND trace_id <> $2)`,
		spanID, traceID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: span exists in other trace: %w", err)
	}
	return exists, nil
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, so read helpers
// can run standalone or inside a snapshot transaction.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetTrace returns the trace row.
func (db *DB) GetTrace(ctx context.Context, traceID string) (model.Trace, error) {
	return pgTraceRow(ctx, db.pool, traceID)
}

func pgTraceRow(ctx context.Context, q pgQuerier, traceID string) (model.Trace, error) {
	t := model.Trace{TraceID: traceID}
	err := q.QueryRow(ctx,
		`SELECT root_span_id, created_at FROM traces WHERE trace_id = $1`, traceID,
	).Scan(&t.RootSpanID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Trace{}, fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
	}
	if err != nil {
		return model.Trace{}, fmt.Errorf("storage: get trace: %w", err)
	}
	return t, nil
}

const pgSelectSpan = `SELECT trace_id, span_id, parent_span_id, name, input, output,
	started_at, ended_at, usage, model, metadata, error, created_at FROM spans`

// GetTraceSpans returns all committed spans for a trace ordered by start
// time, ties broken by span ID.
func (db *DB) GetTraceSpans(ctx context.Context, traceID string) ([]model.Span, error) {
	return pgTraceSpans(ctx, db.pool, traceID)
}

func pgTraceSpans(ctx context.Context, q pgQuerier, traceID string) ([]model.Span, error) {
	rows, err := q.Query(ctx,
		pgSelectSpan+` WHERE trace_id = $1 ORDER BY started_at, span_id`, traceID)
	if err != nil {
		return nil, fmt.Errorf("storage: get trace spans: %w", err)
	}
	defer rows.Close()
	return scanPgSpans(rows)
}

// OrphanCount returns the number of orphan-index entries for a trace.
func (db *DB) OrphanCount(ctx context.Context, traceID string) (int, error) {
	return pgOrphanCount(ctx, db.pool, traceID)
}

func pgOrphanCount(ctx context.Context, q pgQuerier, traceID string) (int, error) {
	var n int
	err := q.QueryRow(ctx,
		`SELECT count(*) FROM orphans WHERE trace_id = $1`, traceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count orphans: %w", err)
	}
	return n, nil
}

// GetTraceView reads the trace row, spans, and orphan count inside one
// repeatable-read transaction. Read-committed would take a fresh snapshot per
// statement and could interleave with a concurrent commit, tearing the view.
func (db *DB) GetTraceView(ctx context.Context, traceID string) (model.TraceView, error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return model.TraceView{}, fmt.Errorf("storage: begin view tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	trace, err := pgTraceRow(ctx, tx, traceID)
	if err != nil {
		return model.TraceView{}, err
	}
	spans, err := pgTraceSpans(ctx, tx, traceID)
	if err != nil {
		return model.TraceView{}, err
	}
	orphans, err := pgOrphanCount(ctx, tx, traceID)
	if err != nil {
		return model.TraceView{}, err
	}

	return model.TraceView{
		TraceID:     trace.TraceID,
		RootSpanID:  trace.RootSpanID,
		CreatedAt:   trace.CreatedAt,
		Spans:       spans,
		SpanCount:   len(spans),
		OrphanCount: orphans,
	}, nil
}

// GetSpan returns one committed span.
func (db *DB) GetSpan(ctx context.Context, traceID, spanID string) (model.Span, error) {
	rows, err := db.pool.Query(ctx,
		pgSelectSpan+` WHERE trace_id = $1 AND span_id = $2`, traceID, spanID)
	if err != nil {
		return model.Span{}, fmt.Errorf("storage: get span: %w", err)
	}
	defer rows.Close()

	spans, err := scanPgSpans(rows)
	if err != nil {
		return model.Span{}, err
	}
	if len(spans) == 0 {
		return model.Span{}, fmt.Errorf("%w: %s/%s", ErrSpanNotFound, traceID, spanID)
	}
	return spans[0], nil
}

// SpanExists reports whether a committed span exists for the given identity.
func (db *DB) SpanExists(ctx context.Context, traceID, spanID string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM spans WHERE trace_id = $1 AND span_id = $2)`,
		traceID, spanID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: span exists: %w", err)
	}
	return exists, nil
}

// ListTraces returns trace summaries ordered by creation time descending.
func (db *DB) ListTraces(ctx context.Context, limit, offset int) ([]model.TraceSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT t.trace_id, t.root_span_id, t.created_at,
		        (SELECT count(*) FROM spans s WHERE s.trace_id = t.trace_id)
		 FROM traces t
		 ORDER BY t.created_at DESC, t.trace_id
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list traces: %w", err)
	}
	defer rows.Close()

	var out []model.TraceSummary
	for rows.Next() {
		var ts model.TraceSummary
		if err := rows.Scan(&ts.TraceID, &ts.RootSpanID, &ts.CreatedAt, &ts.SpanCount); err != nil {
			return nil, fmt.Errorf("storage: scan trace summary: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// DeleteTrace removes the trace, its spans, and its orphan-index entries in
// one transaction.
func (db *DB) DeleteTrace(ctx context.Context, traceID string) (int64, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("storage: begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM traces WHERE trace_id = $1`, traceID)
	if err != nil {
		return 0, fmt.Errorf("storage: delete trace row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
	}

	spanTag, err := tx.Exec(ctx, `DELETE FROM spans WHERE trace_id = $1`, traceID)
	if err != nil {
		return 0, fmt.Errorf("storage: delete spans: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM orphans WHERE trace_id = $1`, traceID); err != nil {
		return 0, fmt.Errorf("storage: delete orphans: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("storage: commit delete tx: %w", err)
	}
	return spanTag.RowsAffected(), nil
}

func scanPgSpans(rows pgx.Rows) ([]model.Span, error) {
	var spans []model.Span
	for rows.Next() {
		var s model.Span
		var input, output, usage, metadata, spanErr []byte
		if err := rows.Scan(
			&s.TraceID, &s.SpanID, &s.ParentSpanID, &s.Name, &input, &output,
			&s.StartedAt, &s.EndedAt, &usage, &s.Model, &metadata, &spanErr, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan span: %w", err)
		}
		if err := decodeSpanJSON(&s, input, output, usage, metadata, spanErr); err != nil {
			return nil, err
		}
		spans = append(spans, s)
	}
	return spans, rows.Err()
}
