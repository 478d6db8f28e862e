package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
)

// TraceState loads the committed snapshot for a trace.
func (l *Lite) TraceState(ctx context.Context, traceID string) (TraceState, error) {
	st := TraceState{
		TraceID: traceID,
		Parents: make(map[string]string),
		Orphans: make(map[string][]string),
	}

	var root sql.NullString
	err := l.reader.QueryRowContext(ctx,
		`SELECT root_span_id FROM traces WHERE trace_id = ?`, traceID).Scan(&root)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return st, nil
	case err != nil:
		return TraceState{}, fmt.Errorf("storage: load trace row: %w", err)
	}
	st.Exists = true
	if root.Valid {
		st.RootSpanID = &root.String
	}

	rows, err := l.reader.QueryContext(ctx,
		`SELECT span_id, parent_span_id FROM spans WHERE trace_id = ?`, traceID)
	if err != nil {
		return TraceState{}, fmt.Errorf("storage: load span parents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var spanID string
		var parent sql.NullString
		if err := rows.Scan(&spanID, &parent); err != nil {
			return TraceState{}, fmt.Errorf("storage: scan span parent: %w", err)
		}
		st.Parents[spanID] = parent.String
	}
	if err := rows.Err(); err != nil {
		return TraceState{}, fmt.Errorf("storage: iterate span parents: %w", err)
	}

	orows, err := l.reader.QueryContext(ctx,
		`SELECT parent_span_id, span_id FROM orphans WHERE trace_id = ?`, traceID)
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
func (l *Lite) SpanExistsInOtherTrace(ctx context.Context, spanID, traceID string) (bool, error) {
	var n int
	err := l.reader.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM spans WHERE span_id = ? AND trace_id <> ?)`,
		spanID, traceID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage: span exists in other trace: %w", err)
	}
	return n == 1, nil
}

// liteQuerier is satisfied by both *sql.DB and *sql.Tx, so read helpers can
// run standalone or inside a snapshot transaction.
type liteQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetTrace returns the trace row.
func (l *Lite) GetTrace(ctx context.Context, traceID string) (model.Trace, error) {
	return liteTraceRow(ctx, l.reader, traceID)
}

func liteTraceRow(ctx context.Context, q liteQuerier, traceID string) (model.Trace, error) {
	t := model.Trace{TraceID: traceID}
	var root sql.NullString
	var createdAt int64
	err := q.QueryRowContext(ctx,
		`SELECT root_span_id, created_at FROM traces WHERE trace_id = ?`, traceID,
	).Scan(&root, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Trace{}, fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
	}
	if err != nil {
		return model.Trace{}, fmt.Errorf("storage: get trace: %w", err)
	}
	if root.Valid {
		t.RootSpanID = &root.String
	}
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	return t, nil
}

const liteSelectSpan = `SELECT trace_id, span_id, parent_span_id, name, input, output,
	started_at, ended_at, usage, model, metadata, error, created_at FROM spans`

// GetTraceSpans returns all committed spans for a trace ordered by start
// time, ties broken by span ID.
func (l *Lite) GetTraceSpans(ctx context.Context, traceID string) ([]model.Span, error) {
	return liteTraceSpans(ctx, l.reader, traceID)
}

func liteTraceSpans(ctx context.Context, q liteQuerier, traceID string) ([]model.Span, error) {
	rows, err := q.QueryContext(ctx,
		liteSelectSpan+` WHERE trace_id = ? ORDER BY started_at, span_id`, traceID)
	if err != nil {
		return nil, fmt.Errorf("storage: get trace spans: %w", err)
	}
	defer rows.Close()
	return scanLiteSpans(rows)
}

// OrphanCount returns the number of orphan-index entries for a trace.
func (l *Lite) OrphanCount(ctx context.Context, traceID string) (int, error) {
	return liteOrphanCount(ctx, l.reader, traceID)
}

func liteOrphanCount(ctx context.Context, q liteQuerier, traceID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT count(*) FROM orphans WHERE trace_id = ?`, traceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count orphans: %w", err)
	}
	return n, nil
}

// GetTraceView reads the trace row, spans, and orphan count inside one read
// transaction. SQLite transactions are snapshot-isolated, so a commit landing
// mid-view is either fully visible or not at all.
func (l *Lite) GetTraceView(ctx context.Context, traceID string) (model.TraceView, error) {
	tx, err := l.reader.BeginTx(ctx, nil)
	if err != nil {
		return model.TraceView{}, fmt.Errorf("storage: begin view tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	trace, err := liteTraceRow(ctx, tx, traceID)
	if err != nil {
		return model.TraceView{}, err
	}
	spans, err := liteTraceSpans(ctx, tx, traceID)
	if err != nil {
		return model.TraceView{}, err
	}
	orphans, err := liteOrphanCount(ctx, tx, traceID)
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
func (l *Lite) GetSpan(ctx context.Context, traceID, spanID string) (model.Span, error) {
	rows, err := l.reader.QueryContext(ctx,
		liteSelectSpan+` WHERE trace_id = ? AND span_id = ?`, traceID, spanID)
	if err != nil {
		return model.Span{}, fmt.Errorf("storage: get span: %w", err)
	}
	defer rows.Close()

	spans, err := scanLiteSpans(rows)
	if err != nil {
		return model.Span{}, err
	}
	if len(spans) == 0 {
		return model.Span{}, fmt.Errorf("%w: %s/%s", ErrSpanNotFound, traceID, spanID)
	}
	return spans[0], nil
}

// SpanExists reports whether a committed span exists for the given identity.
func (l *Lite) SpanExists(ctx context.Context, traceID, spanID string) (bool, error) {
	var n int
	err := l.reader.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM spans WHERE trace_id = ? AND span_id = ?)`,
		traceID, spanID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage: span exists: %w", err)
	}
	return n == 1, nil
}

// ListTraces returns trace summaries ordered by creation time descending.
func (l *Lite) ListTraces(ctx context.Context, limit, offset int) ([]model.TraceSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.reader.QueryContext(ctx,
		`SELECT t.trace_id, t.root_span_id, t.created_at,
		        (SELECT count(*) FROM spans s WHERE s.trace_id = t.trace_id)
		 FROM traces t
		 ORDER BY t.created_at DESC, t.trace_id
		 LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list traces: %w", err)
	}
	defer rows.Close()

	var out []model.TraceSummary
	for rows.Next() {
		var ts model.TraceSummary
		var root sql.NullString
		var createdAt int64
		if err := rows.Scan(&ts.TraceID, &root, &createdAt, &ts.SpanCount); err != nil {
			return nil, fmt.Errorf("storage: scan trace summary: %w", err)
		}
		if root.Valid {
			ts.RootSpanID = &root.String
		}
		ts.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, ts)
	}
	return out, rows.Err()
}

// DeleteTrace removes the trace, its spans, and its orphan-index entries in
// one transaction.
func (l *Lite) DeleteTrace(ctx context.Context, traceID string) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage: begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM traces WHERE trace_id = ?`, traceID)
	if err != nil {
		return 0, fmt.Errorf("storage: delete trace row: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: delete trace row affected: %w", err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
	}

	spanRes, err := tx.ExecContext(ctx, `DELETE FROM spans WHERE trace_id = ?`, traceID)
	if err != nil {
		return 0, fmt.Errorf("storage: delete spans: %w", err)
	}
	spansDeleted, err := spanRes.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: delete spans affected: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orphans WHERE trace_id = ?`, traceID); err != nil {
		return 0, fmt.Errorf("storage: delete orphans: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage: commit delete tx: %w", err)
	}
	return spansDeleted, nil
}

func scanLiteSpans(rows *sql.Rows) ([]model.Span, error) {
	var spans []model.Span
	for rows.Next() {
		var s model.Span
		var parent, mdl sql.NullString
		var input, output, usage, metadata, spanErr []byte
		var startedAt, createdAt int64
		var endedAt sql.NullInt64
		if err := rows.Scan(
			&s.TraceID, &s.SpanID, &parent, &s.Name, &input, &output,
			&startedAt, &endedAt, &usage, &mdl, &metadata, &spanErr, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan span: %w", err)
		}
		if parent.Valid {
			s.ParentSpanID = &parent.String
		}
		if mdl.Valid {
			s.Model = &mdl.String
		}
		s.StartedAt = time.Unix(0, startedAt).UTC()
		if endedAt.Valid {
			t := time.Unix(0, endedAt.Int64).UTC()
			s.EndedAt = &t
		}
		s.CreatedAt = time.Unix(0, createdAt).UTC()
		if err := decodeSpanJSON(&s, input, output, usage, metadata, spanErr); err != nil {
			return nil, err
		}
		spans = append(spans, s)
	}
	return spans, rows.Err()
}
