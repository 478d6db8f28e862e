package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// copyThreshold is the batch size above which span inserts switch from a
// pipelined batch to the COPY protocol.
const copyThreshold = 50

// Commit applies the plan as a single transaction, retried with jittered
// backoff on serialization or deadlock failures. The plan is deterministic
// for the same input batch and prior state, so retries are idempotent.
func (db *DB) Commit(ctx context.Context, plan CommitPlan) error {
	if plan.Empty() {
		return nil
	}
	return WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return db.commitOnce(ctx, plan)
	})
}

func (db *DB) commitOnce(ctx context.Context, plan CommitPlan) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range plan.NewTraces {
		if _, err := tx.Exec(ctx,
			`INSERT INTO traces (trace_id, root_span_id, created_at) VALUES ($1, $2, $3)`,
			t.TraceID, t.RootSpanID, t.CreatedAt,
		); err != nil {
			return fmt.Errorf("storage: insert trace %s: %w", t.TraceID, err)
		}
	}

	for traceID, rootID := range plan.RootUpdates {
		if _, err := tx.Exec(ctx,
			`UPDATE traces SET root_span_id = $1 WHERE trace_id = $2`,
			rootID, traceID,
		); err != nil {
			return fmt.Errorf("storage: assign root for trace %s: %w", traceID, err)
		}
	}

	if len(plan.Spans) >= copyThreshold {
		if err := db.copySpans(ctx, tx, plan); err != nil {
			return err
		}
	} else if err := db.batchInsertSpans(ctx, tx, plan); err != nil {
		return err
	}

	for _, o := range plan.OrphanResolves {
		if _, err := tx.Exec(ctx,
			`DELETE FROM orphans WHERE trace_id = $1 AND parent_span_id = $2 AND span_id = $3`,
			o.TraceID, o.ParentSpanID, o.SpanID,
		); err != nil {
			return fmt.Errorf("storage: resolve orphan %s/%s: %w", o.TraceID, o.SpanID, err)
		}
	}

	for _, o := range plan.OrphanAdds {
		if _, err := tx.Exec(ctx,
			`INSERT INTO orphans (trace_id, parent_span_id, span_id, created_at)
			 VALUES ($1, $2, $3, $4)`,
			o.TraceID, o.ParentSpanID, o.SpanID, plan.CommittedAt,
		); err != nil {
			return fmt.Errorf("storage: add orphan %s/%s: %w", o.TraceID, o.SpanID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit batch tx: %w", err)
	}
	return nil
}

func (db *DB) batchInsertSpans(ctx context.Context, tx pgx.Tx, plan CommitPlan) error {
	b := &pgx.Batch{}
	for _, s := range plan.Spans {
		input, output, usage, metadata, spanErr, err := encodeSpanJSON(s)
		if err != nil {
			return err
		}
		b.Queue(
			`INSERT INTO spans (trace_id, span_id, parent_span_id, name, input, output,
			 started_at, ended_at, usage, model, metadata, error, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			s.TraceID, s.SpanID, s.ParentSpanID, s.Name, input, output,
			s.StartedAt, s.EndedAt, usage, s.Model, metadata, spanErr, s.CreatedAt,
		)
	}
	br := tx.SendBatch(ctx, b)
	defer br.Close()
	for range plan.Spans {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("storage: insert span: %w", err)
		}
	}
	return br.Close()
}

func (db *DB) copySpans(ctx context.Context, tx pgx.Tx, plan CommitPlan) error {
	rows := make([][]any, len(plan.Spans))
	for i, s := range plan.Spans {
		input, output, usage, metadata, spanErr, err := encodeSpanJSON(s)
		if err != nil {
			return err
		}
		rows[i] = []any{
			s.TraceID, s.SpanID, s.ParentSpanID, s.Name, input, output,
			s.StartedAt, s.EndedAt, usage, s.Model, metadata, spanErr, s.CreatedAt,
		}
	}

	// Dedicated COPY timeout prevents a hung Postgres from blocking the
	// per-trace write sections indefinitely.
	copyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := tx.CopyFrom(copyCtx, pgx.Identifier{"spans"}, spanColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("storage: copy spans: %w", err)
	}
	return nil
}
