package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Lite is the SQLite-backed Store, for single-binary deployments and tests.
// The path can be a file or ":memory:".
//
// Writes go through a single-connection handle so the one-writer rule is
// enforced at the pool level. File-backed stores get a separate pooled read
// handle (WAL mode) so reads do not queue behind an in-flight commit; for
// :memory: both handles are the same connection, since each new connection
// would see its own empty database.
type Lite struct {
	db     *sql.DB // single writer connection
	reader *sql.DB
	logger *slog.Logger
}

var _ Store = (*Lite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS traces (
    trace_id     TEXT PRIMARY KEY,
    root_span_id TEXT,
    created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS spans (
    trace_id       TEXT NOT NULL,
    span_id        TEXT NOT NULL,
    parent_span_id TEXT,
    name           TEXT NOT NULL,
    input          TEXT,
    output         TEXT,
    started_at     INTEGER NOT NULL,
    ended_at       INTEGER,
    usage          TEXT,
    model          TEXT,
    metadata       TEXT,
    error          TEXT,
    created_at     INTEGER NOT NULL,
    PRIMARY KEY (trace_id, span_id)
);

CREATE INDEX IF NOT EXISTS idx_spans_trace_started ON spans (trace_id, started_at, span_id);
CREATE INDEX IF NOT EXISTS idx_spans_span_id ON spans (span_id);

CREATE TABLE IF NOT EXISTS orphans (
    trace_id       TEXT NOT NULL,
    parent_span_id TEXT NOT NULL,
    span_id        TEXT NOT NULL,
    created_at     INTEGER NOT NULL,
    PRIMARY KEY (trace_id, parent_span_id, span_id)
);

CREATE INDEX IF NOT EXISTS idx_orphans_trace ON orphans (trace_id);
`

// NewSQLite opens (or creates) a SQLite store at the given path and
// initializes the schema. Timestamps are stored as Unix nanoseconds so SQL
// ordering matches chronological ordering.
func NewSQLite(path string, logger *slog.Logger) (*Lite, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init sqlite schema: %w", err)
	}

	reader := db
	if path != ":memory:" {
		reader, err = sql.Open("sqlite", dsn)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("storage: open sqlite reader: %w", err)
		}
	}

	return &Lite{db: db, reader: reader, logger: logger}, nil
}

// Ping checks connectivity to the database.
func (l *Lite) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close shuts down both database handles.
func (l *Lite) Close() error {
	err := l.db.Close()
	if l.reader != l.db {
		if rerr := l.reader.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

// Commit applies the plan in a single transaction.
func (l *Lite) Commit(ctx context.Context, plan CommitPlan) error {
	if plan.Empty() {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range plan.NewTraces {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO traces (trace_id, root_span_id, created_at) VALUES (?, ?, ?)`,
			t.TraceID, nullStr(t.RootSpanID), t.CreatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("storage: insert trace %s: %w", t.TraceID, err)
		}
	}

	for traceID, rootID := range plan.RootUpdates {
		if _, err := tx.ExecContext(ctx,
			`UPDATE traces SET root_span_id = ? WHERE trace_id = ?`, rootID, traceID,
		); err != nil {
			return fmt.Errorf("storage: assign root for trace %s: %w", traceID, err)
		}
	}

	for _, s := range plan.Spans {
		input, output, usage, metadata, spanErr, err := encodeSpanJSON(s)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO spans (trace_id, span_id, parent_span_id, name, input, output,
			 started_at, ended_at, usage, model, metadata, error, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.TraceID, s.SpanID, nullStr(s.ParentSpanID), s.Name, nullBytes(input), nullBytes(output),
			s.StartedAt.UnixNano(), nullTime(s.EndedAt), nullBytes(usage), nullStr(s.Model),
			nullBytes(metadata), nullBytes(spanErr), s.CreatedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("storage: insert span %s/%s: %w", s.TraceID, s.SpanID, err)
		}
	}

	for _, o := range plan.OrphanResolves {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM orphans WHERE trace_id = ? AND parent_span_id = ? AND span_id = ?`,
			o.TraceID, o.ParentSpanID, o.SpanID,
		); err != nil {
			return fmt.Errorf("storage: resolve orphan %s/%s: %w", o.TraceID, o.SpanID, err)
		}
	}

	for _, o := range plan.OrphanAdds {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO orphans (trace_id, parent_span_id, span_id, created_at) VALUES (?, ?, ?, ?)`,
			o.TraceID, o.ParentSpanID, o.SpanID, plan.CommittedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("storage: add orphan %s/%s: %w", o.TraceID, o.SpanID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit batch tx: %w", err)
	}
	return nil
}

func nullStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
