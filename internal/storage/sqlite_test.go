package storage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/testutil"
)

var liteNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newLite(t *testing.T) *storage.Lite {
	t.Helper()
	lite := testutil.MustOpenSQLite()
	t.Cleanup(func() { _ = lite.Close() })
	return lite
}

func litePlan(spans ...model.Span) storage.CommitPlan {
	plan := storage.CommitPlan{
		BatchID:     uuid.New(),
		CommittedAt: liteNow,
		Spans:       spans,
		RootUpdates: map[string]string{},
	}
	return plan
}

func liteSpan(traceID, spanID, parent string) model.Span {
	s := model.Span{
		SpanID:    spanID,
		TraceID:   traceID,
		Name:      "op." + spanID,
		StartedAt: liteNow,
		CreatedAt: liteNow,
	}
	if parent != "" {
		s.ParentSpanID = &parent
	}
	return s
}

func TestLiteCommitAndTraceState(t *testing.T) {
	lite := newLite(t)
	ctx := context.Background()

	root := "A"
	plan := litePlan(liteSpan("T1", "A", ""), liteSpan("T1", "B", "A"))
	plan.NewTraces = []model.Trace{{TraceID: "T1", RootSpanID: &root, CreatedAt: liteNow}}
	require.NoError(t, lite.Commit(ctx, plan))

	st, err := lite.TraceState(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, st.Exists)
	require.NotNil(t, st.RootSpanID)
	assert.Equal(t, "A", *st.RootSpanID)
	assert.Equal(t, map[string]string{"A": "", "B": "A"}, st.Parents)
	assert.Empty(t, st.Orphans)
}

func TestLiteTraceStateUnknownTrace(t *testing.T) {
	lite := newLite(t)

	st, err := lite.TraceState(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, st.Exists)
	assert.Empty(t, st.Parents)
}

func TestLiteSpanPayloadRoundTrip(t *testing.T) {
	lite := newLite(t)
	ctx := context.Background()

	ended := liteNow.Add(2 * time.Second)
	errType := "Timeout"
	mdl := "gpt-4o"
	s := liteSpan("T1", "A", "")
	s.Input = json.RawMessage(`{"prompt":"hi"}`)
	s.Output = json.RawMessage(`{"text":"hello"}`)
	s.EndedAt = &ended
	s.Usage = map[string]int64{"input_tokens": 12, "output_tokens": 40}
	s.Model = &mdl
	s.Metadata = model.Metadata{"env": model.MetaStr("prod"), "retry": model.MetaNum(2)}
	s.Error = &model.SpanError{Message: "upstream timeout", Type: &errType}

	plan := litePlan(s)
	plan.NewTraces = []model.Trace{{TraceID: "T1", CreatedAt: liteNow}}
	require.NoError(t, lite.Commit(ctx, plan))

	got, err := lite.GetSpan(ctx, "T1", "A")
	require.NoError(t, err)
	assert.JSONEq(t, `{"prompt":"hi"}`, string(got.Input))
	assert.JSONEq(t, `{"text":"hello"}`, string(got.Output))
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(ended))
	assert.Equal(t, s.Usage, got.Usage)
	assert.Equal(t, s.Metadata, got.Metadata)
	require.NotNil(t, got.Error)
	assert.Equal(t, "upstream timeout", got.Error.Message)
	require.NotNil(t, got.Error.Type)
	assert.Equal(t, "Timeout", *got.Error.Type)
}

func TestLiteOrphanLifecycle(t *testing.T) {
	lite := newLite(t)
	ctx := context.Background()

	plan := litePlan(liteSpan("T1", "B", "A"))
	plan.NewTraces = []model.Trace{{TraceID: "T1", CreatedAt: liteNow}}
	plan.OrphanAdds = []storage.OrphanRef{{TraceID: "T1", ParentSpanID: "A", SpanID: "B"}}
	require.NoError(t, lite.Commit(ctx, plan))

	st, err := lite.TraceState(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"A": {"B"}}, st.Orphans)

	n, err := lite.OrphanCount(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Parent arrives: span commits, orphan entry resolves, root assigned.
	plan2 := litePlan(liteSpan("T1", "A", ""))
	plan2.RootUpdates = map[string]string{"T1": "A"}
	plan2.OrphanResolves = []storage.OrphanRef{{TraceID: "T1", ParentSpanID: "A", SpanID: "B"}}
	require.NoError(t, lite.Commit(ctx, plan2))

	st, err = lite.TraceState(ctx, "T1")
	require.NoError(t, err)
	assert.Empty(t, st.Orphans)
	require.NotNil(t, st.RootSpanID)
	assert.Equal(t, "A", *st.RootSpanID)
}

func TestLiteSpanExistsInOtherTrace(t *testing.T) {
	lite := newLite(t)
	ctx := context.Background()

	plan := litePlan(liteSpan("T1", "shared", ""))
	plan.NewTraces = []model.Trace{{TraceID: "T1", CreatedAt: liteNow}}
	require.NoError(t, lite.Commit(ctx, plan))

	found, err := lite.SpanExistsInOtherTrace(ctx, "shared", "T2")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = lite.SpanExistsInOtherTrace(ctx, "shared", "T1")
	require.NoError(t, err)
	assert.False(t, found, "same trace does not count")
}

func TestLiteGetTraceSpansOrdering(t *testing.T) {
	lite := newLite(t)
	ctx := context.Background()

	a := liteSpan("T1", "A", "")
	b := liteSpan("T1", "B", "A")
	b.StartedAt = liteNow.Add(time.Second)
	c := liteSpan("T1", "C", "A")
	c.StartedAt = liteNow.Add(time.Second)

	plan := litePlan(c, a, b)
	plan.NewTraces = []model.Trace{{TraceID: "T1", CreatedAt: liteNow}}
	require.NoError(t, lite.Commit(ctx, plan))

	spans, err := lite.GetTraceSpans(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, spans, 3)
	assert.Equal(t, "A", spans[0].SpanID)
	assert.Equal(t, "B", spans[1].SpanID, "start-time ties break by span id")
	assert.Equal(t, "C", spans[2].SpanID)
}

func TestLiteDeleteTrace(t *testing.T) {
	lite := newLite(t)
	ctx := context.Background()

	plan := litePlan(liteSpan("T1", "A", ""), liteSpan("T1", "B", "A"))
	plan.NewTraces = []model.Trace{{TraceID: "T1", CreatedAt: liteNow}}
	require.NoError(t, lite.Commit(ctx, plan))

	deleted, err := lite.DeleteTrace(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = lite.GetTrace(ctx, "T1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = lite.DeleteTrace(ctx, "T1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLiteGetTraceView(t *testing.T) {
	lite := newLite(t)
	ctx := context.Background()

	root := "A"
	plan := litePlan(liteSpan("T1", "A", ""), liteSpan("T1", "B", "A"), liteSpan("T1", "D", "C"))
	plan.NewTraces = []model.Trace{{TraceID: "T1", RootSpanID: &root, CreatedAt: liteNow}}
	plan.OrphanAdds = []storage.OrphanRef{{TraceID: "T1", ParentSpanID: "C", SpanID: "D"}}
	require.NoError(t, lite.Commit(ctx, plan))

	view, err := lite.GetTraceView(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "T1", view.TraceID)
	require.NotNil(t, view.RootSpanID)
	assert.Equal(t, "A", *view.RootSpanID)
	assert.Equal(t, 3, view.SpanCount)
	assert.Len(t, view.Spans, 3)
	assert.Equal(t, 1, view.OrphanCount)
}

func TestLiteGetTraceViewUnknownTrace(t *testing.T) {
	lite := newLite(t)

	_, err := lite.GetTraceView(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLiteFileBackedReadsDuringCommits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiroku.db")
	lite, err := storage.NewSQLite(path, testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close() })

	ctx := context.Background()
	root := "A"
	seed := litePlan(liteSpan("T0", "A", ""))
	seed.NewTraces = []model.Trace{{TraceID: "T0", RootSpanID: &root, CreatedAt: liteNow}}
	require.NoError(t, lite.Commit(ctx, seed))

	// Readers on the pooled read handle run while the writer connection is
	// busy committing unrelated traces.
	var wg sync.WaitGroup
	errCh := make(chan error, 16)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			traceID := fmt.Sprintf("T%d", i+1)
			rootID := "A"
			plan := litePlan(liteSpan(traceID, "A", ""), liteSpan(traceID, "B", "A"))
			plan.NewTraces = []model.Trace{{TraceID: traceID, RootSpanID: &rootID, CreatedAt: liteNow}}
			if err := lite.Commit(ctx, plan); err != nil {
				errCh <- err
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := lite.GetTraceView(ctx, "T0"); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent operation failed: %v", err)
	}

	view, err := lite.GetTraceView(ctx, "T0")
	require.NoError(t, err)
	assert.Equal(t, 1, view.SpanCount)
}
