package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

var assembleNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newState(traceID string) storage.TraceState {
	return storage.TraceState{
		TraceID: traceID,
		Parents: make(map[string]string),
		Orphans: make(map[string][]string),
	}
}

func noElsewhere(context.Context, string, string) (bool, error) {
	return false, nil
}

func span(traceID, spanID, parent string) model.SpanInput {
	s := model.SpanInput{
		SpanID:    spanID,
		TraceID:   traceID,
		Name:      "op." + spanID,
		StartedAt: assembleNow,
	}
	if parent != "" {
		s.ParentSpanID = &parent
	}
	return s
}

func assemble(t *testing.T, batch []model.SpanInput, states map[string]storage.TraceState) (storage.CommitPlan, error) {
	t.Helper()
	return assembleBatch(context.Background(), batch, states, noElsewhere, assembleNow)
}

func requireRejected(t *testing.T, err error) []Violation {
	t.Helper()
	var be *BatchError
	require.ErrorAs(t, err, &be)
	return be.Violations
}

func TestAssembleRootThenChild(t *testing.T) {
	states := map[string]storage.TraceState{"t1": newState("t1")}
	batch := []model.SpanInput{
		span("t1", "root", ""),
		span("t1", "child", "root"),
	}

	plan, err := assemble(t, batch, states)
	require.NoError(t, err)

	assert.Len(t, plan.Spans, 2)
	assert.Empty(t, plan.OrphanAdds)
	assert.Empty(t, plan.OrphanResolves)
	require.Len(t, plan.NewTraces, 1)
	require.NotNil(t, plan.NewTraces[0].RootSpanID)
	assert.Equal(t, "root", *plan.NewTraces[0].RootSpanID)
}

func TestAssembleChildBeforeParentSameBatch(t *testing.T) {
	states := map[string]storage.TraceState{"t1": newState("t1")}
	batch := []model.SpanInput{
		span("t1", "child", "root"),
		span("t1", "root", ""),
	}

	plan, err := assemble(t, batch, states)
	require.NoError(t, err)

	assert.Len(t, plan.Spans, 2)
	assert.Empty(t, plan.OrphanAdds, "in-batch parent is not a missing parent")
}

func TestAssembleUnknownParentBecomesOrphan(t *testing.T) {
	states := map[string]storage.TraceState{"t1": newState("t1")}
	batch := []model.SpanInput{span("t1", "child", "ghost")}

	plan, err := assemble(t, batch, states)
	require.NoError(t, err)

	require.Len(t, plan.OrphanAdds, 1)
	assert.Equal(t, storage.OrphanRef{TraceID: "t1", ParentSpanID: "ghost", SpanID: "child"}, plan.OrphanAdds[0])
	require.Len(t, plan.NewTraces, 1)
	assert.Nil(t, plan.NewTraces[0].RootSpanID, "rootless partial trace is valid")
}

func TestAssembleResolvesWaitingOrphans(t *testing.T) {
	st := newState("t1")
	st.Exists = true
	st.Parents["w1"] = "missing"
	st.Parents["w2"] = "missing"
	st.Orphans["missing"] = []string{"w1", "w2"}
	states := map[string]storage.TraceState{"t1": st}

	batch := []model.SpanInput{span("t1", "missing", "")}

	plan, err := assemble(t, batch, states)
	require.NoError(t, err)

	assert.Len(t, plan.OrphanResolves, 2)
	assert.Equal(t, map[string]string{"t1": "missing"}, plan.RootUpdates)
	assert.Empty(t, plan.NewTraces)
}

func TestAssembleDuplicateCommitted(t *testing.T) {
	st := newState("t1")
	st.Exists = true
	st.Parents["s1"] = ""
	root := "s1"
	st.RootSpanID = &root
	states := map[string]storage.TraceState{"t1": st}

	_, err := assemble(t, []model.SpanInput{span("t1", "s1", "")}, states)
	violations := requireRejected(t, err)

	require.Len(t, violations, 1)
	assert.Equal(t, ViolationDuplicate, violations[0].Kind)
}

func TestAssembleDuplicateWithinBatch(t *testing.T) {
	states := map[string]storage.TraceState{"t1": newState("t1")}
	batch := []model.SpanInput{
		span("t1", "root", ""),
		span("t1", "s1", "root"),
		span("t1", "s1", "root"),
	}

	_, err := assemble(t, batch, states)
	violations := requireRejected(t, err)

	require.Len(t, violations, 1)
	assert.Equal(t, ViolationDuplicate, violations[0].Kind)
	assert.Equal(t, 2, violations[0].Index, "the second occurrence is the offender")
}

func TestAssembleCrossTraceParentCommitted(t *testing.T) {
	states := map[string]storage.TraceState{"t1": newState("t1")}
	elsewhere := func(_ context.Context, spanID, traceID string) (bool, error) {
		return spanID == "other", nil
	}

	batch := []model.SpanInput{span("t1", "s1", "other")}
	_, err := assembleBatch(context.Background(), batch, states, elsewhere, assembleNow)
	violations := requireRejected(t, err)

	require.Len(t, violations, 1)
	assert.Equal(t, ViolationInvalidParent, violations[0].Kind)
}

func TestAssembleCrossTraceParentInBatch(t *testing.T) {
	states := map[string]storage.TraceState{
		"t1": newState("t1"),
		"t2": newState("t2"),
	}
	batch := []model.SpanInput{
		span("t1", "p", ""),
		span("t2", "c", "p"),
	}

	_, err := assemble(t, batch, states)
	violations := requireRejected(t, err)

	require.Len(t, violations, 1)
	assert.Equal(t, ViolationInvalidParent, violations[0].Kind)
	assert.Equal(t, "c", violations[0].SpanID)
}

func TestAssembleRootConflictAgainstCommitted(t *testing.T) {
	st := newState("t1")
	st.Exists = true
	root := "r1"
	st.RootSpanID = &root
	st.Parents["r1"] = ""
	states := map[string]storage.TraceState{"t1": st}

	_, err := assemble(t, []model.SpanInput{span("t1", "r2", "")}, states)
	violations := requireRejected(t, err)

	require.Len(t, violations, 1)
	assert.Equal(t, ViolationRootConflict, violations[0].Kind)
}

func TestAssembleSecondRootInBatch(t *testing.T) {
	states := map[string]storage.TraceState{"t1": newState("t1")}
	batch := []model.SpanInput{
		span("t1", "r1", ""),
		span("t1", "r2", ""),
	}

	_, err := assemble(t, batch, states)
	violations := requireRejected(t, err)

	require.Len(t, violations, 1)
	assert.Equal(t, ViolationRootConflict, violations[0].Kind)
	assert.Equal(t, "r2", violations[0].SpanID)
}

func TestAssembleMutualCycleFlaggedOnSecond(t *testing.T) {
	states := map[string]storage.TraceState{"t1": newState("t1")}
	batch := []model.SpanInput{
		span("t1", "f", "g"),
		span("t1", "g", "f"),
	}

	_, err := assemble(t, batch, states)
	violations := requireRejected(t, err)

	require.Len(t, violations, 1)
	assert.Equal(t, ViolationCycle, violations[0].Kind)
	assert.Equal(t, "g", violations[0].SpanID, "the second evaluated span closes the loop")
}

func TestAssembleSelfParentIsCycle(t *testing.T) {
	states := map[string]storage.TraceState{"t1": newState("t1")}

	batch := []model.SpanInput{span("t1", "c", "c")}
	_, err := assemble(t, batch, states)
	violations := requireRejected(t, err)

	require.Len(t, violations, 1)
	assert.Equal(t, ViolationCycle, violations[0].Kind)
}

func TestAssembleRejectionReportsEveryViolation(t *testing.T) {
	states := map[string]storage.TraceState{"t1": newState("t1")}
	batch := []model.SpanInput{
		span("t1", "root", ""),
		{TraceID: "t1", SpanID: "bad"},
		span("t1", "r2", ""),
	}

	_, err := assemble(t, batch, states)
	violations := requireRejected(t, err)

	require.Len(t, violations, 2)
	kinds := []ViolationKind{violations[0].Kind, violations[1].Kind}
	assert.Contains(t, kinds, ViolationMalformed)
	assert.Contains(t, kinds, ViolationRootConflict)
}
