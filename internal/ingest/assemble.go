package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
)

// crossTraceChecker reports whether a committed span with the given ID exists
// in a trace other than traceID.
type crossTraceChecker func(ctx context.Context, spanID, traceID string) (bool, error)

// traceWork is the per-trace mutable view built up while walking a batch.
type traceWork struct {
	state storage.TraceState

	// batchIDs holds every span ID the batch proposes for this trace. Parent
	// existence is judged against the whole batch, so a child may precede its
	// parent within the same submission.
	batchIDs map[string]struct{}

	// proposed holds links accepted so far, in batch order. Cycle detection
	// walks committed links plus these, which is what makes a mutual in-batch
	// cycle surface on the second span rather than both or neither.
	proposed map[string]string

	// batchRoot is the parentless span accepted from this batch, if any.
	batchRoot string
}

func (w *traceWork) hasRoot() bool {
	return w.state.RootSpanID != nil || w.batchRoot != ""
}

// lookup resolves a span to its parent across committed and accepted links.
func (w *traceWork) lookup(spanID string) (string, bool) {
	if p, ok := w.proposed[spanID]; ok {
		return p, true
	}
	if p, ok := w.state.Parents[spanID]; ok {
		return p, true
	}
	return "", false
}

// assembleBatch computes the full change-set for one batch against the loaded
// committed states. The batch is a unit: any violation rejects the whole
// submission and the returned error lists every offending span. On success
// the plan is deterministic for the given batch and prior state.
func assembleBatch(ctx context.Context, batch []model.SpanInput, states map[string]storage.TraceState, existsElsewhere crossTraceChecker, now time.Time) (storage.CommitPlan, error) {
	plan := storage.CommitPlan{
		BatchID:     uuid.New(),
		CommittedAt: now,
		RootUpdates: make(map[string]string),
	}
	var violations []Violation

	work := make(map[string]*traceWork, len(states))
	for traceID, st := range states {
		work[traceID] = &traceWork{
			state:    st,
			batchIDs: make(map[string]struct{}),
			proposed: make(map[string]string),
		}
	}

	// spanTraces indexes every span ID in the batch by the traces claiming
	// it, for cross-trace parent detection within a single submission.
	spanTraces := make(map[string]map[string]struct{}, len(batch))
	for i := range batch {
		s := &batch[i]
		if w, ok := work[s.TraceID]; ok && s.SpanID != "" {
			w.batchIDs[s.SpanID] = struct{}{}
			if spanTraces[s.SpanID] == nil {
				spanTraces[s.SpanID] = make(map[string]struct{})
			}
			spanTraces[s.SpanID][s.TraceID] = struct{}{}
		}
	}

	inOtherBatchTrace := func(spanID, traceID string) bool {
		for t := range spanTraces[spanID] {
			if t != traceID {
				return true
			}
		}
		return false
	}

	for i := range batch {
		s := &batch[i]

		if problems := ValidateSpan(s); len(problems) > 0 {
			violations = append(violations, Violation{
				Index:   i,
				SpanID:  s.SpanID,
				TraceID: s.TraceID,
				Kind:    ViolationMalformed,
				Message: strings.Join(problems, "; "),
			})
			continue
		}

		w := work[s.TraceID]

		if w.state.HasSpan(s.SpanID) {
			violations = append(violations, Violation{
				Index: i, SpanID: s.SpanID, TraceID: s.TraceID,
				Kind:    ViolationDuplicate,
				Message: "span already committed for this trace",
			})
			continue
		}
		if _, ok := w.proposed[s.SpanID]; ok {
			violations = append(violations, Violation{
				Index: i, SpanID: s.SpanID, TraceID: s.TraceID,
				Kind:    ViolationDuplicate,
				Message: "span appears more than once in the batch",
			})
			continue
		}

		if s.IsRoot() {
			if w.hasRoot() {
				violations = append(violations, Violation{
					Index: i, SpanID: s.SpanID, TraceID: s.TraceID,
					Kind:    ViolationRootConflict,
					Message: "trace already has a root span",
				})
				continue
			}
			w.batchRoot = s.SpanID
			w.proposed[s.SpanID] = ""
			plan.Spans = append(plan.Spans, s.Committed(now))
			resolveOrphans(&plan, w, s.SpanID)
			continue
		}

		parent := s.Parent()
		_, inBatch := w.batchIDs[parent]
		if w.state.HasSpan(parent) || inBatch {
			maxSteps := len(w.state.Parents) + len(w.batchIDs) + 1
			if wouldCycle(s.SpanID, parent, w.lookup, maxSteps) {
				violations = append(violations, Violation{
					Index: i, SpanID: s.SpanID, TraceID: s.TraceID,
					Kind:    ViolationCycle,
					Message: "parent link would create a cycle",
				})
				continue
			}
		} else {
			elsewhere, err := existsElsewhere(ctx, parent, s.TraceID)
			if err != nil {
				return storage.CommitPlan{}, err
			}
			if elsewhere || inOtherBatchTrace(parent, s.TraceID) {
				violations = append(violations, Violation{
					Index: i, SpanID: s.SpanID, TraceID: s.TraceID,
					Kind:    ViolationInvalidParent,
					Message: "parent span belongs to a different trace",
				})
				continue
			}
			// Unknown everywhere: the span commits as an orphan waiting on
			// its parent.
			plan.OrphanAdds = append(plan.OrphanAdds, storage.OrphanRef{
				TraceID: s.TraceID, ParentSpanID: parent, SpanID: s.SpanID,
			})
		}

		w.proposed[s.SpanID] = parent
		plan.Spans = append(plan.Spans, s.Committed(now))
		resolveOrphans(&plan, w, s.SpanID)
	}

	if len(violations) > 0 {
		return storage.CommitPlan{}, &BatchError{Violations: violations}
	}

	for traceID, w := range work {
		if !w.state.Exists {
			t := model.Trace{TraceID: traceID, CreatedAt: now}
			if w.batchRoot != "" {
				root := w.batchRoot
				t.RootSpanID = &root
			}
			plan.NewTraces = append(plan.NewTraces, t)
			continue
		}
		if w.state.RootSpanID == nil && w.batchRoot != "" {
			plan.RootUpdates[traceID] = w.batchRoot
		}
	}

	return plan, nil
}

// resolveOrphans clears committed orphan-index entries waiting on a span
// that just arrived. Chains resolve naturally: only the span whose parent is
// actually missing is ever indexed, so one arrival never needs a cascade.
func resolveOrphans(plan *storage.CommitPlan, w *traceWork, arrivedID string) {
	waiting, ok := w.state.Orphans[arrivedID]
	if !ok {
		return
	}
	for _, spanID := range waiting {
		plan.OrphanResolves = append(plan.OrphanResolves, storage.OrphanRef{
			TraceID: w.state.TraceID, ParentSpanID: arrivedID, SpanID: spanID,
		})
	}
	delete(w.state.Orphans, arrivedID)
}
