package ingest

// parentLookup resolves a span ID to its declared parent ID within one trace.
// The second return is false when the span is unknown, which terminates the
// walk: an unknown link target cannot close a cycle.
type parentLookup func(spanID string) (string, bool)

// wouldCycle reports whether linking spanID under parent would create a
// parent cycle. It walks the parent chain from the proposed parent; reaching
// spanID again means the link closes a loop. maxSteps bounds the walk so a
// corrupted chain cannot spin forever.
func wouldCycle(spanID, parent string, lookup parentLookup, maxSteps int) bool {
	cur := parent
	for steps := 0; cur != ""; steps++ {
		if cur == spanID {
			return true
		}
		if steps >= maxSteps {
			return true
		}
		next, ok := lookup(cur)
		if !ok {
			return false
		}
		cur = next
	}
	return false
}
