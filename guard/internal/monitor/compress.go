package monitor

import (
	"iter"

	"github.com/hazyhaar/tamperguard/guard/page"
)

// Compress collapses runs within a batch before inspection:
//   - consecutive attr records on the same (target, name) keep the last
//     value and the first old value
//   - consecutive text records on the same target do the same
//   - insert, remove, attr_del and doc_reset are never compressed
//
// Delivery order is preserved.
func Compress(seq iter.Seq[page.Record]) iter.Seq[page.Record] {
	return func(yield func(page.Record) bool) {
		var pending page.Record
		have := false
		for rec := range seq {
			if have && sameRun(pending, rec) {
				old := pending.OldValue
				pending = rec
				pending.OldValue = old
				continue
			}
			if have && !yield(pending) {
				return
			}
			pending, have = rec, true
		}
		if have {
			yield(pending)
		}
	}
}

func sameRun(a, b page.Record) bool {
	if a.Op != b.Op || a.Target != b.Target {
		return false
	}
	switch a.Op {
	case page.OpAttr:
		return a.Name == b.Name
	case page.OpText:
		return true
	}
	return false
}
