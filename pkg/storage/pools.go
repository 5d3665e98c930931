package storage

import "sync"

// Scratch header pool for the translation hot path. The translator rewrites
// a projection header in place and must restore it after the delegated data
// table call; the saved copy comes from here instead of a per-call
// allocation.

var headerPool = sync.Pool{
	New: func() interface{} {
		s := make([]ColumnID, 0, 32)
		return &s
	},
}

// getScratchHeader gets a []ColumnID of length n from the pool.
func getScratchHeader(n int) []ColumnID {
	scratch := headerPool.Get().(*[]ColumnID)
	if cap(*scratch) < n {
		*scratch = make([]ColumnID, 0, n)
	}
	return (*scratch)[:n]
}

// putScratchHeader returns a scratch header to the pool.
func putScratchHeader(scratch []ColumnID) {
	if cap(scratch) > 4096 {
		// Don't pool outsized headers
		return
	}
	headerPool.Put(&scratch)
}
