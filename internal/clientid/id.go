// Package clientid mints process-wide unique client identifiers.
package clientid

import "sync/atomic"

// Generator hands out monotonically increasing client ids. Uniqueness only
// needs atomicity, not cross-thread happens-before, so relaxed increments
// are sufficient.
type Generator struct {
	next atomic.Uint64
}

// Next returns the next unique id, starting from 1.
func (g *Generator) Next() uint64 {
	return g.next.Add(1)
}
