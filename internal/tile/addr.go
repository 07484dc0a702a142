package tile

// Addr identifies a tile within a specific frame.
type Addr struct {
	Frame uint64
	X, Y  int
}

// IsBottomRight reports whether this tile is the last one generated for its
// frame in row-major order — the trigger for the accumulator's frame_done
// marker.
func (a Addr) IsBottomRight(g Grid) bool {
	lastX, lastY := g.Last()
	return a.X == lastX && a.Y == lastY
}

// Index returns the row-major tile slot index within one frame.
func (a Addr) Index(g Grid) int {
	return g.Index(a.X, a.Y)
}
