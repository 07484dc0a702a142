// Package tile owns the tile address space and the two scheduling queues
// built on top of it: the pending FIFO and the in-flight FIFO.
package tile

// Grid describes how the framebuffer is carved into tiles. The reference
// layout is 8x6 tiles of 128px, giving a 1024x768 framebuffer.
type Grid struct {
	TilesX   int
	TilesY   int
	TileSize int
}

// DefaultGrid is the standard 1024x768 layout used when nothing overrides it.
var DefaultGrid = Grid{TilesX: 8, TilesY: 6, TileSize: 128}

// Width returns the framebuffer width in pixels.
func (g Grid) Width() int { return g.TilesX * g.TileSize }

// Height returns the framebuffer height in pixels.
func (g Grid) Height() int { return g.TilesY * g.TileSize }

// TileCount returns the number of tiles in one frame.
func (g Grid) TileCount() int { return g.TilesX * g.TilesY }

// TileSlots returns the number of pixels in a single tile.
func (g Grid) TileSlots() int { return g.TileSize * g.TileSize }

// Index returns the row-major tile index of (x, y) within one frame.
func (g Grid) Index(x, y int) int { return y*g.TilesX + x }

// Last returns the bottom-right tile coordinates for this grid.
func (g Grid) Last() (x, y int) { return g.TilesX - 1, g.TilesY - 1 }
