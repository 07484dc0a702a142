package raygeom

import "github.com/nplex/tracecoord/internal/tile"

// Ray is a camera ray. The full ray table is fixed for the process
// lifetime: it depends only on tile coordinates and is computed once at
// startup, then shared by reference with every client that requests a
// tile covering it.
type Ray struct {
	Origin    Vec3
	Direction Vec3
}

// cameraOrigin is the fixed camera position for the whole process.
var cameraOrigin = Vec3{X: 0, Y: 0, Z: -350}

// pixelCenter and fovScale are the two constant vectors in the camera
// formula: direction = normalize(((x/W, y/H, 1) - pixelCenter) * fovScale).
var pixelCenter = Vec3{X: 0.5, Y: 0.5, Z: 0}
var fovScale = Vec3{X: 0.25, Y: 0.25, Z: 1}

// BuildRayTable precomputes one ray per pixel of the framebuffer described
// by g, grouped tile-by-tile (row-major over tiles, then row-major within
// each tile) rather than row-major over the whole framebuffer. That layout
// lets TileRays hand back a contiguous sub-slice of the shared table,
// shared by reference with no copy, instead of gathering non-contiguous
// rows on every request. The result never
// changes after this call and may be shared across goroutines without
// synchronization.
func BuildRayTable(g tile.Grid) []Ray {
	w, h := float64(g.Width()), float64(g.Height())
	rays := make([]Ray, g.Width()*g.Height())
	i := 0
	for ty := 0; ty < g.TilesY; ty++ {
		for tx := 0; tx < g.TilesX; tx++ {
			for row := 0; row < g.TileSize; row++ {
				y := ty*g.TileSize + row
				for col := 0; col < g.TileSize; col++ {
					x := tx*g.TileSize + col
					uv := Vec3{X: float64(x) / w, Y: float64(y) / h, Z: 1}
					dir := uv.Subtract(pixelCenter).MultiplyElements(fovScale).Normalize()
					rays[i] = Ray{Origin: cameraOrigin, Direction: dir}
					i++
				}
			}
		}
	}
	return rays
}

// TileRays returns the slice of rays — a view into the shared table, no
// copy — covering the given tile address. The frame component of addr is
// irrelevant: the ray table depends only on tile coordinates.
func TileRays(table []Ray, g tile.Grid, addr tile.Addr) []Ray {
	slots := g.TileSlots()
	start := addr.Index(g) * slots
	return table[start : start+slots]
}
