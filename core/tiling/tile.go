// Package tiling computes the texture-tile geometry used by every GPU-deep layer: how a tensor
// with more than PixelPacking channels is laid out as a grid of 4-channel tiles across one or
// more textures, and the device/texture coordinate quads needed to render or sample each tile.
package tiling

// QueryMode selects which axis of a tile count NumInputTiles/NumOutputTiles reports.
type QueryMode int

const (
	// All returns the total tile count (columns * rows).
	All QueryMode = iota
	// Horizontal returns the number of tile columns.
	Horizontal
	// Vertical returns the number of tile rows.
	Vertical
)

// Tile is the geometry of a single tile within a tiled texture: the quadrilateral used to
// render or sample it, its clamp bounds, and its position within the untiled tensor. Quad holds
// four (x, y) device or texture coordinate pairs in the order top-left, bottom-left,
// bottom-right, top-right.
type Tile struct {
	RenderTarget int
	TextureID    int
	Channels     int
	Quad         [4][2]float32
	LowClamp     [2]float32
	HiClamp      [2]float32
	ImageCoords  [2]int
	ImageExtents [2]int
}

// ToFloatVec writes the tile's quad coordinates into tgt starting at offset, advancing by
// stride after each (x, y) pair, in Quad order (top-left, bottom-left, bottom-right, top-right).
// ToFloatVecTransposed writes the reverse winding order (top-left, top-right, bottom-right,
// bottom-left), matching the order a transpose convolution's output polygon needs relative to
// its input sampling polygon.
func (t Tile) ToFloatVec(tgt []float32, offset, stride int) {
	t.toFloatVec(tgt, offset, stride, false)
}

// ToFloatVecTransposed is ToFloatVec with the quad's winding order reversed.
func (t Tile) ToFloatVecTransposed(tgt []float32, offset, stride int) {
	t.toFloatVec(tgt, offset, stride, true)
}

func (t Tile) toFloatVec(tgt []float32, offset, stride int, transpose bool) {
	if stride == 0 {
		panic("tiling: stride must not be zero")
	}
	order := [4]int{0, 1, 2, 3}
	if transpose {
		order = [4]int{0, 3, 2, 1}
	}
	for _, i := range order {
		tgt[offset] = t.Quad[i][0]
		tgt[offset+1] = t.Quad[i][1]
		offset += stride
	}
}

// LowClampInto writes the tile's low clamp bounds (left, top) into tgt starting at offset.
func (t Tile) LowClampInto(tgt []float32, offset int) {
	tgt[offset] = t.LowClamp[0]
	tgt[offset+1] = t.LowClamp[1]
}

// ToDisplacement writes this tile's top-left quad coordinate as a displacement relative to
// defaultExtents' top-left coordinate, into tgt starting at offset. Used to communicate a
// per-tile sampling offset (e.g. a fractional-step convolution's per-group shift) to a shader
// that already has the default extents baked in as a uniform.
func (t Tile) ToDisplacement(defaultExtents Tile, tgt []float32, offset int) {
	tgt[offset] = t.Quad[0][0] - defaultExtents.Quad[0][0]
	tgt[offset+1] = t.Quad[0][1] - defaultExtents.Quad[0][1]
}

// MidPoint returns the average of the tile's four quad corners, used for point-based rendering
// of 1x1 spatial data (e.g. global pooling output, linear/attention sequence positions).
func (t Tile) MidPoint() (float32, float32) {
	var mx, my float32
	for _, c := range t.Quad {
		mx += c[0]
		my += c[1]
	}
	return mx / 4, my / 4
}
