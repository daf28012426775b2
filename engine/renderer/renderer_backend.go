package renderer

// GfxContextType identifies the GPU backend implementation used by a GfxContext.
type GfxContextType int

const (
	// BackendTypeWGPU selects the WebGPU-based compute/render backend. This is currently
	// the only supported backend.
	BackendTypeWGPU GfxContextType = iota
)

// SyncHandle identifies an in-flight GPU fence returned by BlitToStagingBuffer. It is opaque to callers
// and must be passed back to WaitClientSync or RemoveSync on the same GfxContext that issued it.
type SyncHandle uint64

// TextureHandle identifies a GPU texture created via CreateTexture or CreateRenderTarget.
// Handles are plain integers rather than pointers so that layers can hold them in ordered
// slices and maps without building a pointer graph across the buffer manager.
type TextureHandle uint64

// gfxBackend is the top-level backend interface for a GfxContext.
// It embeds the concrete backend interface for the selected GPU API.
type gfxBackend interface {
	wgpuGfxBackend
}
