package renderer

import (
	"github.com/fyusenet/fyusenet-go/engine/renderer/pipeline"
)

// GfxContextBuilderOption is a functional option applied to a GfxContext during construction
// via NewGfxContext.
type GfxContextBuilderOption func(*gfxContext)

// WithPipeline pre-registers a single Pipeline in the context's pipeline cache under the given key.
func WithPipeline(key string, p pipeline.Pipeline) GfxContextBuilderOption {
	return func(r *gfxContext) {
		r.pipelineCache[key] = p
	}
}

// WithPipelines replaces the context's entire pipeline cache with the provided map.
func WithPipelines(pipelines map[string]pipeline.Pipeline) GfxContextBuilderOption {
	return func(r *gfxContext) {
		r.pipelineCache = pipelines
	}
}

// WithForceSoftwareRenderer forces WGPU to use a CPU/software fallback adapter instead of
// hardware GPU acceleration. This requires a software Vulkan ICD to be installed on the system
// (e.g. SwiftShader or lavapipe). Useful for running the inference engine in headless CI
// environments with no GPU.
func WithForceSoftwareRenderer(force bool) GfxContextBuilderOption {
	return func(r *gfxContext) {
		r.forceFallbackAdapter = force
	}
}

// WithDebug sets debug mode at construction time, equivalent to calling SetDebug(enabled)
// immediately after NewGfxContext returns.
func WithDebug(enabled bool) GfxContextBuilderOption {
	return func(r *gfxContext) {
		r.debug = enabled
	}
}
