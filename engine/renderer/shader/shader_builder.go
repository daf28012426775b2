package shader

import "github.com/cogentcore/webgpu/wgpu"

// ShaderBuilderOption is a functional option applied to a shader during construction via NewShader.
type ShaderBuilderOption func(*shader)

// WithEntryPoint overrides the shader's entry point function name. Defaults to "main".
func WithEntryPoint(entryPoint string) ShaderBuilderOption {
	return func(s *shader) {
		s.entryPoint = entryPoint
	}
}

// WithWorkgroupSize sets the @compute workgroup size dimensions. Only meaningful for
// ShaderTypeCompute shaders.
func WithWorkgroupSize(x, y, z uint32) ShaderBuilderOption {
	return func(s *shader) {
		s.workGroupSize = [3]uint32{x, y, z}
	}
}

// WithBindGroupLayout declares the bind group layout for a given group index.
func WithBindGroupLayout(group int, descriptor wgpu.BindGroupLayoutDescriptor) ShaderBuilderOption {
	return func(s *shader) {
		s.bindGroupLayoutDescriptors[group] = descriptor
	}
}

// WithVertexLayout declares the vertex buffer layout for a given binding key. Layer vertex
// shaders take no vertex buffer (the fullscreen triangle is derived from the vertex index), so
// layer pipelines do not set it.
func WithVertexLayout(key int, layout []wgpu.VertexBufferLayout) ShaderBuilderOption {
	return func(s *shader) {
		s.vertexLayouts[key] = layout
	}
}
