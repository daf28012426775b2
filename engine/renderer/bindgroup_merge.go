package renderer

import "github.com/cogentcore/webgpu/wgpu"

// mergeBindGroupLayouts combines the per-shader-stage bind group layout descriptors parsed
// from a vertex and a fragment shader into a single set keyed by group index. For a group that
// appears in both shaders, the fragment stage's entries are appended to the vertex stage's,
// skipping any entry whose binding number the vertex stage already declares.
func mergeBindGroupLayouts(vertex, fragment map[int]wgpu.BindGroupLayoutDescriptor) map[int]wgpu.BindGroupLayoutDescriptor {
	merged := make(map[int]wgpu.BindGroupLayoutDescriptor, len(vertex)+len(fragment))
	for g, desc := range vertex {
		merged[g] = desc
	}
	for g, desc := range fragment {
		existing, ok := merged[g]
		if !ok {
			merged[g] = desc
			continue
		}
		entries := make([]wgpu.BindGroupLayoutEntry, 0, len(existing.Entries)+len(desc.Entries))
		entries = append(entries, existing.Entries...)
		seen := make(map[uint32]bool, len(entries))
		for _, e := range entries {
			seen[e.Binding] = true
		}
		for _, e := range desc.Entries {
			if seen[e.Binding] {
				continue
			}
			entries = append(entries, e)
		}
		existing.Entries = entries
		merged[g] = existing
	}
	return merged
}
