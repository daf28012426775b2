// Package factory turns accumulated layer builders into constructed, ordered Layer instances,
// dispatching each builder to a CPU- or GPU-specific backend according to its declared device.
package factory

import (
	"sort"

	"github.com/fyusenet/fyusenet-go/core/errs"
	"github.com/fyusenet/fyusenet-go/core/layer"
)

// Backend constructs a concrete Layer from an accumulated builder. A LayerFactory holds exactly
// one Backend, chosen at construction, and dispatches every pushed builder's declared device to
// it; a backend that does not support a device should return a Configuration error.
type Backend interface {
	// BuildLayer constructs the layer the builder describes.
	BuildLayer(b *layer.LayerBuilder) (layer.Layer, error)
	// Supports reports whether this backend can construct layers for the given device.
	Supports(d layer.Device) bool
}

// LayerFactory accumulates layer builders keyed by their declared sequence number and compiles
// them into an ordered slice of constructed layers. Every builder number must be unique and
// non-negative; every builder's device must be supported by the factory's backend.
type LayerFactory struct {
	backend  Backend
	builders map[int]*layer.LayerBuilder
	order    []int
}

// New builds a LayerFactory dispatching every pushed builder to backend.
func New(backend Backend) *LayerFactory {
	if backend == nil {
		panic("factory: backend must not be nil")
	}
	return &LayerFactory{backend: backend, builders: make(map[int]*layer.LayerBuilder)}
}

// Push registers b under its declared number. Returns a Configuration error if the number is
// negative, already taken, or the builder's device is not supported by this factory's backend.
func (f *LayerFactory) Push(b *layer.LayerBuilder) error {
	if b.Number() < 0 {
		return errs.New(errs.Configuration, "layer %q has negative number %d", b.Name(), b.Number())
	}
	if _, exists := f.builders[b.Number()]; exists {
		return errs.New(errs.Configuration, "layer number %d already registered", b.Number())
	}
	if b.Type() == layer.Illegal {
		return errs.New(errs.Configuration, "layer %q has illegal type", b.Name())
	}
	if !f.backend.Supports(b.Device()) {
		return errs.New(errs.Configuration, "layer %q device %v not supported by this factory", b.Name(), b.Device())
	}
	f.builders[b.Number()] = b
	f.order = append(f.order, b.Number())
	return nil
}

// CompileLayers constructs every pushed builder via the factory's backend and returns the
// resulting layers in ascending layer-number order. Builder ownership is released: calling
// CompileLayers a second time returns an empty slice.
func (f *LayerFactory) CompileLayers() ([]layer.Layer, error) {
	numbers := make([]int, 0, len(f.builders))
	for n := range f.builders {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	layers := make([]layer.Layer, 0, len(numbers))
	for _, n := range numbers {
		b := f.builders[n]
		l, err := f.backend.BuildLayer(b)
		if err != nil {
			return nil, errs.Wrap(errs.Configuration, err, "compiling layer %q (%d)", b.Name(), n)
		}
		layers = append(layers, l)
	}
	f.builders = make(map[int]*layer.LayerBuilder)
	f.order = nil
	return layers, nil
}
