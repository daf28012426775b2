// Package param defines the parameter-provider contract every layer uses to fetch its weight,
// bias, and normalization blobs by name, independent of how those blobs were loaded from disk.
package param

import (
	"fmt"
	"sync/atomic"

	"github.com/fyusenet/fyusenet-go/core/buffer"
	"github.com/fyusenet/fyusenet-go/core/errs"
)

// Blob is a named parameter payload: an opaque value plus a release function the holder must
// call when done with it. Blobs are reference-counted so the same weight array can be handed to
// multiple callers (e.g. a tied embedding/output-projection pair) without duplicating storage.
type Blob struct {
	Name  string
	Value any

	refs    *int32
	release func()
}

// Release drops this holder's reference to the blob's underlying storage. Safe to call more
// than once; only the first call past the last outstanding reference invokes the provider's
// release function.
func (b Blob) Release() {
	if b.refs == nil {
		return
	}
	if atomic.AddInt32(b.refs, -1) == 0 && b.release != nil {
		b.release()
	}
}

// Provider resolves named parameter blobs for a layer by layer name, layer number, and
// sub-index (for layers with more than one weight tensor, e.g. separate Q/K/V projections).
type Provider interface {
	// Get fetches the blob named "<layerName>.<suffix>" for the given layer number and
	// sub-index. Returns a Resource-kind CoreError if the name is not found.
	Get(name string, layerNo, subIndex int) (Blob, error)
	// DataType reports the on-disk element type of the named parameter, letting a layer decide
	// whether it must convert on load.
	DataType(name string, layerNo, subIndex int) (buffer.ElementType, error)
}

// WithBlob fetches the named blob, invokes fn with its value, and releases the blob whether or
// not fn returns an error — the scoped-acquisition idiom Go uses in place of the original
// RAII-guaranteed-release pattern.
func WithBlob(p Provider, name string, layerNo, subIndex int, fn func(any) error) error {
	blob, err := p.Get(name, layerNo, subIndex)
	if err != nil {
		return err
	}
	defer blob.Release()
	return fn(blob.Value)
}

// key identifies a parameter blob within an in-memory Provider.
type key struct {
	name     string
	layerNo  int
	subIndex int
}

// entry is a stored blob plus the metadata an InMemoryProvider needs to serve it repeatedly.
type entry struct {
	value       any
	elementType buffer.ElementType
	refs        int32
}

// InMemoryProvider is a reference Provider implementation backed by an in-memory map, populated
// directly rather than by parsing a parameter archive (the archive walker is an external
// collaborator, per SPEC_FULL.md §6).
type InMemoryProvider struct {
	entries map[key]*entry
}

// NewInMemoryProvider builds an empty InMemoryProvider.
func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{entries: make(map[key]*entry)}
}

// Put registers a parameter blob under the given name/layerNo/subIndex.
func (p *InMemoryProvider) Put(name string, layerNo, subIndex int, elementType buffer.ElementType, value any) {
	p.entries[key{name, layerNo, subIndex}] = &entry{value: value, elementType: elementType}
}

// Get implements Provider.
func (p *InMemoryProvider) Get(name string, layerNo, subIndex int) (Blob, error) {
	e, ok := p.entries[key{name, layerNo, subIndex}]
	if !ok {
		return Blob{}, errs.New(errs.Resource, "parameter %q not found for layer %d/%d", name, layerNo, subIndex)
	}
	atomic.AddInt32(&e.refs, 1)
	refs := &e.refs
	return Blob{
		Name:    name,
		Value:   e.value,
		refs:    refs,
		release: func() {},
	}, nil
}

// DataType implements Provider.
func (p *InMemoryProvider) DataType(name string, layerNo, subIndex int) (buffer.ElementType, error) {
	e, ok := p.entries[key{name, layerNo, subIndex}]
	if !ok {
		return 0, errs.New(errs.Resource, "parameter %q not found for layer %d/%d", name, layerNo, subIndex)
	}
	return e.elementType, nil
}

// Name builds the "<layerName>.<suffix>" parameter name convention SPEC_FULL.md §4.10 documents.
func Name(layerName, suffix string) string {
	return fmt.Sprintf("%s.%s", layerName, suffix)
}
