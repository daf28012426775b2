package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_NoMaskedLayers(t *testing.T) {
	tok := New(4, 10)
	assert.False(t, tok.Masked(0))
	assert.Equal(t, 4, tok.SeqLength)
	assert.Equal(t, 10, tok.SeqIndex)
}

func TestWithMask_AddsLayerWithoutMutatingOriginal(t *testing.T) {
	tok := New(1, 0)
	masked := tok.WithMask(3)
	assert.True(t, masked.Masked(3))
	assert.False(t, tok.Masked(3))
}

func TestWithMask_Chained(t *testing.T) {
	tok := New(1, 0).WithMask(1).WithMask(2)
	assert.True(t, tok.Masked(1))
	assert.True(t, tok.Masked(2))
	assert.False(t, tok.Masked(3))
}
