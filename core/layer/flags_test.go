package layer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlags_BitValuesMatchOriginalLayout(t *testing.T) {
	assert.Equal(t, Flags(1), ResidualInput)
	assert.Equal(t, Flags(2), ReluOnResidual)
	assert.Equal(t, Flags(4), BatchnormOnResidual)
	assert.Equal(t, Flags(8), PostBatchnorm)
	assert.Equal(t, Flags(16), Deep)
	assert.Equal(t, Flags(32), PostRelu)
	assert.Equal(t, Flags(64), PreRelu)
	assert.Equal(t, Flags(128), PreClip)
	assert.Equal(t, Flags(2048), PreGelu)
}

func TestFlags_Has(t *testing.T) {
	f := ResidualInput | PreRelu
	assert.True(t, f.Has(ResidualInput))
	assert.True(t, f.Has(PreRelu))
	assert.False(t, f.Has(PostBatchnorm))
	assert.True(t, f.Has(ResidualInput|PreRelu))
}

func TestActMask_CoversExpectedFlags(t *testing.T) {
	assert.True(t, Flags(ActMask).Has(PreRelu))
	assert.True(t, Flags(ActMask).Has(PostRelu))
	assert.False(t, Flags(PreActMask).Has(PostRelu))
}
