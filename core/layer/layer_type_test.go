package layer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestType_String_KnownValues(t *testing.T) {
	assert.Equal(t, "convolution-2d", Convolution2D.String())
	assert.Equal(t, "attention", Attention.String())
	assert.Equal(t, "token-scoring", TokenScoring.String())
	assert.Equal(t, "illegal", Illegal.String())
}

func TestType_String_UnknownValueFormatsNumeric(t *testing.T) {
	assert.Contains(t, Type(9999).String(), "9999")
}
