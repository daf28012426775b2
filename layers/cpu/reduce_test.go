package cpu

import (
	"testing"

	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/state"
	"github.com/stretchr/testify/assert"
)

func buildReduce(t *testing.T, norm Norm) *ReduceLayer {
	t.Helper()
	b := layer.New("reduce1", 1, layer.Add).WithDevice(layer.DeviceCPU)
	r := NewReduceLayer(b, 1, norm).WithGeometry(1, 1, 3)
	assert.NoError(t, r.Setup())
	return r
}

func TestReduceLayer_L1SumsAbsoluteValuesAcrossChannels(t *testing.T) {
	r := buildReduce(t, NormL1)
	inBytes, _ := r.input.Map()
	encodeFloat32(inBytes, []float32{3, -4, 1})
	r.input.Unmap()

	assert.NoError(t, r.Forward(1, state.New(1, 0)))
	outBytes, _ := r.output.Map()
	defer r.output.Unmap()
	assert.InDelta(t, 8.0, decodeFloat32(outBytes)[0], 1e-6)
}

func TestReduceLayer_L2ComputesEuclideanNormAcrossChannels(t *testing.T) {
	r := buildReduce(t, NormL2)
	inBytes, _ := r.input.Map()
	encodeFloat32(inBytes, []float32{3, 4, 0})
	r.input.Unmap()

	assert.NoError(t, r.Forward(1, state.New(1, 0)))
	outBytes, _ := r.output.Map()
	defer r.output.Unmap()
	assert.InDelta(t, 5.0, decodeFloat32(outBytes)[0], 1e-6)
}
