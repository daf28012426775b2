package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyusenet/fyusenet-go/core/buffer"
	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/state"
)

func TestUploadLayer_Forward_RequiresSourceAndOutput(t *testing.T) {
	b := layer.New("upload1", 0, layer.Upload)
	u := NewUploadLayer(b, 0, newFakeGfxContext())
	u.WithGeometry(4, 4, 4)
	assert.Error(t, u.Forward(0, state.New(1, 0)))

	u.SetSource(buffer.NewCPUBuffer(buffer.New(4, 4, 4, 0, buffer.Float16, buffer.Channelwise)))
	assert.Error(t, u.Forward(0, state.New(1, 0)))
}

func TestUploadLayer_Forward_UploadsMappedSource(t *testing.T) {
	b := layer.New("upload2", 0, layer.Upload)
	fake := newFakeGfxContext()
	u := NewUploadLayer(b, 0, fake)
	u.WithGeometry(4, 4, 4)
	u.SetSource(buffer.NewCPUBuffer(buffer.New(4, 4, 4, 0, buffer.Float16, buffer.Channelwise)))
	u.AddOutputTexture(7, 0, 0)

	require.NoError(t, u.Forward(0, state.New(1, 0)))
	assert.NotNil(t, fake.uploadedPixels)
}

func TestUploadLayer_Cleanup_ClearsSource(t *testing.T) {
	b := layer.New("upload3", 0, layer.Upload)
	u := NewUploadLayer(b, 0, newFakeGfxContext())
	u.SetSource(buffer.NewCPUBuffer(buffer.New(1, 1, 4, 0, buffer.Float16, buffer.Channelwise)))
	u.Cleanup()
	assert.Nil(t, u.source)
}
