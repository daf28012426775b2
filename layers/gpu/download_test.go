package gpu

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyusenet/fyusenet-go/core/buffer"
	"github.com/fyusenet/fyusenet-go/core/download"
	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/state"
)

type fakeAsyncNotifier struct {
	began, completed []uint64
}

func (n *fakeAsyncNotifier) BeginAsync(seq uint64)    { n.began = append(n.began, seq) }
func (n *fakeAsyncNotifier) CompleteAsync(seq uint64) { n.completed = append(n.completed, seq) }

func TestDownloadLayer_Forward_RequiresBoundInput(t *testing.T) {
	b := layer.New("download1", 20, layer.Download)
	fake := newFakeGfxContext()
	pipeline := download.New(fake, 1, 4, time.Second)
	d := NewDownloadLayer(b, 20, fake, pipeline, nil)
	d.WithGeometry(2, 2, 4)
	require.NoError(t, d.Setup())

	assert.Error(t, d.Forward(0, state.New(1, 0)))
}

func TestDownloadLayer_Forward_SubmitsAsyncReadback(t *testing.T) {
	b := layer.New("download2", 21, layer.Download)
	fake := newFakeGfxContext()
	fake.syncBytes = make([]byte, 2*2*4*2)
	pipeline := download.New(fake, 1, 4, time.Second)
	notifier := &fakeAsyncNotifier{}
	d := NewDownloadLayer(b, 21, fake, pipeline, notifier)
	d.WithGeometry(2, 2, 4)
	require.NoError(t, d.Setup())
	d.AddInputTexture(3, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	d.OnResult(func(seq uint64, dest *buffer.CPUBuffer, err error) {
		gotErr = err
		wg.Done()
	})

	require.NoError(t, d.Forward(5, state.New(1, 0)))
	assert.EqualValues(t, 3, fake.blitHandle)
	wg.Wait()

	assert.NoError(t, gotErr)
	assert.Contains(t, notifier.began, uint64(5))
	assert.Contains(t, notifier.completed, uint64(5))
}
