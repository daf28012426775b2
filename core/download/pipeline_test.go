package download

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fyusenet/fyusenet-go/core/buffer"
	"github.com/stretchr/testify/assert"
)

func TestSubmit_CopiesSyncBytesIntoDestBuffer(t *testing.T) {
	ctx := &fakeGfxContext{syncBytes: []byte{1, 2, 3, 4}}
	p := New(ctx, 1, 4, time.Second)

	dest := buffer.NewCPUBuffer(buffer.New(1, 1, 4, 0, buffer.Uint8, buffer.Channelwise))

	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	p.Submit(Job{
		SequenceNo: 1,
		Dest:       dest,
		Timeout:    time.Second,
		Done: func(sequenceNo uint64, err error) {
			gotErr = err
			wg.Done()
		},
	})
	wg.Wait()

	assert.NoError(t, gotErr)
	assert.Len(t, ctx.removedSync, 1)
}

func TestSubmit_PropagatesFenceTimeoutAsError(t *testing.T) {
	ctx := &fakeGfxContext{syncErr: errors.New("fence not signaled")}
	p := New(ctx, 1, 4, time.Second)

	dest := buffer.NewCPUBuffer(buffer.New(1, 1, 1, 0, buffer.Uint8, buffer.Channelwise))

	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	p.Submit(Job{
		SequenceNo: 2,
		Dest:       dest,
		Done: func(sequenceNo uint64, err error) {
			gotErr = err
			wg.Done()
		},
	})
	wg.Wait()

	assert.Error(t, gotErr)
}

func TestSubmit_DestLargerThanStagingBufferSucceeds(t *testing.T) {
	ctx := &fakeGfxContext{syncBytes: []byte{1}}
	p := New(ctx, 1, 4, time.Second)

	dest := buffer.NewCPUBuffer(buffer.New(1, 1, 4, 0, buffer.Uint8, buffer.Channelwise))

	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	p.Submit(Job{
		SequenceNo: 3,
		Dest:       dest,
		Done: func(sequenceNo uint64, err error) {
			gotErr = err
			wg.Done()
		},
	})
	wg.Wait()

	assert.NoError(t, gotErr)
}
