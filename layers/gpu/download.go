package gpu

import (
	"time"

	"github.com/fyusenet/fyusenet-go/core/buffer"
	"github.com/fyusenet/fyusenet-go/core/download"
	"github.com/fyusenet/fyusenet-go/core/errs"
	"github.com/fyusenet/fyusenet-go/core/layer"
	"github.com/fyusenet/fyusenet-go/core/param"
	"github.com/fyusenet/fyusenet-go/core/state"
	"github.com/fyusenet/fyusenet-go/engine/renderer"
)

// AsyncNotifier is the subset of network.Engine a DownloadLayer needs to report async
// completion: one BeginAsync call per Forward, one CompleteAsync call once the readback lands.
type AsyncNotifier interface {
	BeginAsync(sequenceNo uint64)
	CompleteAsync(sequenceNo uint64)
}

// DownloadLayer reads the GPU output of the network's final layer back to a host CPUBuffer via
// core/download.Pipeline, asynchronously: Forward only blits to a staging buffer and submits a
// readback job, it does not block on the fence.
type DownloadLayer struct {
	base

	width, height, channels int

	pipeline *download.Pipeline
	notifier AsyncNotifier
	dest     *buffer.CPUBuffer
	timeout  time.Duration

	onResult func(sequenceNo uint64, dest *buffer.CPUBuffer, err error)
}

// NewDownloadLayer builds a DownloadLayer from a compiled builder and the download pipeline and
// async notifier it reports through.
func NewDownloadLayer(b *layer.LayerBuilder, number int, ctx renderer.GfxContext, pipeline *download.Pipeline, notifier AsyncNotifier) *DownloadLayer {
	return &DownloadLayer{
		base:     newBase(b.Name(), number, b.Flags(), ctx),
		pipeline: pipeline,
		notifier: notifier,
		timeout:  download.DefaultTimeout,
	}
}

// WithGeometry sets the layer's input spatial extent and channel count.
func (d *DownloadLayer) WithGeometry(width, height, channels int) *DownloadLayer {
	d.width, d.height, d.channels = width, height, channels
	return d
}

// OnResult registers the callback invoked once the async readback completes (with an error if
// the fence timed out or the buffer mapping failed).
func (d *DownloadLayer) OnResult(fn func(sequenceNo uint64, dest *buffer.CPUBuffer, err error)) {
	d.onResult = fn
}

func (d *DownloadLayer) RequiredInputBuffers() []layer.BufferSpec {
	shape := buffer.New(d.height, d.width, d.channels, 0, buffer.Float16, buffer.GPUDeep)
	return []layer.BufferSpec{layer.NewBufferSpec(0, layer.Source, shape)}
}

func (d *DownloadLayer) RequiredOutputBuffers() []layer.BufferSpec { return nil }

func (d *DownloadLayer) Setup() error {
	shape, err := buffer.New(d.height, d.width, d.channels, 0, buffer.Float16, buffer.GPUDeep).AsOrder(buffer.Channelwise)
	if err != nil {
		return err
	}
	d.dest = buffer.NewCPUBuffer(shape)
	return nil
}

func (d *DownloadLayer) LoadParameters(param.Provider) error { return nil }

// Forward blits the input texture to a staging buffer and submits an async readback job;
// Forward itself returns as soon as the blit is requested, not once the data has landed.
func (d *DownloadLayer) Forward(sequenceNo uint64, st state.Token) error {
	// lockForward is released from the job's Done callback, not here: the async worker keeps
	// writing into d.dest after Forward returns, and a second Forward submitted before that
	// write lands would race on the same destination buffer.
	d.lockForward()

	handle, ok := d.inputs[0]
	if !ok {
		d.unlockForward()
		return errs.New(errs.Protocol, "download layer %q has no input texture bound", d.name)
	}
	byteSize := uint64(d.dest.Bytes())
	sync, err := d.ctx.BlitToStagingBuffer(handle, byteSize)
	if err != nil {
		d.unlockForward()
		return errs.Wrap(errs.Resource, err, "blitting download layer %q to staging buffer", d.name)
	}
	if d.notifier != nil {
		d.notifier.BeginAsync(sequenceNo)
	}
	d.pipeline.Submit(download.Job{
		SequenceNo: sequenceNo,
		Sync:       sync,
		Dest:       d.dest,
		Timeout:    d.timeout,
		Done: func(seq uint64, err error) {
			defer d.unlockForward()
			if d.notifier != nil {
				d.notifier.CompleteAsync(seq)
			}
			if d.onResult != nil {
				d.onResult(seq, d.dest, err)
			}
		},
	})
	return nil
}

func (d *DownloadLayer) Cleanup() { d.dest = nil }

var _ layer.GPULayer = (*DownloadLayer)(nil)
