// Package download runs the asynchronous GPU→CPU readback pipeline: blit a render target into a
// staging buffer, wait on its fence from a worker goroutine bound to a derived GPU context, copy
// the mapped bytes into a CPU buffer, and notify the caller.
package download

import (
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/fyusenet/fyusenet-go/core/buffer"
	"github.com/fyusenet/fyusenet-go/core/errs"
	"github.com/fyusenet/fyusenet-go/engine/renderer"
)

// DefaultTimeout is the fence wait deadline SPEC_FULL.md §5 specifies for a download: 5 seconds.
const DefaultTimeout = 5 * time.Second

// Job describes one pending readback: the sync fence to wait on, the CPU buffer to copy into,
// and the sequence number the caller's ordering guarantees are keyed on.
type Job struct {
	SequenceNo uint64
	Sync       renderer.SyncHandle
	Dest       *buffer.CPUBuffer
	Timeout    time.Duration

	// Commenced, if set, is invoked on the worker goroutine the instant the job starts waiting
	// on its fence.
	Commenced func(sequenceNo uint64)
	// Done is invoked on the worker goroutine once the copy completes or the job fails.
	Done func(sequenceNo uint64, err error)
}

// Pipeline runs Jobs on a bounded pool of worker goroutines, all waiting on the one GPU context
// passed to New, so a slow readback never blocks the engine's main forward thread.
type Pipeline struct {
	pool worker.DynamicWorkerPool
	ctx  renderer.GfxContext

	nextTaskID int
}

// New builds a Pipeline with workerCount persistent workers, a queue depth of queueSize pending
// jobs, and the given idle-worker reclaim timeout, waiting on and releasing each job's sync
// handle through derivedCtx. A sync handle is only found in the context that issued it, so
// derivedCtx is the context the jobs' BlitToStagingBuffer calls went through.
func New(derivedCtx renderer.GfxContext, workerCount, queueSize int, idleTimeout time.Duration) *Pipeline {
	if derivedCtx == nil {
		panic("download: derivedCtx must not be nil")
	}
	return &Pipeline{
		pool: worker.NewDynamicWorkerPool(workerCount, queueSize, idleTimeout),
		ctx:  derivedCtx,
	}
}

// Submit schedules j for asynchronous readback. The job runs on a pool worker: it waits on
// j.Sync (falling back to DefaultTimeout if j.Timeout is zero), copies the resulting bytes into
// j.Dest, removes the fence, and invokes j.Done with the outcome.
func (p *Pipeline) Submit(j Job) {
	timeout := j.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	taskID := p.nextTaskID
	p.nextTaskID++

	p.pool.SubmitTask(worker.Task{
		ID: taskID,
		Do: func() (any, error) {
			if j.Commenced != nil {
				j.Commenced(j.SequenceNo)
			}
			err := p.run(j, timeout)
			if j.Done != nil {
				j.Done(j.SequenceNo, err)
			}
			return nil, err
		},
	})
}

func (p *Pipeline) run(j Job, timeout time.Duration) error {
	defer p.ctx.RemoveSync(j.Sync)

	data, err := p.ctx.WaitClientSync(j.Sync, timeout)
	if err != nil {
		return errs.Wrap(errs.Timeout, err, "waiting on download fence for sequence %d", j.SequenceNo)
	}
	dst, err := j.Dest.Map()
	if err != nil {
		return errs.Wrap(errs.Protocol, err, "mapping destination buffer for sequence %d", j.SequenceNo)
	}
	defer j.Dest.Unmap()
	if len(data) > len(dst) {
		return errs.New(errs.Protocol, "staging buffer (%d bytes) larger than destination (%d bytes)", len(data), len(dst))
	}
	copy(dst, data)
	return nil
}
