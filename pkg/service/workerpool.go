package service

import (
	"context"

	"go.uber.org/atomic"

	"github.com/meetkit/meetkit-server/pkg/config"
	"github.com/meetkit/meetkit-server/pkg/logger"
	"github.com/meetkit/meetkit-server/pkg/media"
)

// WorkerPool owns a fixed set of media-engine workers, sized at process
// start, and spreads room creation across them round-robin. A room keeps
// its worker for its entire lifetime, so only creation is balanced, not
// load. The pool does not self-heal: a dead worker strands its rooms and
// the hosting process must restart.
type WorkerPool struct {
	workers []media.Worker
	idx     atomic.Uint32

	onWorkerDied func(workerID string, err error)
}

func NewWorkerPool(ctx context.Context, engine media.Engine, conf config.MediaConfig) (*WorkerPool, error) {
	p := &WorkerPool{}
	for i := 0; i < conf.NumWorkers; i++ {
		worker, err := engine.NewWorker(ctx, media.WorkerOptions{
			RTCPortRangeStart: conf.RTCPortRangeStart,
			RTCPortRangeEnd:   conf.RTCPortRangeEnd,
		})
		if err != nil {
			p.Close()
			return nil, err
		}
		worker.OnDied(p.workerDied(worker.ID()))
		p.workers = append(p.workers, worker)
		logger.Infow("media worker started", "workerId", worker.ID())
	}
	return p, nil
}

// OnWorkerDied registers the fatal-path hook. In-flight rooms on a dead
// worker cannot be repaired, so the hook is expected to shut the process
// down for a managed restart.
func (p *WorkerPool) OnWorkerDied(f func(workerID string, err error)) {
	p.onWorkerDied = f
}

func (p *WorkerPool) workerDied(workerID string) func(error) {
	return func(err error) {
		logger.Errorw("media worker died", err, "workerId", workerID)
		if p.onWorkerDied != nil {
			p.onWorkerDied(workerID, err)
		}
	}
}

// Assign returns the next worker in round-robin order.
func (p *WorkerPool) Assign() (media.Worker, error) {
	if len(p.workers) == 0 {
		return nil, ErrNoAvailableWorker
	}
	i := (p.idx.Inc() - 1) % uint32(len(p.workers))
	return p.workers[i], nil
}

func (p *WorkerPool) NumWorkers() int {
	return len(p.workers)
}

func (p *WorkerPool) Close() {
	for _, w := range p.workers {
		_ = w.Close()
	}
}
