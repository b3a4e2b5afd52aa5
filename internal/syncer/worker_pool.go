package syncer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// entityTask identifies one (symbol, interval) unit of work.
type entityTask struct {
	Symbol   string
	Interval string
}

// taskFunc runs one entity's pipeline and reports the outcome.
type taskFunc func(ctx context.Context, task entityTask) *EntityResult

// pool fans entity tasks out to a bounded set of workers. Entities are
// independent, so workers share nothing beyond the result channel, and the
// fetch rate stays bounded by the syncer's limiter regardless of pool size.
type pool struct {
	size   int
	logger *slog.Logger

	running   int32
	completed int32
}

// newPool creates a pool of the given size, minimum one worker.
func newPool(size int, logger *slog.Logger) *pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &pool{size: size, logger: logger}
}

// Run executes every task and returns the completed results. Cancellation
// stops the dispatch of new tasks; tasks already picked up run to
// completion, so a cancelled run never leaves an entity half-processed.
// A pool instance runs once.
func (p *pool) Run(ctx context.Context, tasks []entityTask, fn taskFunc) []*EntityResult {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return nil
	}

	taskCh := make(chan entityTask)
	resultCh := make(chan *EntityResult, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				resultCh <- fn(ctx, task)
				atomic.AddInt32(&p.completed, 1)
			}
		}()
	}

	dispatched := 0
feed:
	for _, task := range tasks {
		select {
		case taskCh <- task:
			dispatched++
		case <-ctx.Done():
			p.logger.Debug("pool dispatch stopped",
				slog.Int("dispatched", dispatched),
				slog.Int("remaining", len(tasks)-dispatched))
			break feed
		}
	}
	close(taskCh)
	wg.Wait()
	close(resultCh)

	p.logger.Debug("pool drained",
		slog.Int("workers", p.size),
		slog.Int("completed", int(atomic.LoadInt32(&p.completed))))

	results := make([]*EntityResult, 0, dispatched)
	for res := range resultCh {
		results = append(results, res)
	}
	return results
}
