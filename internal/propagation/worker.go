package propagation

import (
	"context"
	"log/slog"
	"sync"
)

// propagateJob is a unit of work for the worker pool.
type propagateJob struct {
	index   int
	state   StarState
	timeMyr float64
}

// propagateResult is the output of a single star propagation.
type propagateResult struct {
	index    int
	position StarPosition
	err      error
	sourceID int64
}

// WorkerPool manages a fixed number of goroutines for parallel propagation.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// PropagateBatch propagates all stars by timeMyr using the worker pool.
// Results keep the order of states; failed stars are logged and left out.
func (wp *WorkerPool) PropagateBatch(ctx context.Context, model Model, states []StarState, timeMyr float64) ([]StarPosition, int, int) {
	if len(states) == 0 {
		return nil, 0, 0
	}

	jobs := make(chan propagateJob, wp.workers*2)
	results := make(chan propagateResult, wp.workers*2)

	// Start workers.
	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				pos, err := model.Propagate(job.state, job.timeMyr)
				result := propagateResult{
					index:    job.index,
					position: pos,
					err:      err,
					sourceID: job.state.SourceID,
				}
				select {
				case results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Feed jobs in a goroutine.
	go func() {
		defer close(jobs)
		for i, st := range states {
			select {
			case jobs <- propagateJob{index: i, state: st, timeMyr: timeMyr}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Close results when all workers are done.
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results by index so output order is deterministic.
	slots := make([]*StarPosition, len(states))
	var successCount, errorCount int

	for result := range results {
		if result.err != nil {
			errorCount++
			wp.logger.Warn("propagation failed",
				"source_id", result.sourceID,
				"t_myr", timeMyr,
				"error", result.err,
			)
			continue
		}
		successCount++
		pos := result.position
		slots[result.index] = &pos
	}

	positions := make([]StarPosition, 0, successCount)
	for _, p := range slots {
		if p != nil {
			positions = append(positions, *p)
		}
	}

	return positions, successCount, errorCount
}
