package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/Skryldev/affect-lab/domain/model"
	"github.com/Skryldev/affect-lab/pkg/logger"
	"github.com/Skryldev/affect-lab/pkg/progress"
	"go.uber.org/zap"
)

// WorkerPool classifies batch jobs concurrently
type WorkerPool struct {
	pipeline *Pipeline
	workers  int
	log      *logger.Logger
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(p *Pipeline, workers int, log *logger.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	return &WorkerPool{
		pipeline: p,
		workers:  workers,
		log:      logger.OrDefault(log).Named("pool"),
	}
}

// Run processes batch jobs concurrently and sends results to returned channel
// The channel is closed when all jobs are complete or context is canceled
func (wp *WorkerPool) Run(ctx context.Context, jobs []model.BatchJob, reporter progress.Reporter) (<-chan model.BatchResult, error) {
	results := make(chan model.BatchResult, len(jobs))

	go func() {
		defer close(results)

		var wg sync.WaitGroup
		semaphore := make(chan struct{}, wp.workers)

		for _, job := range jobs {
			select {
			case <-ctx.Done():
				results <- model.BatchResult{
					JobID: job.ID,
					Err:   ctx.Err(),
				}
				continue
			case semaphore <- struct{}{}:
			}

			wg.Add(1)
			go func(j model.BatchJob) {
				defer wg.Done()
				defer func() { <-semaphore }()

				result, err := wp.processJob(ctx, j, reporter)
				results <- model.BatchResult{
					JobID:  j.ID,
					Result: result,
					Err:    err,
				}
			}(job)
		}

		wg.Wait()
	}()

	return results, nil
}

func (wp *WorkerPool) processJob(ctx context.Context, job model.BatchJob, reporter progress.Reporter) (*model.ClassificationResult, error) {
	opts := job.Options
	if opts == nil {
		opts = model.DefaultClassificationOptions()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	pipelineJob := &Job{
		ID:        job.ID,
		InputPath: job.InputPath,
		Options:   opts,
		Reporter:  reporter,
		Log:       wp.log.With(zap.String("job_id", job.ID)),
	}

	wp.log.Info("classifying batch job",
		zap.String("job_id", job.ID),
		zap.String("input", job.InputPath),
	)

	result, err := wp.pipeline.Run(ctx, pipelineJob)
	if err != nil {
		wp.log.Error("batch job failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("job %s failed: %w", job.ID, err)
	}

	return result, nil
}
