package service

import (
	"context"
	"runtime"
	"sync"
	"time"
)

const (
	// default per-job timeout is 1m
	DefaultJobTimeout = 60 * time.Second
)

// JobFunc is the unit of work run by the pool for one key.
type JobFunc func(ctx context.Context, key string) error

type jobContext struct {
	key string
	ctx context.Context
}

// JobResult pairs a job key with the error it returned.
type JobResult struct {
	Key string
	Err error
}

// WorkerPool runs keyed jobs on a fixed number of workers.
type WorkerPool struct {
	fn      JobFunc
	logger  Logger
	timeout time.Duration
	jobChan chan jobContext
	results chan JobResult
	wg      sync.WaitGroup
	ctx     context.Context
}

func NewWorkerPool(mainCtx context.Context, fn JobFunc, logger Logger) *WorkerPool {
	return &WorkerPool{
		fn:      fn,
		logger:  logger,
		timeout: DefaultJobTimeout,
		ctx:     mainCtx,
	}
}

// Start begins the worker pool with the specified number of workers
func (wp *WorkerPool) Start(workers int) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	wp.jobChan = make(chan jobContext, workers)
	wp.results = make(chan JobResult, workers)
	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// Stop closes the job channel and waits for the workers to drain it.
func (wp *WorkerPool) Stop() {
	close(wp.jobChan)
	wp.wg.Wait()
	close(wp.results)
}

// Execute queues one job per key and collects every result. Keys that are
// still queued when the pool context is cancelled fail with its error.
func (wp *WorkerPool) Execute(ctx context.Context, keys []string) []JobResult {
	collected := make(chan []JobResult, 1)
	go func() {
		out := make([]JobResult, 0, len(keys))
		for res := range wp.results {
			out = append(out, res)
		}
		collected <- out
	}()

	for _, key := range keys {
		select {
		case wp.jobChan <- jobContext{key: key, ctx: ctx}:
		case <-ctx.Done():
			wp.results <- JobResult{Key: key, Err: ctx.Err()}
		case <-wp.ctx.Done():
			wp.results <- JobResult{Key: key, Err: wp.ctx.Err()}
		}
	}
	wp.Stop()
	return <-collected
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for job := range wp.jobChan {
		if err := wp.ctx.Err(); err != nil {
			wp.results <- JobResult{Key: job.key, Err: err}
			continue
		}
		wp.results <- JobResult{Key: job.key, Err: wp.execute(job)}
	}
}

func (wp *WorkerPool) execute(job jobContext) error {
	execCtx, cancel := context.WithTimeout(job.ctx, wp.timeout)
	defer cancel()
	stop := context.AfterFunc(wp.ctx, cancel)
	defer stop()

	wp.logger.Infof("Starting job %s", job.key)
	err := wp.fn(execCtx, job.key)
	if err != nil {
		wp.logger.Errorf("Job %s failed: %v", job.key, err)
		return err
	}
	wp.logger.Infof("Job %s completed successfully", job.key)
	return nil
}
