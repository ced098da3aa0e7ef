package workers

import (
	"context"
	"fmt"
	"sync"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

// WorkerPool runs submitted tasks on a fixed number of goroutines
type WorkerPool struct {
	ctx        context.Context
	cancel     context.CancelFunc
	numWorkers int
	workerChan chan func()
	wg         sync.WaitGroup
	logger     *utils.LogsManager
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(ctx context.Context, numWorkers int, logger *utils.LogsManager) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	poolCtx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		ctx:        poolCtx,
		cancel:     cancel,
		numWorkers: numWorkers,
		workerChan: make(chan func(), numWorkers),
		logger:     logger,
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.Info(fmt.Sprintf("Starting worker pool with %d workers", wp.numWorkers), "workers")

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.work(i)
	}
}

func (wp *WorkerPool) work(id int) {
	defer wp.wg.Done()

	for {
		select {
		case task := <-wp.workerChan:
			wp.run(id, task)
		case <-wp.ctx.Done():
			wp.logger.Debug(fmt.Sprintf("Worker %d stopping (context done)", id), "workers")
			return
		}
	}
}

// run executes one task; a panicking task does not take the worker down
func (wp *WorkerPool) run(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error(fmt.Sprintf("Worker %d panic recovered: %v", id, r), "workers")
		}
	}()
	task()
}

// Submit hands a task to the next free worker, blocking while all are busy
func (wp *WorkerPool) Submit(task func()) error {
	select {
	case wp.workerChan <- task:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Context is cancelled when the pool stops
func (wp *WorkerPool) Context() context.Context {
	return wp.ctx
}

// Stop cancels the pool and waits for running tasks to return
func (wp *WorkerPool) Stop() {
	wp.logger.Info("Stopping worker pool", "workers")
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Info("Worker pool stopped", "workers")
}

// GetActiveWorkers returns the number of workers
func (wp *WorkerPool) GetActiveWorkers() int {
	return wp.numWorkers
}
