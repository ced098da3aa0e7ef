package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/database"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/metrics"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
	"github.com/Trustflow-Network-Labs/secure-groups/internal/workers"
)

// Handler runs one job. Returning an error schedules a retry unless it wraps
// ErrPermanent.
type Handler func(ctx context.Context, job *database.JobRecord) error

// Runner executes persisted jobs on a worker pool. Jobs are only picked up
// after the transaction that enqueued them commits.
type Runner struct {
	db     *database.SQLiteManager
	logger *utils.LogsManager

	handlers    map[Variant]Handler
	handlersMu  sync.RWMutex
	maxFailures int
	interval    time.Duration
	workerCount int

	inflight   map[string]bool
	inflightMu sync.Mutex

	wake chan struct{}
	pool *workers.WorkerPool
	done chan struct{}
}

// NewRunner reads `job_workers`, `job_max_failures` and `job_poll_interval`
func NewRunner(db *database.SQLiteManager, cm *utils.ConfigManager, logger *utils.LogsManager) *Runner {
	return &Runner{
		db:          db,
		logger:      logger,
		handlers:    make(map[Variant]Handler),
		maxFailures: cm.GetConfigInt("job_max_failures", 3, 1, 100),
		interval:    cm.GetConfigDuration("job_poll_interval", 5*time.Second),
		workerCount: cm.GetConfigInt("job_workers", 2, 1, 64),
		inflight:    make(map[string]bool),
		wake:        make(chan struct{}, 1),
	}
}

// Register sets the handler for a variant
func (r *Runner) Register(variant Variant, handler Handler) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	r.handlers[variant] = handler
}

// Enqueue persists a job in tx and wakes the runner once tx commits
func (r *Runner) Enqueue(tx *database.Tx, variant Variant, threadID string, details interface{}) (string, error) {
	record, err := newRecord(variant, threadID, details)
	if err != nil {
		return "", err
	}
	if err := tx.InsertJob(record); err != nil {
		return "", err
	}

	tx.AfterCommit(r.Wake)
	return record.ID, nil
}

// Wake triggers a dispatch pass without waiting for the next tick
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start launches the worker pool and the dispatch loop
func (r *Runner) Start(ctx context.Context) {
	r.pool = workers.NewWorkerPool(ctx, r.workerCount, r.logger)
	r.pool.Start()
	r.done = make(chan struct{})

	go r.dispatchLoop(r.pool.Context())
}

// Stop ends dispatching and waits for running jobs
func (r *Runner) Stop() {
	if r.pool == nil {
		return
	}
	r.pool.Stop()
	<-r.done
}

func (r *Runner) dispatchLoop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.dispatch(ctx)
	for {
		select {
		case <-ticker.C:
			r.dispatch(ctx)
		case <-r.wake:
			r.dispatch(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) dispatch(ctx context.Context) {
	due, err := r.dueJobs()
	if err != nil {
		r.logger.Error(fmt.Sprintf("Failed to load due jobs: %v", err), "jobs")
		return
	}

	for _, job := range due {
		if !r.claim(job.ID) {
			continue
		}
		job := job
		if err := r.pool.Submit(func() {
			defer r.release(job.ID)
			r.execute(ctx, job)
		}); err != nil {
			r.release(job.ID)
			return
		}
	}
}

// RunDue runs every due job on the calling goroutine and returns how many ran
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	due, err := r.dueJobs()
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, job := range due {
		if !r.claim(job.ID) {
			continue
		}
		r.execute(ctx, job)
		r.release(job.ID)
		ran++
	}
	return ran, nil
}

func (r *Runner) dueJobs() ([]*database.JobRecord, error) {
	var due []*database.JobRecord
	err := r.db.Read(func(tx *database.Tx) error {
		var err error
		due, err = tx.DueJobs(time.Now().UnixMilli(), 64)
		return err
	})
	return due, err
}

func (r *Runner) claim(id string) bool {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	if r.inflight[id] {
		return false
	}
	r.inflight[id] = true
	return true
}

func (r *Runner) release(id string) {
	r.inflightMu.Lock()
	delete(r.inflight, id)
	r.inflightMu.Unlock()
}

func (r *Runner) execute(ctx context.Context, job *database.JobRecord) {
	r.handlersMu.RLock()
	handler, ok := r.handlers[Variant(job.Variant)]
	r.handlersMu.RUnlock()

	var err error
	if !ok {
		err = fmt.Errorf("%w: no handler for %s", ErrPermanent, job.Variant)
	} else {
		err = handler(ctx, job)
	}

	r.finish(job, err)
}

// finish deletes a completed or exhausted job and reschedules the rest
func (r *Runner) finish(job *database.JobRecord, runErr error) {
	outcome := "succeeded"
	writeErr := r.db.Write(func(tx *database.Tx) error {
		if runErr == nil {
			return tx.DeleteJob(job.ID)
		}

		failures := job.FailureCount + 1
		if errors.Is(runErr, ErrPermanent) || failures >= r.maxFailures {
			outcome = "abandoned"
			r.logger.Warn(fmt.Sprintf("Abandoning %s job %s after %d failures: %v", job.Variant, job.ID, failures, runErr), "jobs")
			return tx.DeleteJob(job.ID)
		}

		outcome = "retried"
		r.logger.Info(fmt.Sprintf("Retrying %s job %s (failure %d): %v", job.Variant, job.ID, failures, runErr), "jobs")
		next := time.Now().Add(r.interval << (failures - 1)).UnixMilli()
		return tx.RescheduleJob(job.ID, failures, next)
	})
	if writeErr != nil {
		r.logger.Error(fmt.Sprintf("Failed to record %s job %s outcome: %v", job.Variant, job.ID, writeErr), "jobs")
	}

	metrics.JobsRun.WithLabelValues(job.Variant, outcome).Inc()
}
