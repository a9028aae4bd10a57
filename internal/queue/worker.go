package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/relaybridge/relay-core/internal/infrastructure/logging"
)

// popTimeout bounds each blocking pop so workers notice shutdown.
const popTimeout = 2 * time.Second

// delayedPollInterval is how often due delayed jobs are promoted back to
// the pending list.
const delayedPollInterval = time.Second

// Worker drains the pending list with a fixed-size goroutine pool.
//
// Each job is processed sequentially (save, then publish); concurrency
// exists only across jobs. Failed jobs are retried with exponential
// backoff up to the attempt cap, then parked in the bounded failed set.
type Worker struct {
	queue *Queue
	wg    sync.WaitGroup
}

// NewWorker creates a worker for the queue. In direct mode the worker is
// inert: Start returns immediately and no goroutines run.
func NewWorker(queue *Queue) *Worker {
	return &Worker{queue: queue}
}

// Start launches the worker pool and the delayed-job mover. Returns
// immediately; processing continues until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	if w.queue.Mode() == ModeDirect {
		return
	}

	for i := 0; i < w.queue.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, i)
	}

	w.wg.Add(1)
	go w.runDelayedMover(ctx)

	w.queue.logger.Info("queue workers started", "concurrency", w.queue.cfg.Concurrency)
}

// Wait blocks until all worker goroutines have exited after context
// cancellation.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// runWorker is one member of the pool: pop, process, settle.
func (w *Worker) runWorker(ctx context.Context, id int) {
	defer w.wg.Done()
	logger := w.queue.logger.With("worker", strconv.Itoa(id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := w.queue.rdb.BRPop(ctx, popTimeout, keyPending).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			logger.Warn("queue pop failed", "error", err)
			// Back off briefly so a dead Redis doesn't spin the pool.
			select {
			case <-ctx.Done():
				return
			case <-time.After(popTimeout):
			}
			continue
		}

		// BRPop returns [key, value].
		if len(result) != 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			logger.Error("discarding undecodable job", "error", err)
			continue
		}

		w.processJob(ctx, logger, &job)
	}
}

// processJob runs one attempt and settles the job: completed history on
// success, delayed retry or failed set on error.
func (w *Worker) processJob(ctx context.Context, logger *logging.Logger, job *Job) {
	job.Attempts++

	err := w.queue.processor.Process(ctx, job)
	if err == nil {
		encoded, _ := json.Marshal(job) //nolint:errcheck // marshalling a decoded job
		w.queue.recordCompleted(ctx, encoded)
		logger.Info("job completed", "job_id", job.ID, "topic", job.TopicName, "attempts", job.Attempts)
		return
	}

	job.LastError = err.Error()
	encoded, _ := json.Marshal(job) //nolint:errcheck // marshalling a decoded job

	if job.Attempts >= w.queue.cfg.MaxAttempts {
		w.queue.recordFailed(ctx, encoded)
		logger.Error("job exhausted retries", "job_id", job.ID, "topic", job.TopicName, "attempts", job.Attempts, "error", err)
		return
	}

	delay := w.queue.nextBackoff(job.Attempts)
	due := float64(time.Now().Add(delay).UnixMilli())
	if err := w.queue.rdb.ZAdd(ctx, keyDelayed, goredis.Z{Score: due, Member: encoded}).Err(); err != nil {
		logger.Error("failed to schedule retry", "job_id", job.ID, "error", err)
		return
	}
	logger.Warn("job retry scheduled", "job_id", job.ID, "attempt", job.Attempts, "delay", delay)
}

// runDelayedMover promotes due delayed jobs back onto the pending list.
func (w *Worker) runDelayedMover(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(delayedPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.promoteDue(ctx)
		}
	}
}

// promoteDue moves every delayed job whose due time has passed onto the
// pending list. Remove-then-push per member so a job is never duplicated
// if two movers ever run.
func (w *Worker) promoteDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	due, err := w.queue.rdb.ZRangeByScore(ctx, keyDelayed, &goredis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		w.queue.logger.Warn("failed to read delayed jobs", "error", err)
		return
	}

	for _, member := range due {
		removed, err := w.queue.rdb.ZRem(ctx, keyDelayed, member).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := w.queue.rdb.LPush(ctx, keyPending, member).Err(); err != nil {
			w.queue.logger.Error("failed to promote delayed job", "error", err)
		}
	}
}
