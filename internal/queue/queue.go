package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/relaybridge/relay-core/internal/infrastructure/config"
	"github.com/relaybridge/relay-core/internal/infrastructure/logging"
)

// Redis keys for the publish queue.
const (
	keyPending   = "publish:pending"
	keyDelayed   = "publish:delayed"
	keyFailed    = "publish:failed"
	keyCompleted = "publish:completed"
)

// Operating modes. The mode is fixed at construction and observable via
// Mode() so the HTTP layer can surface it in health checks.
const (
	ModeQueued = "queued"
	ModeDirect = "direct"
)

// Job is a publish request travelling through the queue.
//
// QoS and Retain override the broker client's configured publish options
// for this job only; nil QoS means "use the configured level". Delay
// defers the first attempt and is consumed at enqueue time: the job lands
// in the delayed set with a due timestamp instead of the pending list, so
// the field itself is not serialised.
type Job struct {
	ID         string        `json:"id"`
	TopicID    string        `json:"topic_id"`
	TopicName  string        `json:"topic_name"`
	Message    string        `json:"message"`
	UserID     string        `json:"user_id"`
	QoS        *int          `json:"qos,omitempty"`
	Retain     bool          `json:"retain,omitempty"`
	Delay      time.Duration `json:"-"`
	Attempts   int           `json:"attempts"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	LastError  string        `json:"last_error,omitempty"`
}

// Processor performs the actual work for a job: persist the message,
// then publish it with echo suppression. The bridge provides this.
type Processor interface {
	Process(ctx context.Context, job *Job) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, job *Job) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// Queue decouples HTTP-request-time publishes from broker I/O.
//
// In queued mode jobs land in a durable Redis list and the worker pool
// drains them with retry and backoff. If Redis is unreachable when the
// queue is constructed, the queue degrades to direct mode: every Enqueue
// performs the save-then-publish inline and returns its error. The
// contract for callers is fire-and-forget in both modes: a nil return
// from Enqueue never guarantees broker delivery, only acceptance.
type Queue struct {
	rdb       *goredis.Client
	processor Processor
	cfg       config.Queue
	backoff   time.Duration
	mode      string
	logger    *logging.Logger
}

// New creates the publish queue.
//
// Redis availability is probed once, here: an unreachable backing store
// selects direct mode for the lifetime of the process. The mode never
// flips at runtime, keeping Enqueue semantics stable.
func New(rdb *goredis.Client, processor Processor, cfg config.Queue, backoffBase time.Duration, logger *logging.Logger) *Queue {
	q := &Queue{
		rdb:       rdb,
		processor: processor,
		cfg:       cfg,
		backoff:   backoffBase,
		mode:      ModeQueued,
		logger:    logger.With("component", "queue"),
	}

	if rdb == nil {
		q.mode = ModeDirect
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			q.mode = ModeDirect
			q.logger.Warn("queue backend unavailable, degrading to direct mode", "error", err)
		}
	}

	q.logger.Info("publish queue initialised", "mode", q.mode)
	return q
}

// Mode returns the operating mode, ModeQueued or ModeDirect.
func (q *Queue) Mode() string {
	return q.mode
}

// Enqueue submits a publish job.
//
// Queued mode: the job is pushed to the durable pending list, or to the
// delayed set when job.Delay is positive, and the call returns
// immediately; later failures are retried by the worker and never
// surfaced to this caller.
//
// Direct mode: the job is processed inline (persist, then publish) and
// the first failure is returned. There is no scheduler to hold a deferred
// job in this mode, so Delay is ignored.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = "job-" + uuid.NewString()[:8]
	}
	job.EnqueuedAt = time.Now().UTC()

	if q.mode == ModeDirect {
		if job.Delay > 0 {
			q.logger.Warn("ignoring publish delay in direct mode", "job_id", job.ID, "delay", job.Delay)
		}
		return q.processor.Process(ctx, job)
	}

	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}

	if job.Delay > 0 {
		due := float64(time.Now().Add(job.Delay).UnixMilli())
		if err := q.rdb.ZAdd(ctx, keyDelayed, goredis.Z{Score: due, Member: encoded}).Err(); err != nil {
			return fmt.Errorf("enqueueing delayed job %s: %w", job.ID, err)
		}
		q.logger.Debug("job enqueued with delay", "job_id", job.ID, "topic", job.TopicName, "delay", job.Delay)
		return nil
	}

	if err := q.rdb.LPush(ctx, keyPending, encoded).Err(); err != nil {
		return fmt.Errorf("enqueueing job %s: %w", job.ID, err)
	}

	q.logger.Debug("job enqueued", "job_id", job.ID, "topic", job.TopicName)
	return nil
}

// nextBackoff returns the delay before retry attempt n (1-based),
// doubling the base per prior attempt.
func (q *Queue) nextBackoff(attempts int) time.Duration {
	delay := q.backoff
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}

// recordCompleted appends the job to the bounded completed history.
func (q *Queue) recordCompleted(ctx context.Context, encoded []byte) {
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, keyCompleted, encoded)
	pipe.LTrim(ctx, keyCompleted, 0, int64(q.cfg.CompletedRetention)-1)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Warn("failed to record completed job", "error", err)
	}
}

// recordFailed appends the job to the bounded failed set.
func (q *Queue) recordFailed(ctx context.Context, encoded []byte) {
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, keyFailed, encoded)
	pipe.LTrim(ctx, keyFailed, 0, int64(q.cfg.FailedRetention)-1)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Warn("failed to record failed job", "error", err)
	}
}
