package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaybridge/relay-core/internal/infrastructure/config"
	"github.com/relaybridge/relay-core/internal/infrastructure/logging"
)

// recordingProcessor captures processed jobs and returns a scripted error.
type recordingProcessor struct {
	mu   sync.Mutex
	jobs []*Job
	err  error
}

func (p *recordingProcessor) Process(_ context.Context, job *Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := *job
	p.jobs = append(p.jobs, &copied)
	return p.err
}

func (p *recordingProcessor) processed() []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobs
}

func testQueueConfig() config.Queue {
	return config.Queue{
		Concurrency:        2,
		MaxAttempts:        3,
		BackoffBase:        2000,
		FailedRetention:    100,
		CompletedRetention: 100,
	}
}

// directQueue builds a queue with no Redis backend, which selects direct
// mode at construction.
func directQueue(processor Processor) *Queue {
	return New(nil, processor, testQueueConfig(), 2*time.Second, logging.Default())
}

func TestDirectModeSelectedWithoutBackend(t *testing.T) {
	q := directQueue(&recordingProcessor{})
	if q.Mode() != ModeDirect {
		t.Errorf("Mode() = %q, want %q", q.Mode(), ModeDirect)
	}
}

func TestDirectModeProcessesInline(t *testing.T) {
	processor := &recordingProcessor{}
	q := directQueue(processor)

	job := &Job{TopicID: "top-1", TopicName: "sensors/t1", Message: "42", UserID: "usr-1"}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	jobs := processor.processed()
	if len(jobs) != 1 {
		t.Fatalf("processed %d jobs, want 1", len(jobs))
	}
	if jobs[0].TopicName != "sensors/t1" || jobs[0].Message != "42" {
		t.Errorf("processed job = %+v, want original fields", jobs[0])
	}
	if jobs[0].ID == "" {
		t.Error("Enqueue() did not assign a job ID")
	}
}

func TestDirectModeIgnoresDelay(t *testing.T) {
	processor := &recordingProcessor{}
	q := directQueue(processor)

	// Without a scheduler, a delayed job is processed immediately.
	job := &Job{TopicName: "sensors/t1", Message: "42", Delay: time.Hour}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if len(processor.processed()) != 1 {
		t.Errorf("processed %d jobs, want 1 (inline, delay ignored)", len(processor.processed()))
	}
}

func TestDirectModeCarriesPublishOptions(t *testing.T) {
	processor := &recordingProcessor{}
	q := directQueue(processor)

	qos := 2
	job := &Job{TopicName: "sensors/t1", Message: "42", QoS: &qos, Retain: true}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	jobs := processor.processed()
	if len(jobs) != 1 {
		t.Fatalf("processed %d jobs, want 1", len(jobs))
	}
	if jobs[0].QoS == nil || *jobs[0].QoS != 2 || !jobs[0].Retain {
		t.Errorf("processed job options = qos %v retain %v, want 2 true", jobs[0].QoS, jobs[0].Retain)
	}
}

func TestDirectModeSurfacesProcessingError(t *testing.T) {
	wantErr := errors.New("broker down")
	q := directQueue(&recordingProcessor{err: wantErr})

	err := q.Enqueue(context.Background(), &Job{TopicName: "sensors/t1"})
	if !errors.Is(err, wantErr) {
		t.Errorf("Enqueue() = %v, want processing error surfaced inline", err)
	}
}

func TestNextBackoffDoubles(t *testing.T) {
	q := directQueue(&recordingProcessor{})

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}
	for _, tc := range cases {
		if got := q.nextBackoff(tc.attempts); got != tc.want {
			t.Errorf("nextBackoff(%d) = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestWorkerInertInDirectMode(t *testing.T) {
	q := directQueue(&recordingProcessor{})
	w := NewWorker(q)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait() blocked for direct-mode worker")
	}
}
