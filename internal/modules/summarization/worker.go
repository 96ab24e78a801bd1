package summarization

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gistly/core/internal/pkg/taskqueue"
)

const claimIdleWait = time.Second

type claimQueue interface {
	Claim(ctx context.Context) (*taskqueue.Job, error)
	Ack(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause error) error
}

type processor interface {
	Process(ctx context.Context, id string, final bool) error
}

// Worker polls the queue and runs summarization jobs. It survives every job
// error; only context cancellation stops it.
type Worker struct {
	queue       claimQueue
	svc         processor
	log         *zap.Logger
	concurrency int
	maxAttempts int
}

func NewWorker(queue claimQueue, svc processor, log *zap.Logger, concurrency, maxAttempts int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Worker{
		queue:       queue,
		svc:         svc,
		log:         log,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
	}
}

// Start launches the claim loops. They stop when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		go w.runLoop(ctx, i)
	}
}

func (w *Worker) runLoop(ctx context.Context, id int) {
	w.log.Info("worker started", zap.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Claim(ctx)
		if err != nil {
			w.log.Warn("claim failed", zap.Int("worker", id), zap.Error(err))
			w.sleep(ctx, claimIdleWait)
			continue
		}
		if job == nil {
			w.sleep(ctx, claimIdleWait)
			continue
		}

		w.handle(ctx, job)
	}
}

func (w *Worker) handle(ctx context.Context, job *taskqueue.Job) {
	var payload JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.RequestID == "" {
		w.log.Error("undecodable job payload, dropping",
			zap.String("job_id", job.ID), zap.Error(err))
		w.ack(ctx, job.ID)
		return
	}

	final := job.Attempts >= w.maxAttempts
	err := w.process(ctx, payload.RequestID, final)
	if err != nil {
		if failErr := w.queue.Fail(ctx, job.ID, err); failErr != nil {
			w.log.Error("job fail write lost",
				zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return
	}
	w.ack(ctx, job.ID)
}

// process wraps Service.Process with a panic guard so one bad job cannot take
// the loop down.
func (w *Worker) process(ctx context.Context, requestID string, final bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			w.log.Error("recovered job panic",
				zap.String("request_id", requestID), zap.Any("panic", r))
		}
	}()
	return w.svc.Process(ctx, requestID, final)
}

func (w *Worker) ack(ctx context.Context, jobID string) {
	if err := w.queue.Ack(ctx, jobID); err != nil {
		w.log.Error("job ack lost", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
