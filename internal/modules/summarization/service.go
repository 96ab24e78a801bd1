package summarization

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gistly/core/internal/models"
	"github.com/gistly/core/internal/modules/analytics"
	"github.com/gistly/core/internal/modules/llm"
	"github.com/gistly/core/internal/pkg/taskqueue"
)

// failedTimeoutMessage marks requests reconciled by the stuck-processing
// watchdog.
const failedTimeoutMessage = "processing timed out"

type jobQueue interface {
	Enqueue(ctx context.Context, id string, payload interface{}, priority int) (*taskqueue.Job, bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
	GetByID(ctx context.Context, id string) (*taskqueue.Job, error)
}

type orchestrator interface {
	Summarize(ctx context.Context, text string) (*llm.Response, error)
	SummarizeStream(ctx context.Context, text string) (llm.Stream, error)
}

type eventRecorder interface {
	RecordEvent(ctx context.Context, e analytics.Event)
}

// Service owns the request lifecycle: admission, queueing, processing and the
// terminal writes.
type Service struct {
	store  RequestStore
	queue  jobQueue
	llm    orchestrator
	events eventRecorder
	log    *zap.Logger
	now    func() time.Time
}

func NewService(store RequestStore, queue jobQueue, orch orchestrator, events eventRecorder, log *zap.Logger) *Service {
	return &Service{
		store:  store,
		queue:  queue,
		llm:    orch,
		events: events,
		log:    log,
		now:    time.Now,
	}
}

// Create persists a PENDING request and enqueues its job. The job id is the
// request id, which makes the enqueue idempotent.
func (s *Service) Create(ctx context.Context, input CreateInput, requestIP string) (*models.SummarizationRequestModel, error) {
	req := &models.SummarizationRequestModel{
		OriginalText: input.Text,
		Status:       models.StatusPending,
		LLMProvider:  models.ProviderPending,
		UserID:       input.UserID,
	}
	if requestIP != "" {
		req.RequestIP = &requestIP
	}

	if err := s.store.Insert(ctx, req); err != nil {
		return nil, err
	}

	_, _, err := s.queue.Enqueue(ctx, req.ID, JobPayload{RequestID: req.ID}, PriorityFor(input.Text))
	if err != nil {
		// the record stays PENDING; the watchdog fails it if nothing
		// ever picks it up
		s.log.Error("enqueue failed for new request",
			zap.String("request_id", req.ID), zap.Error(err))
		return nil, err
	}
	return req, nil
}

// Get loads one request.
func (s *Service) Get(ctx context.Context, id string) (*models.SummarizationRequestModel, error) {
	return s.store.GetByID(ctx, id)
}

// List returns up to limit requests newest first.
func (s *Service) List(ctx context.Context, limit int, status *models.RequestStatus) ([]models.SummarizationRequestModel, error) {
	return s.store.List(ctx, limit, status)
}

// Process runs one delivery attempt for a request. On error the request is
// terminally failed only when final is true; earlier attempts leave it
// PROCESSING for the queue's retry to pick up again. The error is returned
// either way so the caller can fail the job.
func (s *Service) Process(ctx context.Context, id string, final bool) error {
	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if req.Status.IsTerminal() {
		// redelivered after a terminal write, nothing to do
		return nil
	}

	if err := s.store.UpdateByID(ctx, id, map[string]interface{}{
		"status": models.StatusProcessing,
	}); err != nil {
		return err
	}

	start := s.now()
	resp, err := s.llm.Summarize(ctx, req.OriginalText)
	duration := s.now().Sub(start)

	if err != nil {
		s.log.Warn("summarization attempt failed",
			zap.String("request_id", id),
			zap.Bool("final", final),
			zap.Error(err))
		if final {
			s.finishFailure(ctx, id, err.Error(), duration)
		}
		return err
	}

	s.finishSuccess(ctx, id, resp, duration)
	return nil
}

// StreamProcess drives the orchestrator live for a PENDING request, emitting
// each chunk, then persists the terminal outcome exactly like the worker
// path. A consumer disconnect (ctx cancellation) aborts without a COMPLETED
// write. Streaming gets a single attempt; any failure is terminal.
func (s *Service) StreamProcess(ctx context.Context, req *models.SummarizationRequestModel, emit func(llm.Chunk) error) error {
	if cancelled, err := s.queue.Cancel(ctx, req.ID); err != nil {
		s.log.Warn("queued job cancel failed before live stream",
			zap.String("request_id", req.ID), zap.Error(err))
	} else if !cancelled {
		s.log.Debug("no queued job to cancel before live stream",
			zap.String("request_id", req.ID))
	}

	if err := s.store.UpdateByID(ctx, req.ID, map[string]interface{}{
		"status": models.StatusProcessing,
	}); err != nil {
		return err
	}

	start := s.now()
	stream, err := s.llm.SummarizeStream(ctx, req.OriginalText)
	if err != nil {
		s.finishFailure(ctx, req.ID, err.Error(), s.now().Sub(start))
		return err
	}
	defer stream.Close()

	var full strings.Builder
	provider := llm.ProviderUnknown
	for {
		chunk, recvErr := stream.Recv()
		if recvErr != nil {
			if ctx.Err() != nil {
				// client went away; leave the request for the watchdog
				return ctx.Err()
			}
			s.finishFailure(ctx, req.ID, recvErr.Error(), s.now().Sub(start))
			return recvErr
		}
		if chunk.Provider != "" {
			provider = chunk.Provider
		}
		if chunk.Text != "" {
			full.WriteString(chunk.Text)
			if err := emit(chunk); err != nil {
				return err
			}
		}
		if chunk.Done {
			break
		}
	}

	summary := full.String()
	resp := &llm.Response{
		Text:         summary,
		TokensInput:  llm.EstimateTokens(req.OriginalText),
		TokensOutput: llm.EstimateTokens(summary),
		Provider:     provider,
	}
	s.finishSuccess(ctx, req.ID, resp, s.now().Sub(start))
	return nil
}

func (s *Service) finishSuccess(ctx context.Context, id string, resp *llm.Response, duration time.Duration) {
	cost := llm.CalculateCost(resp.Provider, resp.TokensInput, resp.TokensOutput)
	durationMs := duration.Milliseconds()

	err := s.store.UpdateByID(ctx, id, map[string]interface{}{
		"status":        models.StatusCompleted,
		"summary":       resp.Text,
		"llm_provider":  resp.Provider,
		"tokens_input":  resp.TokensInput,
		"tokens_output": resp.TokensOutput,
		"cost_estimate": cost,
		"duration":      durationMs,
	})
	if err != nil {
		s.log.Error("terminal success write failed",
			zap.String("request_id", id), zap.Error(err))
		return
	}

	s.events.RecordEvent(ctx, analytics.Event{
		Provider:     resp.Provider,
		Success:      true,
		TokensInput:  resp.TokensInput,
		TokensOutput: resp.TokensOutput,
		Cost:         cost,
		Duration:     duration,
	})
}

func (s *Service) finishFailure(ctx context.Context, id, message string, duration time.Duration) {
	err := s.store.UpdateByID(ctx, id, map[string]interface{}{
		"status":        models.StatusFailed,
		"llm_provider":  llm.ProviderUnknown,
		"error_message": message,
		"duration":      duration.Milliseconds(),
	})
	if err != nil {
		s.log.Error("terminal failure write failed",
			zap.String("request_id", id), zap.Error(err))
		return
	}

	s.events.RecordEvent(ctx, analytics.Event{
		Provider: llm.ProviderUnknown,
		Success:  false,
		Duration: duration,
	})
}

// ReconcileStuck fails PROCESSING requests untouched for longer than maxAge
// whose queue job is gone or already finished. They are workers that died
// without the queue noticing, or streams cut off mid-flight. A request whose
// job is still pending, delayed or processing is left alone: the queue's
// retry will deliver it again.
func (s *Service) ReconcileStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	status := models.StatusProcessing
	reqs, err := s.store.List(ctx, 100, &status)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-maxAge)
	failed := 0
	for i := range reqs {
		req := &reqs[i]
		if req.UpdatedAt.After(cutoff) {
			continue
		}

		job, err := s.queue.GetByID(ctx, req.ID)
		if err != nil && !errors.Is(err, taskqueue.ErrNotFound) {
			s.log.Warn("queue lookup failed during reconcile, skipping",
				zap.String("request_id", req.ID), zap.Error(err))
			continue
		}
		if job != nil && jobAlive(job.Status) {
			continue
		}

		s.finishFailure(ctx, req.ID, failedTimeoutMessage, 0)
		failed++
		s.log.Warn("reconciled stuck request",
			zap.String("request_id", req.ID),
			zap.Time("last_update", req.UpdatedAt))
	}
	return failed, nil
}

func jobAlive(status taskqueue.JobStatus) bool {
	switch status {
	case taskqueue.JobPending, taskqueue.JobDelayed, taskqueue.JobProcessing:
		return true
	}
	return false
}
