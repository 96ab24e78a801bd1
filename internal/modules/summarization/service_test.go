package summarization

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gistly/core/internal/models"
	"github.com/gistly/core/internal/modules/analytics"
	"github.com/gistly/core/internal/modules/llm"
	"github.com/gistly/core/internal/pkg/taskqueue"
)

type fakeStore struct {
	mu       sync.Mutex
	requests map[string]*models.SummarizationRequestModel
	inserts  int
	updates  []map[string]interface{}

	insertErr error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{requests: make(map[string]*models.SummarizationRequestModel)}
}

func (f *fakeStore) Insert(ctx context.Context, req *models.SummarizationRequestModel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserts++
	if req.ID == "" {
		req.ID = "req-1"
	}
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	clone := *req
	f.requests[req.ID] = &clone
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*models.SummarizationRequestModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *req
	return &clone, nil
}

func (f *fakeStore) UpdateByID(ctx context.Context, id string, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	req, ok := f.requests[id]
	if !ok {
		return ErrNotFound
	}
	f.updates = append(f.updates, updates)
	if status, ok := updates["status"].(models.RequestStatus); ok {
		req.Status = status
	}
	if summary, ok := updates["summary"].(string); ok {
		req.Summary = &summary
	}
	if provider, ok := updates["llm_provider"].(string); ok {
		req.LLMProvider = provider
	}
	if message, ok := updates["error_message"].(string); ok {
		req.ErrorMessage = &message
	}
	req.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) List(ctx context.Context, limit int, status *models.RequestStatus) ([]models.SummarizationRequestModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SummarizationRequestModel
	for _, req := range f.requests {
		if status != nil && req.Status != *status {
			continue
		}
		out = append(out, *req)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type fakeQueue struct {
	enqueued  []string
	priority  map[string]int
	cancelled []string
	jobs      map[string]*taskqueue.Job

	enqueueErr error
	cancelOK   bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		priority: make(map[string]int),
		jobs:     make(map[string]*taskqueue.Job),
		cancelOK: true,
	}
}

func (f *fakeQueue) Enqueue(ctx context.Context, id string, payload interface{}, priority int) (*taskqueue.Job, bool, error) {
	if f.enqueueErr != nil {
		return nil, false, f.enqueueErr
	}
	f.enqueued = append(f.enqueued, id)
	f.priority[id] = priority
	job := &taskqueue.Job{ID: id, Status: taskqueue.JobPending, Priority: priority}
	f.jobs[id] = job
	return job, true, nil
}

func (f *fakeQueue) Cancel(ctx context.Context, id string) (bool, error) {
	f.cancelled = append(f.cancelled, id)
	return f.cancelOK, nil
}

func (f *fakeQueue) GetByID(ctx context.Context, id string) (*taskqueue.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, taskqueue.ErrNotFound
	}
	return job, nil
}

type fakeOrch struct {
	resp *llm.Response
	err  error

	chunks    []llm.Chunk
	streamErr error
	openErr   error
	calls     int
}

func (f *fakeOrch) Summarize(ctx context.Context, text string) (*llm.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeOrch) SummarizeStream(ctx context.Context, text string) (llm.Stream, error) {
	f.calls++
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &scriptedStream{chunks: f.chunks, err: f.streamErr}, nil
}

type scriptedStream struct {
	chunks []llm.Chunk
	err    error
	pos    int
	closed bool
}

func (s *scriptedStream) Recv() (llm.Chunk, error) {
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return llm.Chunk{}, s.err
		}
		return llm.Chunk{Done: true}, nil
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (f *fakeRecorder) RecordEvent(ctx context.Context, e analytics.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func newTestService() (*Service, *fakeStore, *fakeQueue, *fakeOrch, *fakeRecorder) {
	store := newFakeStore()
	queue := newFakeQueue()
	orch := &fakeOrch{}
	recorder := &fakeRecorder{}
	svc := NewService(store, queue, orch, recorder, zap.NewNop())
	return svc, store, queue, orch, recorder
}

func seedRequest(store *fakeStore, id string, status models.RequestStatus, text string) {
	store.requests[id] = &models.SummarizationRequestModel{
		Base:         models.Base{ID: id, CreatedAt: time.Now(), UpdatedAt: time.Now()},
		OriginalText: text,
		Status:       status,
		LLMProvider:  models.ProviderPending,
	}
}

func TestCreateInsertsAndEnqueuesWithPriority(t *testing.T) {
	svc, store, queue, _, _ := newTestService()

	req, err := svc.Create(context.Background(), CreateInput{Text: strings.Repeat("x", 2000)}, "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, req.Status)
	assert.Equal(t, models.ProviderPending, req.LLMProvider)
	require.NotNil(t, req.RequestIP)
	assert.Equal(t, "10.0.0.1", *req.RequestIP)
	assert.Equal(t, 1, store.inserts)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, req.ID, queue.enqueued[0])
	assert.Equal(t, 2, queue.priority[req.ID])
}

func TestCreateReturnsEnqueueError(t *testing.T) {
	svc, _, queue, _, _ := newTestService()
	queue.enqueueErr = errors.New("redis down")

	_, err := svc.Create(context.Background(), CreateInput{Text: "some text here"}, "")
	assert.Error(t, err)
}

func TestProcessSuccessWritesTerminalStateAndAnalytics(t *testing.T) {
	svc, store, _, orch, recorder := newTestService()
	seedRequest(store, "r1", models.StatusPending, "hello world text")
	orch.resp = &llm.Response{Text: "short", TokensInput: 100, TokensOutput: 20, Provider: llm.ProviderGemini}

	err := svc.Process(context.Background(), "r1", false)
	require.NoError(t, err)

	req, _ := store.GetByID(context.Background(), "r1")
	assert.Equal(t, models.StatusCompleted, req.Status)
	assert.Equal(t, llm.ProviderGemini, req.LLMProvider)
	require.NotNil(t, req.Summary)
	assert.Equal(t, "short", *req.Summary)

	require.Len(t, recorder.events, 1)
	event := recorder.events[0]
	assert.True(t, event.Success)
	assert.Equal(t, llm.ProviderGemini, event.Provider)
	assert.Equal(t, 100, event.TokensInput)
	assert.InDelta(t, llm.CalculateCost(llm.ProviderGemini, 100, 20), event.Cost, 1e-12)
}

func TestProcessNonFinalErrorLeavesRequestProcessing(t *testing.T) {
	svc, store, _, orch, recorder := newTestService()
	seedRequest(store, "r1", models.StatusPending, "hello world text")
	orch.err = errors.New("provider down")

	err := svc.Process(context.Background(), "r1", false)
	require.Error(t, err)

	req, _ := store.GetByID(context.Background(), "r1")
	assert.Equal(t, models.StatusProcessing, req.Status)
	assert.Empty(t, recorder.events)
}

func TestProcessFinalErrorWritesFailure(t *testing.T) {
	svc, store, _, orch, recorder := newTestService()
	seedRequest(store, "r1", models.StatusPending, "hello world text")
	orch.err = errors.New("provider down")

	err := svc.Process(context.Background(), "r1", true)
	require.Error(t, err)

	req, _ := store.GetByID(context.Background(), "r1")
	assert.Equal(t, models.StatusFailed, req.Status)
	assert.Equal(t, llm.ProviderUnknown, req.LLMProvider)
	require.NotNil(t, req.ErrorMessage)
	assert.Equal(t, "provider down", *req.ErrorMessage)

	require.Len(t, recorder.events, 1)
	assert.False(t, recorder.events[0].Success)
	assert.Equal(t, llm.ProviderUnknown, recorder.events[0].Provider)
	assert.Zero(t, recorder.events[0].TokensInput)
}

func TestProcessSkipsTerminalRequests(t *testing.T) {
	svc, store, _, orch, recorder := newTestService()
	seedRequest(store, "r1", models.StatusCompleted, "hello world text")

	err := svc.Process(context.Background(), "r1", true)
	require.NoError(t, err)
	assert.Zero(t, orch.calls)
	assert.Empty(t, recorder.events)
}

func TestStreamProcessCancelsQueuedJobAndPersists(t *testing.T) {
	svc, store, queue, orch, recorder := newTestService()
	seedRequest(store, "r1", models.StatusPending, "hello world text")
	orch.chunks = []llm.Chunk{
		{Text: "foo ", Provider: llm.ProviderGemini},
		{Text: "bar", Provider: llm.ProviderGemini},
	}

	req, _ := store.GetByID(context.Background(), "r1")
	var emitted []string
	err := svc.StreamProcess(context.Background(), req, func(chunk llm.Chunk) error {
		emitted = append(emitted, chunk.Text)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"r1"}, queue.cancelled)
	assert.Equal(t, []string{"foo ", "bar"}, emitted)

	stored, _ := store.GetByID(context.Background(), "r1")
	assert.Equal(t, models.StatusCompleted, stored.Status)
	require.NotNil(t, stored.Summary)
	assert.Equal(t, "foo bar", *stored.Summary)
	assert.Equal(t, llm.ProviderGemini, stored.LLMProvider)

	require.Len(t, recorder.events, 1)
	assert.True(t, recorder.events[0].Success)
	assert.Equal(t, llm.ProviderGemini, recorder.events[0].Provider)
}

func TestStreamProcessFailureIsTerminal(t *testing.T) {
	svc, store, _, orch, recorder := newTestService()
	seedRequest(store, "r1", models.StatusPending, "hello world text")
	orch.chunks = []llm.Chunk{{Text: "partial", Provider: llm.ProviderGemini}}
	orch.streamErr = errors.New("stream cut")

	req, _ := store.GetByID(context.Background(), "r1")
	err := svc.StreamProcess(context.Background(), req, func(llm.Chunk) error { return nil })
	require.Error(t, err)

	stored, _ := store.GetByID(context.Background(), "r1")
	assert.Equal(t, models.StatusFailed, stored.Status)
	require.Len(t, recorder.events, 1)
	assert.False(t, recorder.events[0].Success)
}

func TestStreamProcessClientDisconnectPersistsNothingTerminal(t *testing.T) {
	svc, store, _, orch, recorder := newTestService()
	seedRequest(store, "r1", models.StatusPending, "hello world text")
	orch.chunks = []llm.Chunk{{Text: "partial", Provider: llm.ProviderGemini}}
	orch.streamErr = context.Canceled

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := store.GetByID(context.Background(), "r1")
	err := svc.StreamProcess(ctx, req, func(chunk llm.Chunk) error {
		cancel() // client goes away after the first chunk
		return nil
	})
	require.Error(t, err)

	stored, _ := store.GetByID(context.Background(), "r1")
	assert.Equal(t, models.StatusProcessing, stored.Status)
	assert.Empty(t, recorder.events)
}

func TestReconcileStuckFailsOldProcessingRequests(t *testing.T) {
	svc, store, _, _, recorder := newTestService()
	seedRequest(store, "old", models.StatusProcessing, "text")
	seedRequest(store, "fresh", models.StatusProcessing, "text")
	store.requests["old"].UpdatedAt = time.Now().Add(-time.Hour)

	failed, err := svc.ReconcileStuck(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	oldReq, _ := store.GetByID(context.Background(), "old")
	assert.Equal(t, models.StatusFailed, oldReq.Status)
	require.NotNil(t, oldReq.ErrorMessage)
	assert.Equal(t, "processing timed out", *oldReq.ErrorMessage)

	freshReq, _ := store.GetByID(context.Background(), "fresh")
	assert.Equal(t, models.StatusProcessing, freshReq.Status)

	require.Len(t, recorder.events, 1)
	assert.False(t, recorder.events[0].Success)
}

func TestReconcileStuckSparesRequestsWithLiveJobs(t *testing.T) {
	svc, store, queue, _, recorder := newTestService()
	seedRequest(store, "backlogged", models.StatusProcessing, "text")
	store.requests["backlogged"].UpdatedAt = time.Now().Add(-time.Hour)
	queue.jobs["backlogged"] = &taskqueue.Job{ID: "backlogged", Status: taskqueue.JobDelayed, Attempts: 1}

	failed, err := svc.ReconcileStuck(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, failed)

	req, _ := store.GetByID(context.Background(), "backlogged")
	assert.Equal(t, models.StatusProcessing, req.Status)
	assert.Empty(t, recorder.events)
}

func TestReconcileStuckFailsRequestsWithFinishedJobs(t *testing.T) {
	svc, store, queue, _, _ := newTestService()
	seedRequest(store, "orphaned", models.StatusProcessing, "text")
	store.requests["orphaned"].UpdatedAt = time.Now().Add(-time.Hour)
	queue.jobs["orphaned"] = &taskqueue.Job{ID: "orphaned", Status: taskqueue.JobFailed, Attempts: 3}

	failed, err := svc.ReconcileStuck(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	req, _ := store.GetByID(context.Background(), "orphaned")
	assert.Equal(t, models.StatusFailed, req.Status)
}
