package summarization

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/gistly/core/internal/pkg/taskqueue"
)

type fakeClaimQueue struct {
	acked  []string
	failed []string
}

func (f *fakeClaimQueue) Claim(ctx context.Context) (*taskqueue.Job, error) { return nil, nil }

func (f *fakeClaimQueue) Ack(ctx context.Context, id string) error {
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeClaimQueue) Fail(ctx context.Context, id string, cause error) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakeProcessor struct {
	err       error
	panicWith interface{}
	calls     []bool // final flag per call
}

func (f *fakeProcessor) Process(ctx context.Context, id string, final bool) error {
	f.calls = append(f.calls, final)
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return f.err
}

func jobWith(t *testing.T, id, requestID string, attempts int) *taskqueue.Job {
	t.Helper()
	payload, err := json.Marshal(JobPayload{RequestID: requestID})
	if err != nil {
		t.Fatal(err)
	}
	return &taskqueue.Job{ID: id, Payload: payload, Attempts: attempts}
}

func TestWorkerAcksOnSuccess(t *testing.T) {
	queue := &fakeClaimQueue{}
	proc := &fakeProcessor{}
	w := NewWorker(queue, proc, zap.NewNop(), 1, 3)

	w.handle(context.Background(), jobWith(t, "j1", "r1", 1))

	assert.Equal(t, []string{"j1"}, queue.acked)
	assert.Empty(t, queue.failed)
	assert.Equal(t, []bool{false}, proc.calls)
}

func TestWorkerFailsJobOnError(t *testing.T) {
	queue := &fakeClaimQueue{}
	proc := &fakeProcessor{err: errors.New("boom")}
	w := NewWorker(queue, proc, zap.NewNop(), 1, 3)

	w.handle(context.Background(), jobWith(t, "j1", "r1", 1))

	assert.Empty(t, queue.acked)
	assert.Equal(t, []string{"j1"}, queue.failed)
}

func TestWorkerMarksFinalAttempt(t *testing.T) {
	queue := &fakeClaimQueue{}
	proc := &fakeProcessor{err: errors.New("boom")}
	w := NewWorker(queue, proc, zap.NewNop(), 1, 3)

	w.handle(context.Background(), jobWith(t, "j1", "r1", 3))

	assert.Equal(t, []bool{true}, proc.calls)
	assert.Equal(t, []string{"j1"}, queue.failed)
}

func TestWorkerRecoversPanicsAsFailures(t *testing.T) {
	queue := &fakeClaimQueue{}
	proc := &fakeProcessor{panicWith: "nil map write"}
	w := NewWorker(queue, proc, zap.NewNop(), 1, 3)

	assert.NotPanics(t, func() {
		w.handle(context.Background(), jobWith(t, "j1", "r1", 1))
	})
	assert.Equal(t, []string{"j1"}, queue.failed)
}

func TestWorkerDropsUndecodablePayload(t *testing.T) {
	queue := &fakeClaimQueue{}
	proc := &fakeProcessor{}
	w := NewWorker(queue, proc, zap.NewNop(), 1, 3)

	w.handle(context.Background(), &taskqueue.Job{ID: "j1", Payload: []byte("{not json")})

	assert.Equal(t, []string{"j1"}, queue.acked)
	assert.Empty(t, proc.calls)
}
