package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	redisc "github.com/gistly/core/internal/pkg/redis"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobDelayed    JobStatus = "delayed"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// IsValidJobStatus reports whether raw names a known status.
func IsValidJobStatus(raw string) bool {
	switch JobStatus(raw) {
	case JobPending, JobDelayed, JobProcessing, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Job is a unit of background work stored in Redis. Jobs are keyed by caller
// ids so re-enqueueing the same id is a no-op while the first copy is live.
type Job struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	Status     JobStatus       `json:"status"`
	Priority   int             `json:"priority"` // lower runs first
	Attempts   int             `json:"attempts"` // delivery attempts so far
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

const (
	keyPrefix     = "gistly:job:"
	keyPending    = "gistly:jobs:pending"    // score = priority band + enqueue time
	keyDelayed    = "gistly:jobs:delayed"    // score = ready-at unix milli
	keyProcessing = "gistly:jobs:processing" // score = visibility deadline unix milli
	keyCompleted  = "gistly:jobs:completed"  // score = finished-at unix milli
	keyFailed     = "gistly:jobs:failed"     // score = finished-at unix milli

	jobTTL = 7 * 24 * time.Hour

	// priorityBand spaces priority bands so enqueue timestamps never cross
	// into the next band. Unix millis stay well below 1e15 for centuries.
	priorityBand = 1e15
)

// ErrNotFound is returned when a job id has no live record.
var ErrNotFound = errors.New("job not found")

// Options are the queue's retry and retention knobs.
type Options struct {
	MaxAttempts       int           // deliveries before a job is terminally failed
	Backoff           time.Duration // base delay, doubled per failed attempt
	VisibilityTimeout time.Duration // claim lease before redelivery
	KeepCompleted     int           // completed records retained by Trim
	KeepFailed        int           // failed records retained by Trim
}

// Queue is a durable priority job queue over Redis sorted sets.
type Queue struct {
	rc   *redisc.Client
	opts Options
	now  func() time.Time
}

func New(rc *redisc.Client, opts Options) *Queue {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 2 * time.Minute
	}
	if opts.KeepCompleted < 1 {
		opts.KeepCompleted = 100
	}
	if opts.KeepFailed < 1 {
		opts.KeepFailed = 500
	}
	return &Queue{rc: rc, opts: opts, now: time.Now}
}

func (q *Queue) jobKey(id string) string { return keyPrefix + id }

// PendingScore packs priority and enqueue instant into one sortable score.
// Jobs order by priority band first, FIFO within a band.
func PendingScore(priority int, enqueuedAt time.Time) float64 {
	if priority < 1 {
		priority = 1
	}
	return float64(priority)*priorityBand + float64(enqueuedAt.UnixMilli())
}

// BackoffDelay returns the exponential delay before redelivery: base, 2*base,
// 4*base... for attempt 1, 2, 3.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Enqueue adds a job. Idempotent by id: if a record already exists the stored
// job is returned untouched, second return false.
func (q *Queue) Enqueue(ctx context.Context, id string, payload interface{}, priority int) (*Job, bool, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal job payload: %w", err)
	}

	now := q.now()
	job := &Job{
		ID:        id,
		Payload:   payloadBytes,
		Status:    JobPending,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, false, err
	}

	created, err := q.rc.Raw().SetNX(ctx, q.jobKey(id), data, jobTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("store job record: %w", err)
	}
	if !created {
		existing, err := q.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	err = q.rc.Raw().ZAdd(ctx, keyPending, redis.Z{
		Score:  PendingScore(priority, now),
		Member: id,
	}).Err()
	if err != nil {
		return nil, false, fmt.Errorf("add job to pending set: %w", err)
	}
	return job, true, nil
}

// claimScript pops the best pending member and moves it to the processing set
// under a visibility deadline, atomically. KEYS[1]=pending, KEYS[2]=processing,
// ARGV[1]=deadline millis.
var claimScript = redis.NewScript(`
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[1], popped[1])
return popped[1]
`)

// Claim atomically takes the highest-priority pending job for processing.
// Returns (nil, nil) when the queue is empty.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	deadline := q.now().Add(q.opts.VisibilityTimeout).UnixMilli()
	raw, err := claimScript.Run(ctx, q.rc.Raw(), []string{keyPending, keyProcessing}, deadline).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	id, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("claim job: unexpected script result %T", raw)
	}

	job, err := q.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// record expired under the index entry, drop the claim
		q.rc.Raw().ZRem(ctx, keyProcessing, id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job.Status = JobProcessing
	job.Attempts++
	job.UpdatedAt = q.now()
	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Ack marks a claimed job completed.
func (q *Queue) Ack(ctx context.Context, id string) error {
	job, err := q.GetByID(ctx, id)
	if err != nil {
		return err
	}

	now := q.now()
	job.Status = JobCompleted
	job.UpdatedAt = now
	job.FinishedAt = &now

	pipe := q.rc.Raw().TxPipeline()
	pipe.ZRem(ctx, keyProcessing, id)
	pipe.ZAdd(ctx, keyCompleted, redis.Z{Score: float64(now.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack job %s: %w", id, err)
	}
	return q.saveJob(ctx, job)
}

// Fail records a delivery failure. With attempts left the job is rescheduled
// into the delayed set with exponential backoff, otherwise it is terminally
// failed.
func (q *Queue) Fail(ctx context.Context, id string, cause error) error {
	job, err := q.GetByID(ctx, id)
	if err != nil {
		return err
	}

	now := q.now()
	job.UpdatedAt = now
	if cause != nil {
		job.Error = cause.Error()
	}

	pipe := q.rc.Raw().TxPipeline()
	pipe.ZRem(ctx, keyProcessing, id)
	if job.Attempts < q.opts.MaxAttempts {
		job.Status = JobDelayed
		readyAt := now.Add(BackoffDelay(q.opts.Backoff, job.Attempts))
		pipe.ZAdd(ctx, keyDelayed, redis.Z{Score: float64(readyAt.UnixMilli()), Member: id})
	} else {
		job.Status = JobFailed
		job.FinishedAt = &now
		pipe.ZAdd(ctx, keyFailed, redis.Z{Score: float64(now.UnixMilli()), Member: id})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return q.saveJob(ctx, job)
}

// Cancel removes a job that has not been claimed yet. Returns false when the
// job is not pending or delayed anymore.
func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	job, err := q.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if job.Status != JobPending && job.Status != JobDelayed {
		return false, nil
	}

	now := q.now()
	job.Status = JobCancelled
	job.UpdatedAt = now
	job.FinishedAt = &now

	pipe := q.rc.Raw().TxPipeline()
	pipe.ZRem(ctx, keyPending, id)
	pipe.ZRem(ctx, keyDelayed, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("cancel job %s: %w", id, err)
	}
	return true, q.saveJob(ctx, job)
}

// PromoteDue moves delayed jobs whose backoff has elapsed back to pending.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := q.now()
	ids, err := q.rc.Raw().ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min: "0",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed jobs: %w", err)
	}

	promoted := 0
	for _, id := range ids {
		job, err := q.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			q.rc.Raw().ZRem(ctx, keyDelayed, id)
			continue
		}
		if err != nil {
			return promoted, err
		}

		job.Status = JobPending
		job.UpdatedAt = now

		pipe := q.rc.Raw().TxPipeline()
		pipe.ZRem(ctx, keyDelayed, id)
		pipe.ZAdd(ctx, keyPending, redis.Z{Score: PendingScore(job.Priority, now), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return promoted, fmt.Errorf("promote job %s: %w", id, err)
		}
		if err := q.saveJob(ctx, job); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// ReapExpired requeues processing jobs whose visibility deadline passed.
// Delivery is at-least-once; the worker guards terminal requests itself.
func (q *Queue) ReapExpired(ctx context.Context) (int, error) {
	now := q.now()
	ids, err := q.rc.Raw().ZRangeByScore(ctx, keyProcessing, &redis.ZRangeBy{
		Min: "0",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan processing jobs: %w", err)
	}

	reaped := 0
	for _, id := range ids {
		job, err := q.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			q.rc.Raw().ZRem(ctx, keyProcessing, id)
			continue
		}
		if err != nil {
			return reaped, err
		}

		pipe := q.rc.Raw().TxPipeline()
		pipe.ZRem(ctx, keyProcessing, id)
		if job.Attempts < q.opts.MaxAttempts {
			job.Status = JobPending
			job.UpdatedAt = now
			pipe.ZAdd(ctx, keyPending, redis.Z{Score: PendingScore(job.Priority, now), Member: id})
		} else {
			job.Status = JobFailed
			job.Error = "visibility timeout exceeded"
			job.UpdatedAt = now
			job.FinishedAt = &now
			pipe.ZAdd(ctx, keyFailed, redis.Z{Score: float64(now.UnixMilli()), Member: id})
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return reaped, fmt.Errorf("reap job %s: %w", id, err)
		}
		if err := q.saveJob(ctx, job); err != nil {
			return reaped, err
		}
		reaped++
	}
	return reaped, nil
}

// Trim drops the oldest terminal records beyond the retention counts.
func (q *Queue) Trim(ctx context.Context) error {
	if err := q.trimSet(ctx, keyCompleted, q.opts.KeepCompleted); err != nil {
		return err
	}
	return q.trimSet(ctx, keyFailed, q.opts.KeepFailed)
}

func (q *Queue) trimSet(ctx context.Context, key string, keep int) error {
	ids, err := q.rc.Raw().ZRange(ctx, key, 0, int64(-keep-1)).Result()
	if err != nil {
		return fmt.Errorf("scan %s for trim: %w", key, err)
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := q.rc.Raw().TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, q.jobKey(id))
		pipe.ZRem(ctx, key, id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// GetByID retrieves a job by its ID.
func (q *Queue) GetByID(ctx context.Context, id string) (*Job, error) {
	data, err := q.rc.Raw().Get(ctx, q.jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// List returns up to limit jobs, newest first, optionally filtered by status.
func (q *Queue) List(ctx context.Context, limit int, status *JobStatus) ([]*Job, error) {
	if limit < 1 {
		limit = 10
	}

	var sets []string
	if status != nil {
		key, ok := statusSet(*status)
		if !ok {
			// cancelled and processing-adjacent records only live in the
			// per-job blobs; fall back to scanning everything
			sets = allSets()
		} else {
			sets = []string{key}
		}
	} else {
		sets = allSets()
	}

	seen := make(map[string]struct{})
	var jobs []*Job
	for _, key := range sets {
		ids, err := q.rc.Raw().ZRevRange(ctx, key, 0, int64(limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", key, err)
		}
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			job, err := q.GetByID(ctx, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if status != nil && job.Status != *status {
				continue
			}
			jobs = append(jobs, job)
		}
	}

	sortJobsNewestFirst(jobs)
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func statusSet(status JobStatus) (string, bool) {
	switch status {
	case JobPending:
		return keyPending, true
	case JobDelayed:
		return keyDelayed, true
	case JobProcessing:
		return keyProcessing, true
	case JobCompleted:
		return keyCompleted, true
	case JobFailed:
		return keyFailed, true
	}
	return "", false
}

func allSets() []string {
	return []string{keyPending, keyDelayed, keyProcessing, keyCompleted, keyFailed}
}

func sortJobsNewestFirst(jobs []*Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.rc.Raw().Set(ctx, q.jobKey(job.ID), data, jobTTL).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}
