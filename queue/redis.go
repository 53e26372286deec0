package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"media-toolkit/config"
	"media-toolkit/internal/core/domain"
)

// RedisQueue is a FIFO of transform jobs. Job records live under their own
// keys so status can be polled after the job leaves the list.
type RedisQueue struct {
	client *redis.Client
	config *config.WorkerConfig
}

func NewRedisQueue(redisConfig *config.RedisConfig, workerConfig *config.WorkerConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", redisConfig.Host, redisConfig.Port),
		Password: redisConfig.Password,
		DB:       redisConfig.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewWithClient(client, workerConfig), nil
}

// NewWithClient creates a queue on an existing Redis client
func NewWithClient(client *redis.Client, workerConfig *config.WorkerConfig) *RedisQueue {
	return &RedisQueue{client: client, config: workerConfig}
}

func (q *RedisQueue) jobKey(id string) string {
	return fmt.Sprintf("%s:job:%s", q.config.QueueName, id)
}

func (q *RedisQueue) counterKey(status domain.JobStatus) string {
	return fmt.Sprintf("%s:%s", q.config.QueueName, status)
}

func (q *RedisQueue) processingKey() string {
	return q.config.QueueName + ":processing"
}

func (q *RedisQueue) ttl() time.Duration {
	if q.config.JobTTL > 0 {
		return q.config.JobTTL
	}
	return 24 * time.Hour
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *domain.TransformJob) error {
	job.Status = domain.JobStatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.config.QueueName, job.ID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next job. It returns nil, nil when
// the queue stayed empty.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.TransformJob, error) {
	result, err := q.client.BRPop(ctx, timeout, q.config.QueueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("invalid queue result")
	}

	job, err := q.Get(ctx, result[1])
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job.Status = domain.JobStatusProcessing
	job.StartedAt = &now
	if err := q.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to update job status: %w", err)
	}
	q.client.SAdd(ctx, q.processingKey(), job.ID)

	return job, nil
}

// Get returns the stored job record
func (q *RedisQueue) Get(ctx context.Context, jobID string) (*domain.TransformJob, error) {
	data, err := q.client.Get(ctx, q.jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job domain.TransformJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) Complete(ctx context.Context, job *domain.TransformJob) error {
	now := time.Now()
	job.Status = domain.JobStatusCompleted
	job.CompletedAt = &now
	job.Error = ""
	return q.finish(ctx, job)
}

// Fail is terminal. Transforms are deterministic, so a failed job is not
// retried.
func (q *RedisQueue) Fail(ctx context.Context, job *domain.TransformJob, errorMsg string) error {
	now := time.Now()
	job.Status = domain.JobStatusFailed
	job.Error = errorMsg
	job.CompletedAt = &now
	return q.finish(ctx, job)
}

func (q *RedisQueue) finish(ctx context.Context, job *domain.TransformJob) error {
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.SRem(ctx, q.processingKey(), job.ID)
	pipe.Incr(ctx, q.counterKey(job.Status))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update queue counters: %w", err)
	}
	return nil
}

func (q *RedisQueue) GetStats(ctx context.Context) (*domain.QueueStats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, q.config.QueueName)
	processing := pipe.SCard(ctx, q.processingKey())
	completed := pipe.Get(ctx, q.counterKey(domain.JobStatusCompleted))
	failed := pipe.Get(ctx, q.counterKey(domain.JobStatusFailed))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}

	stats := &domain.QueueStats{
		PendingJobs:    pending.Val(),
		ProcessingJobs: processing.Val(),
		Timestamp:      time.Now(),
	}
	stats.CompletedJobs, _ = completed.Int64()
	stats.FailedJobs, _ = failed.Int64()
	stats.TotalJobs = stats.PendingJobs + stats.ProcessingJobs + stats.CompletedJobs + stats.FailedJobs
	return stats, nil
}

func (q *RedisQueue) saveJob(ctx context.Context, job *domain.TransformJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.Set(ctx, q.jobKey(job.ID), data, q.ttl()).Err(); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
