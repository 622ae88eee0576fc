// Package queue runs image cleanup jobs on a Redis stream with a consumer
// group, so object deletions survive restarts and transient storage errors.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"artvista/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// CleanupJob removes the image object of a deleted artwork.
type CleanupJob struct {
	ID           string    `json:"id"`
	ObjectKey    string    `json:"objectKey"`
	ArtworkID    string    `json:"artworkId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler processes one job. A returned error schedules a retry until the
// attempt limit is reached.
type Handler func(ctx context.Context, job CleanupJob) error

type RedisCleanupQueue struct {
	client       redis.UniversalClient
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type RedisQueueConfig struct {
	Client     redis.UniversalClient
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisCleanupQueue(cfg RedisQueueConfig) (*RedisCleanupQueue, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "artvista:image-cleanup"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "cleanup"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	return &RedisCleanupQueue{
		client:       cfg.Client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		jobTTL:       durationOr(cfg.JobTTL, 24*time.Hour),
		maxRetries:   intOr(cfg.MaxRetries, 5),
		block:        durationOr(cfg.Block, 5*time.Second),
		claimIdle:    durationOr(cfg.ClaimIdle, 30*time.Second),
		retryDelay:   durationOr(cfg.RetryDelay, 2*time.Second),
		maxLen:       int64Or(cfg.MaxLen, 10000),
		readCount:    int64Or(cfg.ReadCount, 10),
		claimCount:   int64Or(cfg.ClaimCount, 10),
	}, nil
}

// Enqueue records the job status and appends it to the stream.
func (q *RedisCleanupQueue) Enqueue(ctx context.Context, objectKey, artworkID string) (CleanupJob, error) {
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return CleanupJob{}, errors.New("object key required")
	}
	now := time.Now().UTC()
	job := CleanupJob{
		ID:        util.NewID(),
		ObjectKey: objectKey,
		ArtworkID: artworkID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return CleanupJob{}, err
	}
	if err := q.client.XAdd(ctx, q.addArgs(job)).Err(); err != nil {
		return CleanupJob{}, fmt.Errorf("enqueue cleanup: %w", err)
	}
	return job, nil
}

func (q *RedisCleanupQueue) GetJob(ctx context.Context, jobID string) (CleanupJob, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return CleanupJob{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return CleanupJob{}, false, err
	}
	if len(data) == 0 {
		return CleanupJob{}, false, nil
	}
	return decodeJob(jobID, data), true, nil
}

// Start launches concurrency consumers that run until ctx is cancelled.
func (q *RedisCleanupQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisCleanupQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("cleanup queue group create failed", "stream", q.stream, "err", err)
		}
	})
}

func (q *RedisCleanupQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				slog.Warn("cleanup queue read failed", "consumer", consumer, "err", err)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisCleanupQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return res, err
}

func (q *RedisCleanupQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job_id"].(string)
	objectKey, _ := msg.Values["object_key"].(string)
	artworkID, _ := msg.Values["artwork_id"].(string)
	if jobID == "" || objectKey == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, err := q.markProcessing(ctx, CleanupJob{ID: jobID, ObjectKey: objectKey, ArtworkID: artworkID})
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	err = handler(ctx, job)
	if err == nil {
		_ = q.setStatus(ctx, jobID, StatusDone, "")
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if job.Attempts >= q.maxRetries {
		slog.Error("image cleanup failed", "job_id", jobID, "object_key", objectKey, "attempts", job.Attempts, "err", err)
		_ = q.setStatus(ctx, jobID, StatusFailed, err.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	}
	_ = q.setStatus(ctx, jobID, StatusQueued, err.Error())
	select {
	case <-ctx.Done():
		return
	case <-time.After(q.retryDelay):
	}
	_ = q.requeueAndAck(ctx, msg.ID, job)
}

func (q *RedisCleanupQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck appends a fresh copy and acknowledges the original in one
// transaction, so a failure leaves the original pending for XAUTOCLAIM.
func (q *RedisCleanupQueue) requeueAndAck(ctx context.Context, msgID string, job CleanupJob) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, q.addArgs(job))
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisCleanupQueue) addArgs(job CleanupJob) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":     job.ID,
			"object_key": job.ObjectKey,
			"artwork_id": job.ArtworkID,
		},
	}
}

func (q *RedisCleanupQueue) markProcessing(ctx context.Context, msg CleanupJob) (CleanupJob, error) {
	job, found, err := q.GetJob(ctx, msg.ID)
	if err != nil {
		return CleanupJob{}, err
	}
	if !found {
		job = CleanupJob{ID: msg.ID}
	}
	job.ObjectKey = msg.ObjectKey
	job.ArtworkID = msg.ArtworkID
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return CleanupJob{}, err
	}
	return job, nil
}

func (q *RedisCleanupQueue) setStatus(ctx context.Context, jobID, status, errMsg string) error {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.ID = jobID
	job.Status = status
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *RedisCleanupQueue) writeStatus(ctx context.Context, job CleanupJob) error {
	key := q.jobKey(job.ID)
	payload := map[string]any{
		"objectKey": job.ObjectKey,
		"artworkId": job.ArtworkID,
		"status":    job.Status,
		"error":     job.ErrorMessage,
		"attempts":  strconv.Itoa(job.Attempts),
		"createdAt": job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *RedisCleanupQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func decodeJob(jobID string, data map[string]string) CleanupJob {
	job := CleanupJob{
		ID:           jobID,
		ObjectKey:    data["objectKey"],
		ArtworkID:    data["artworkId"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if n, err := strconv.Atoi(data["attempts"]); err == nil {
		job.Attempts = n
	}
	if t, err := time.Parse(time.RFC3339Nano, data["createdAt"]); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, data["updatedAt"]); err == nil {
		job.UpdatedAt = t
	}
	return job
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func int64Or(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}
