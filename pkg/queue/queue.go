package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueChat is the Redis list key for chat persistence jobs.
	QueueChat = "worker:chat"
	// QueueDLQ is the dead-letter queue for jobs that failed.
	QueueDLQ = "worker:dlq"
	// DequeueTimeout bounds one blocking pop so the worker notices shutdown.
	DequeueTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeChatAppend JobType = "chat_append"
)

// ChatMessagePayload is the payload for chat persistence jobs.
type ChatMessagePayload struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
	Error     string          `json:"error,omitempty"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client redis.UniversalClient, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// NewJob wraps payload in a job envelope.
func NewJob(typ JobType, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Payload:   body,
		CreatedAt: time.Now(),
	}, nil
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}

// EnqueueChatMessage enqueues a chat persistence job.
func (q *Queue) EnqueueChatMessage(ctx context.Context, payload ChatMessagePayload) error {
	job, err := NewJob(JobTypeChatAppend, payload)
	if err != nil {
		return err
	}
	if err := q.push(ctx, QueueChat, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued chat job", zap.String("job_id", job.ID), zap.String("session_id", payload.SessionID))
	return nil
}

// Dequeue blocks until a job is available, DequeueTimeout passes or ctx is done.
// A nil job with nil error means nothing was available.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, DequeueTimeout, QueueChat).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// DeadLetter moves a failed job to the DLQ. Jobs are not retried.
func (q *Queue) DeadLetter(ctx context.Context, job *Job, cause error) error {
	job.Attempt++
	if cause != nil {
		job.Error = cause.Error()
	}
	if err := q.push(ctx, QueueDLQ, job); err != nil {
		q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
		return err
	}
	q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	return nil
}
