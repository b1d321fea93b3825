// Package worker drains the chat persistence queue into Postgres.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/liveshop/internal/chat"
	"github.com/aura-webinar/liveshop/internal/metrics"
	"github.com/aura-webinar/liveshop/pkg/queue"
)

// DequeueBackoff is the pause after a failed dequeue.
const DequeueBackoff = time.Second

// JobSource hands out chat jobs. *queue.Queue satisfies it.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	DeadLetter(ctx context.Context, job *queue.Job, cause error) error
}

// Appender writes one chat record. *chat.Repository satisfies it.
type Appender interface {
	Append(ctx context.Context, rec chat.Record) error
}

// ChatProcessor persists queued chat messages. Failed jobs go to the dead-letter
// queue and are not retried.
type ChatProcessor struct {
	source JobSource
	store  Appender
	logger *zap.Logger
}

// NewChatProcessor creates a chat persistence processor.
func NewChatProcessor(source JobSource, store Appender, logger *zap.Logger) *ChatProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatProcessor{source: source, store: store, logger: logger}
}

// Process executes one chat append job.
func (p *ChatProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeChatAppend {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ChatMessagePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	typ := chat.MessageType(payload.MessageType)
	if typ != chat.TypeText && typ != chat.TypeLike {
		return fmt.Errorf("unknown message type: %q", payload.MessageType)
	}
	rec := chat.Record{
		SessionID: payload.SessionID,
		UserID:    payload.UserID,
		Content:   payload.Content,
		Type:      typ,
	}
	if err := p.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	p.logger.Debug("chat message persisted", zap.String("job_id", job.ID), zap.String("session_id", payload.SessionID))
	return nil
}

// Run starts the worker loop until ctx is done: dequeue, process, dead-letter on error.
func (p *ChatProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("chat worker stopping")
			return
		default:
		}

		job, err := p.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(DequeueBackoff):
			}
			continue
		}
		if job == nil {
			continue
		}

		if err := p.Process(ctx, job); err != nil {
			metrics.ChatPersistFailures.Inc()
			p.logger.Error("chat job failed", zap.String("job_id", job.ID), zap.Error(err))
			if dlqErr := p.source.DeadLetter(ctx, job, err); dlqErr != nil {
				p.logger.Error("dead-letter failed", zap.String("job_id", job.ID), zap.Error(dlqErr))
			}
		}
	}
}
