package chat

import (
	"context"

	"github.com/aura-webinar/liveshop/pkg/queue"
)

// Enqueuer hands chat records to the background worker.
type Enqueuer interface {
	EnqueueChatMessage(ctx context.Context, payload queue.ChatMessagePayload) error
}

// HistoryReader replays chat history.
type HistoryReader interface {
	History(ctx context.Context, sessionID string, limit int) ([]Message, error)
}

// QueuedStore appends through the job queue and reads history directly.
type QueuedStore struct {
	queue   Enqueuer
	history HistoryReader
}

// NewQueuedStore creates a store whose appends are persisted asynchronously by the worker.
func NewQueuedStore(q Enqueuer, history HistoryReader) *QueuedStore {
	return &QueuedStore{queue: q, history: history}
}

// Append enqueues rec.
func (s *QueuedStore) Append(ctx context.Context, rec Record) error {
	return s.queue.EnqueueChatMessage(ctx, queue.ChatMessagePayload{
		SessionID:   rec.SessionID,
		UserID:      rec.UserID,
		Content:     rec.Content,
		MessageType: string(rec.Type),
	})
}

// History delegates to the history reader.
func (s *QueuedStore) History(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	return s.history.History(ctx, sessionID, limit)
}
