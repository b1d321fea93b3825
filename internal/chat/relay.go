package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveshop/internal/metrics"
	"github.com/aura-webinar/liveshop/internal/relay"
)

// Store persists chat messages and replays them.
type Store interface {
	Append(ctx context.Context, rec Record) error
	// History returns up to limit of the session's most recent messages.
	History(ctx context.Context, sessionID string, limit int) ([]Message, error)
}

// LikeCounter bumps a session's like counter.
type LikeCounter interface {
	AddLike(ctx context.Context, sessionID string) error
}

// Relay is one participant's membership of a session chat.
type Relay struct {
	broker      relay.Broker
	store       Store
	likes       LikeCounter
	sessionID   string
	sender      *Sender
	onMessage   func(Message)
	limit       int
	joinTimeout time.Duration
	sendTimeout time.Duration
	logger      *zap.Logger

	mu sync.Mutex
	ch relay.Channel
}

// Option configures a Relay.
type Option func(*Relay)

// WithLikeCounter bumps the session like counter on every SendLike.
func WithLikeCounter(c LikeCounter) Option {
	return func(r *Relay) { r.likes = c }
}

// WithHistoryLimit lowers the replay cap.
func WithHistoryLimit(n int) Option {
	return func(r *Relay) {
		if n > 0 && n < HistoryLimit {
			r.limit = n
		}
	}
}

// WithJoinTimeout bounds the channel join.
func WithJoinTimeout(d time.Duration) Option {
	return func(r *Relay) { r.joinTimeout = d }
}

// WithSendTimeout bounds each broadcast.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Relay) { r.sendTimeout = d }
}

// WithLogger sets the relay logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// NewRelay creates an unjoined chat relay. sender may be nil for anonymous viewers,
// who can read but not write.
func NewRelay(broker relay.Broker, store Store, sessionID string, sender *Sender, onMessage func(Message), opts ...Option) *Relay {
	r := &Relay{
		broker:      broker,
		store:       store,
		sessionID:   sessionID,
		sender:      sender,
		onMessage:   onMessage,
		limit:       HistoryLimit,
		joinTimeout: relay.DefaultJoinTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("session_id", sessionID))
	return r
}

// Join loads the history, oldest first, then joins the chat channel with self-echo so
// local sends come back in the same order every member sees. A history failure is logged
// and yields an empty history; a join failure is returned.
func (r *Relay) Join(ctx context.Context) ([]Message, error) {
	history, err := r.store.History(ctx, r.sessionID, r.limit)
	if err != nil {
		r.logger.Warn("load chat history failed", zap.Error(err))
		history = nil
	}
	history = recent(history, r.limit)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		return history, nil
	}
	ch, err := r.broker.Join(ctx, ChannelName(r.sessionID), relay.JoinOptions{Self: true, Timeout: r.joinTimeout, SendTimeout: r.sendTimeout}, r.receive)
	if err != nil {
		return history, fmt.Errorf("join chat channel: %w", err)
	}
	r.ch = ch
	return history, nil
}

// recent orders messages oldest first and keeps the last limit of them.
func recent(msgs []Message, limit int) []Message {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

// Connected reports whether the chat channel is joined.
func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ch != nil
}

// Leave leaves the chat channel. Calling it more than once is a no-op.
func (r *Relay) Leave() error {
	r.mu.Lock()
	ch := r.ch
	r.ch = nil
	r.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Leave()
}

func (r *Relay) receive(ev string, payload json.RawMessage) {
	if ev != event {
		return
	}
	m, err := DecodeMessage(payload)
	if err != nil {
		r.logger.Debug("dropping invalid chat message", zap.Error(err))
		return
	}
	metrics.RelayMessages.WithLabelValues("chat_received").Inc()
	if r.onMessage != nil {
		r.onMessage(m)
	}
}

// SendMessage persists then broadcasts text. It is a no-op for blank text, an anonymous
// sender or an unjoined channel. Persistence failures are logged and do not block the broadcast.
func (r *Relay) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return r.send(ctx, TypeText, text)
}

// SendLike persists and broadcasts a like reaction.
func (r *Relay) SendLike(ctx context.Context) error {
	if err := r.send(ctx, TypeLike, LikeContent); err != nil {
		return err
	}
	if r.likes != nil && r.sender != nil && r.Connected() {
		if err := r.likes.AddLike(ctx, r.sessionID); err != nil {
			r.logger.Warn("like counter update failed", zap.Error(err))
		}
	}
	return nil
}

func (r *Relay) send(ctx context.Context, typ MessageType, content string) error {
	r.mu.Lock()
	ch := r.ch
	r.mu.Unlock()
	if r.sender == nil || ch == nil {
		return nil
	}

	if err := r.store.Append(ctx, Record{SessionID: r.sessionID, UserID: r.sender.UserID, Content: content, Type: typ}); err != nil {
		metrics.ChatPersistFailures.Inc()
		r.logger.Warn("persist chat message failed", zap.String("type", string(typ)), zap.Error(err))
	}

	m := Message{
		ID:        uuid.New().String(),
		SessionID: r.sessionID,
		UserID:    r.sender.UserID,
		Name:      r.sender.displayName(),
		Avatar:    r.sender.Avatar,
		Content:   content,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
	}
	if err := ch.Send(ctx, event, m); err != nil {
		return fmt.Errorf("broadcast chat message: %w", err)
	}
	return nil
}
