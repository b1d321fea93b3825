package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveshop/internal/metrics"
)

const channelPrefix = "relay:"

// RedisBroker relays channels over Redis pub/sub so members on any instance see each other.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBroker creates a Redis pub/sub broker.
func NewRedisBroker(client *redis.Client, logger *zap.Logger) *RedisBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{client: client, logger: logger}
}

// Join subscribes to the channel and resolves once Redis confirms the subscription.
func (b *RedisBroker) Join(ctx context.Context, channel string, opts JoinOptions, handler Handler) (Channel, error) {
	key := channelPrefix + channel
	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(subCtx, key)

	joinCtx, joinCancel := context.WithTimeout(ctx, opts.timeout())
	defer joinCancel()
	if _, err := pubsub.Receive(joinCtx); err != nil {
		_ = pubsub.Close()
		cancel()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(joinCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrJoinTimeout, channel)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrJoinFailed, channel, err)
	}

	c := &redisChannel{
		id:      uuid.New().String(),
		name:    channel,
		key:     key,
		self:    opts.Self,
		timeout: opts.sendTimeout(),
		client:  b.client,
		pubsub:  pubsub,
		cancel:  cancel,
		logger:  b.logger.With(zap.String("channel", channel)),
	}
	go c.listen(subCtx, handler)
	b.logger.Debug("joined relay channel", zap.String("channel", channel), zap.String("member_id", c.id))
	return c, nil
}

type redisChannel struct {
	id      string
	name    string
	key     string
	self    bool
	timeout time.Duration
	client  *redis.Client
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

func (c *redisChannel) Name() string { return c.name }

func (c *redisChannel) listen(ctx context.Context, handler Handler) {
	defer c.pubsub.Close()
	ch := c.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				c.logger.Debug("invalid relay envelope", zap.Error(err))
				continue
			}
			if env.Origin == c.id && !c.self {
				continue
			}
			if handler != nil {
				handler(env.Event, env.Data)
			}
		}
	}
}

// Send publishes to the channel's Redis key.
func (c *redisChannel) Send(ctx context.Context, event string, payload interface{}) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	data, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	body, err := json.Marshal(envelope{Event: event, Data: data, Origin: c.id, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	pubCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.client.Publish(pubCtx, c.key, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", c.name, err)
	}
	metrics.RelayMessages.WithLabelValues(event).Inc()
	return nil
}

func (c *redisChannel) Leave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	c.logger.Debug("left relay channel", zap.String("member_id", c.id))
	return nil
}
