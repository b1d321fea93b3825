package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryQueueSize = 256

// MemoryBroker is an in-process broker. Each member drains its own queue in a
// goroutine, so a slow handler never blocks senders; a full queue drops.
type MemoryBroker struct {
	mu       sync.RWMutex
	channels map[string]map[string]*memoryChannel
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{channels: make(map[string]map[string]*memoryChannel)}
}

// Join adds a member to channel. It never blocks on the network, so it only fails on a done ctx.
func (b *MemoryBroker) Join(ctx context.Context, channel string, opts JoinOptions, handler Handler) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrJoinTimeout
	}
	c := &memoryChannel{
		id:      uuid.New().String(),
		name:    channel,
		self:    opts.Self,
		broker:  b,
		handler: handler,
		queue:   make(chan envelope, memoryQueueSize),
		done:    make(chan struct{}),
	}
	b.mu.Lock()
	if b.channels[channel] == nil {
		b.channels[channel] = make(map[string]*memoryChannel)
	}
	b.channels[channel][c.id] = c
	b.mu.Unlock()

	go c.drain()
	return c, nil
}

// Members returns the number of members currently joined to channel.
func (b *MemoryBroker) Members(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

func (b *MemoryBroker) publish(channel string, env envelope) {
	b.mu.RLock()
	members := make([]*memoryChannel, 0, len(b.channels[channel]))
	for _, m := range b.channels[channel] {
		members = append(members, m)
	}
	b.mu.RUnlock()

	for _, m := range members {
		if env.Origin == m.id && !m.self {
			continue
		}
		m.deliver(env)
	}
}

func (b *MemoryBroker) remove(c *memoryChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.channels[c.name]; ok {
		delete(m, c.id)
		if len(m) == 0 {
			delete(b.channels, c.name)
		}
	}
}

type memoryChannel struct {
	id      string
	name    string
	self    bool
	broker  *MemoryBroker
	handler Handler

	mu     sync.Mutex
	closed bool
	queue  chan envelope
	done   chan struct{}
	once   sync.Once
}

func (c *memoryChannel) Name() string { return c.name }

func (c *memoryChannel) Send(ctx context.Context, event string, payload interface{}) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	c.broker.publish(c.name, envelope{Event: event, Data: data, Origin: c.id, At: time.Now().Unix()})
	return nil
}

func (c *memoryChannel) deliver(env envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.queue <- env:
	default:
		// queue full, at-most-once
	}
}

func (c *memoryChannel) drain() {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.queue:
			if c.handler != nil {
				c.handler(env.Event, json.RawMessage(env.Data))
			}
		}
	}
}

func (c *memoryChannel) Leave() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.broker.remove(c)
		close(c.done)
	})
	return nil
}
