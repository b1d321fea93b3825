// Package signaling carries offer/answer/ice-candidate/presence messages between
// the host and viewers of one live session over a relay channel.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveshop/internal/metrics"
	"github.com/aura-webinar/liveshop/internal/relay"
)

// ErrNotConnected is returned by sends before Connect or after Disconnect.
var ErrNotConnected = errors.New("signaling: channel not connected")

const (
	channelPrefix = "webrtc-signaling-"
	event         = "signaling"
)

// ChannelName returns the relay channel used for a session's signaling.
func ChannelName(sessionID string) string {
	return channelPrefix + sessionID
}

// MessageHandler is invoked for every accepted inbound message.
type MessageHandler func(ctx context.Context, m Message)

// Channel is one participant's signaling membership for a session.
// Self-echo is on: the participant's own broadcasts come back through the handler filter.
type Channel struct {
	broker      relay.Broker
	sessionID   string
	self        string
	partner     string
	onMessage   MessageHandler
	joinTimeout time.Duration
	sendTimeout time.Duration
	logger      *zap.Logger

	mu sync.Mutex
	ch relay.Channel
}

// Option configures a Channel.
type Option func(*Channel)

// WithJoinTimeout bounds Connect.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Channel) { c.joinTimeout = d }
}

// WithSendTimeout bounds each publish.
func WithSendTimeout(d time.Duration) Option {
	return func(c *Channel) { c.sendTimeout = d }
}

// WithLogger sets the channel logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// NewChannel creates an unconnected channel. partner is the default recipient:
// the host's user id for viewers, Broadcast for the host.
func NewChannel(broker relay.Broker, sessionID, self, partner string, onMessage MessageHandler, opts ...Option) *Channel {
	c := &Channel{
		broker:      broker,
		sessionID:   sessionID,
		self:        self,
		partner:     partner,
		onMessage:   onMessage,
		joinTimeout: relay.DefaultJoinTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("session_id", sessionID), zap.String("self", self))
	return c
}

// Connect joins the session's signaling channel. It resolves once the relay acknowledges
// the join and fails on relay error or timeout; it can be called again after a failure.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		return nil
	}
	ch, err := c.broker.Join(ctx, ChannelName(c.sessionID), relay.JoinOptions{Self: true, Timeout: c.joinTimeout, SendTimeout: c.sendTimeout}, c.receive)
	if err != nil {
		return fmt.Errorf("connect signaling channel: %w", err)
	}
	c.ch = ch
	c.logger.Info("signaling channel connected")
	return nil
}

// Connected reports whether the channel is joined.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch != nil
}

// Disconnect leaves the channel. Calling it more than once is a no-op.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	ch := c.ch
	c.ch = nil
	c.mu.Unlock()
	if ch == nil {
		return nil
	}
	c.logger.Info("disconnecting signaling channel")
	return ch.Leave()
}

func (c *Channel) receive(ev string, payload json.RawMessage) {
	if ev != event {
		return
	}
	m, err := Decode(payload)
	if err != nil {
		metrics.SignalingDropped.WithLabelValues("invalid").Inc()
		c.logger.Debug("dropping invalid signaling message", zap.Error(err))
		return
	}
	if !Accepts(c.self, c.partner, m) {
		return
	}
	if c.onMessage != nil {
		c.onMessage(context.Background(), m)
	}
}

func (c *Channel) send(ctx context.Context, m Message) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}
	if err := ch.Send(ctx, event, m); err != nil {
		return fmt.Errorf("send %s to %s: %w", m.Type, m.To, err)
	}
	return nil
}

func (c *Channel) recipient(to string) string {
	if to != "" {
		return to
	}
	return c.partner
}

// SendOffer sends an offer to a viewer.
func (c *Channel) SendOffer(ctx context.Context, sd webrtc.SessionDescription, to string) error {
	m, err := NewOffer(sd, c.self, c.recipient(to), c.sessionID)
	if err != nil {
		return err
	}
	c.logger.Debug("sending offer", zap.String("to", m.To))
	return c.send(ctx, m)
}

// SendAnswer sends an answer to the partner (the host).
func (c *Channel) SendAnswer(ctx context.Context, sd webrtc.SessionDescription) error {
	m, err := NewAnswer(sd, c.self, c.partner, c.sessionID)
	if err != nil {
		return err
	}
	c.logger.Debug("sending answer", zap.String("to", m.To))
	return c.send(ctx, m)
}

// SendICECandidate sends a discovered candidate to one remote participant.
func (c *Channel) SendICECandidate(ctx context.Context, cand webrtc.ICECandidateInit, to string) error {
	m, err := NewICECandidate(cand, c.self, c.recipient(to), c.sessionID)
	if err != nil {
		return err
	}
	return c.send(ctx, m)
}

// SendPresence announces status to the partner.
func (c *Channel) SendPresence(ctx context.Context, status string) error {
	m, err := NewPresence(status, c.self, c.partner, c.sessionID)
	if err != nil {
		return err
	}
	c.logger.Debug("sending presence", zap.String("status", status), zap.String("to", m.To))
	return c.send(ctx, m)
}
