// Package relay is the broadcast relay used for signaling and live chat:
// named channels, JSON payloads, at-most-once delivery and per-channel self-echo.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrJoinTimeout is returned when the relay does not acknowledge a join in time.
	ErrJoinTimeout = errors.New("relay: join timed out")
	// ErrJoinFailed is returned when the relay reports an error while joining.
	ErrJoinFailed = errors.New("relay: join failed")
	// ErrClosed is returned by Send after Leave.
	ErrClosed = errors.New("relay: channel closed")
)

const (
	// DefaultJoinTimeout bounds a join when JoinOptions.Timeout is zero.
	DefaultJoinTimeout = 10 * time.Second
	// DefaultSendTimeout bounds a publish when JoinOptions.SendTimeout is zero
	// and the caller's context has no deadline.
	DefaultSendTimeout = 5 * time.Second
)

// Handler receives every broadcast on a joined channel. Calls for one channel
// are sequential and keep each sender's publish order.
type Handler func(event string, payload json.RawMessage)

// JoinOptions configures a channel membership.
type JoinOptions struct {
	// Self delivers the member's own broadcasts back to its handler.
	Self    bool
	Timeout time.Duration
	// SendTimeout bounds each publish on the membership.
	SendTimeout time.Duration
}

func (o JoinOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultJoinTimeout
	}
	return o.Timeout
}

func (o JoinOptions) sendTimeout() time.Duration {
	if o.SendTimeout <= 0 {
		return DefaultSendTimeout
	}
	return o.SendTimeout
}

// Broker joins named channels.
type Broker interface {
	Join(ctx context.Context, channel string, opts JoinOptions, handler Handler) (Channel, error)
}

// Channel is one membership of a named channel.
type Channel interface {
	Name() string
	// Send broadcasts payload (JSON-encoded unless already raw) to every member.
	Send(ctx context.Context, event string, payload interface{}) error
	// Leave releases the membership. Calling it more than once is a no-op.
	Leave() error
}

// envelope is what travels on the wire between members.
type envelope struct {
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	Origin string          `json:"origin"`
	At     int64           `json:"at"`
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
