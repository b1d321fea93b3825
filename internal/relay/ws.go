package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSBroker joins channels through a relay server's websocket endpoint (see ServeWs).
type WSBroker struct {
	endpoint string
	token    string
	dialer   *websocket.Dialer
	logger   *zap.Logger
}

// NewWSBroker creates a broker for endpoint, e.g. ws://localhost:8080/relay.
func NewWSBroker(endpoint, token string, logger *zap.Logger) *WSBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSBroker{
		endpoint: endpoint,
		token:    token,
		dialer:   websocket.DefaultDialer,
		logger:   logger,
	}
}

// Join dials the relay and waits for its join acknowledgement.
func (b *WSBroker) Join(ctx context.Context, channel string, opts JoinOptions, handler Handler) (Channel, error) {
	u, err := url.Parse(b.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: parse endpoint: %v", ErrJoinFailed, err)
	}
	q := u.Query()
	q.Set("channel", channel)
	q.Set("token", b.token)
	q.Set("self", strconv.FormatBool(opts.Self))
	u.RawQuery = q.Encode()

	joinCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	conn, _, err := b.dialer.DialContext(joinCtx, u.String(), nil)
	if err != nil {
		if errors.Is(joinCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrJoinTimeout, channel)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrJoinFailed, channel, err)
	}

	deadline, _ := joinCtx.Deadline()
	_ = conn.SetReadDeadline(deadline)
	var ack Frame
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %s", ErrJoinTimeout, channel)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrJoinFailed, channel, err)
	}
	switch ack.Event {
	case EventJoined:
	case EventError:
		_ = conn.Close()
		var body struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(ack.Data, &body)
		return nil, fmt.Errorf("%w: %s: %s", ErrJoinFailed, channel, body.Message)
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s: unexpected %q before join ack", ErrJoinFailed, channel, ack.Event)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &wsChannel{
		name:    channel,
		conn:    conn,
		timeout: opts.sendTimeout(),
		logger:  b.logger.With(zap.String("channel", channel)),
	}
	go c.readLoop(handler)
	return c, nil
}

type wsChannel struct {
	name    string
	conn    *websocket.Conn
	timeout time.Duration
	logger  *zap.Logger

	writeMu sync.Mutex
	closed  bool
}

func (c *wsChannel) Name() string { return c.name }

func (c *wsChannel) readLoop(handler Handler) {
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.dropped(err)
			return
		}
		if f.Event == EventError {
			c.logger.Warn("relay reported error", zap.ByteString("data", f.Data))
			continue
		}
		if handler != nil {
			handler(f.Event, f.Data)
		}
	}
}

// dropped marks the channel closed when the read side ends. After Leave it is a no-op.
func (c *wsChannel) dropped(err error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		c.logger.Debug("relay connection closed", zap.Error(err))
		return
	}
	c.closed = true
	_ = c.conn.Close()
	c.logger.Warn("relay connection dropped", zap.Error(err))
}

func (c *wsChannel) Send(ctx context.Context, event string, payload interface{}) error {
	data, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(Frame{Event: event, Data: data}); err != nil {
		return fmt.Errorf("write %s: %w", c.name, err)
	}
	return nil
}

func (c *wsChannel) Leave() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
