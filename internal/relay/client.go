package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// EventJoined acknowledges a websocket join.
	EventJoined = "relay_joined"
	// EventError reports a join or relay failure to a websocket client.
	EventError = "relay_error"

	writeWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Frame is the websocket message envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TokenValidator resolves a bearer token to a user id.
type TokenValidator func(token string) (userID string, err error)

// Client is one websocket connection joined to one relay channel.
type Client struct {
	ID      string
	Channel string
	UserID  string
	conn    *websocket.Conn
	send    chan Frame
	done    chan struct{}
	once    sync.Once
	logger  *zap.Logger
}

func (c *Client) enqueue(f Frame) {
	select {
	case <-c.done:
	case c.send <- f:
	default:
		// buffer full, skip
	}
}

func (c *Client) stop() {
	c.once.Do(func() { close(c.done) })
}

// ServeWs upgrades the request, joins the requested channel on broker and pumps frames both ways.
// Query: channel (required), token (required), self=true to receive own broadcasts.
// opts supplies the join and publish timeouts; Self comes from the query.
func ServeWs(hub *Hub, broker Broker, logger *zap.Logger, validate TokenValidator, opts JoinOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		channel := c.Query("channel")
		token := c.Query("token")
		if channel == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "channel and token required"})
			return
		}
		userID, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:      uuid.New().String(),
			Channel: channel,
			UserID:  userID,
			conn:    conn,
			send:    make(chan Frame, 256),
			done:    make(chan struct{}),
			logger:  logger.With(zap.String("channel", channel)),
		}
		joinOpts := opts
		joinOpts.Self = c.Query("self") == "true"
		// broadcasts arriving before the ack wait in send until the write pump starts
		membership, err := broker.Join(c.Request.Context(), channel, joinOpts, func(event string, payload json.RawMessage) {
			client.enqueue(Frame{Event: event, Data: payload})
		})
		if err != nil {
			client.logger.Warn("relay join failed", zap.Error(err))
			client.reject(err)
			return
		}

		if err := client.writeFrame(Frame{Event: EventJoined}); err != nil {
			client.logger.Debug("join ack not delivered", zap.Error(err))
			client.stop()
			_ = conn.Close()
			_ = membership.Leave()
			return
		}
		go client.writePump()
		hub.Register(client)
		client.readPump(membership, joinOpts.sendTimeout())
		hub.Unregister(client)
		_ = membership.Leave()
	}
}

// reject reports a join failure straight on the connection and closes it.
// The write pump is not running yet, so this is the only writer.
func (c *Client) reject(err error) {
	data, _ := json.Marshal(map[string]string{"message": err.Error()})
	if werr := c.writeFrame(Frame{Event: EventError, Data: data}); werr == nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "join failed"))
	}
	c.stop()
	_ = c.conn.Close()
}

func (c *Client) writeFrame(f Frame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

func (c *Client) readPump(membership Channel, sendTimeout time.Duration) {
	defer func() {
		c.stop()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if f.Event == "" || f.Event == EventJoined || f.Event == EventError {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := membership.Send(ctx, f.Event, f.Data); err != nil {
			c.logger.Debug("relay send failed", zap.Error(err), zap.String("event", f.Event))
		}
		cancel()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case f := <-c.send:
			if err := c.writeFrame(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
