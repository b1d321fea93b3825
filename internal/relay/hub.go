package relay

import (
	"sync"

	"go.uber.org/zap"

	"github.com/aura-webinar/liveshop/internal/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// AudienceChangeHandler is called when the number of websocket members of a channel changes.
type AudienceChangeHandler func(channel string, count int)

// Hub tracks websocket members per relay channel on this instance.
// Fan-out itself goes through the Broker; the hub only knows who is here.
type Hub struct {
	// channel -> map[clientID]*Client
	channels   map[string]map[string]*Client
	mu         sync.RWMutex
	logger     *zap.Logger
	onAudience AudienceChangeHandler
}

// NewHub creates a new websocket hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		channels: make(map[string]map[string]*Client),
		logger:   logger,
	}
}

// SetAudienceChangeHandler sets the callback for member count changes (e.g. viewer counters).
func (h *Hub) SetAudienceChangeHandler(fn AudienceChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onAudience = fn
}

// Register adds a client to its channel.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.channels[c.Channel] == nil {
		h.channels[c.Channel] = make(map[string]*Client)
	}
	h.channels[c.Channel][c.ID] = c
	count := len(h.channels[c.Channel])
	onAudience := h.onAudience
	h.mu.Unlock()

	metrics.RelayConnections.Inc()
	if onAudience != nil {
		onAudience(c.Channel, count)
	}
	h.logger.Debug("client joined channel", zap.String("client_id", c.ID), zap.String("channel", c.Channel), zap.String("user_id", c.UserID))
}

// Unregister removes a client from its channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	var count int
	found := false
	if m, ok := h.channels[c.Channel]; ok {
		if _, found = m[c.ID]; found {
			delete(m, c.ID)
		}
		count = len(m)
		if count == 0 {
			delete(h.channels, c.Channel)
		}
	}
	onAudience := h.onAudience
	h.mu.Unlock()

	if !found {
		return
	}
	metrics.RelayConnections.Dec()
	if onAudience != nil {
		onAudience(c.Channel, count)
	}
	h.logger.Debug("client left channel", zap.String("client_id", c.ID), zap.String("channel", c.Channel))
}

// Members returns the number of websocket clients joined to channel on this instance.
func (h *Hub) Members(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// MemberUsers returns the distinct user ids joined to channel on this instance.
func (h *Hub) MemberUsers(channel string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, c := range h.channels[channel] {
		if _, ok := seen[c.UserID]; ok {
			continue
		}
		seen[c.UserID] = struct{}{}
		out = append(out, c.UserID)
	}
	return out
}
