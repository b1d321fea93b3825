package live

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aura-webinar/liveshop/internal/chat"
	"github.com/aura-webinar/liveshop/internal/host"
	"github.com/aura-webinar/liveshop/internal/media"
	"github.com/aura-webinar/liveshop/internal/models"
	"github.com/aura-webinar/liveshop/internal/peer"
	"github.com/aura-webinar/liveshop/internal/signaling"
	"github.com/aura-webinar/liveshop/internal/viewer"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("live: session closed")

// Role is the local participant's part in a session.
type Role int

const (
	RoleViewer Role = iota
	RoleHost
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "viewer"
}

type sessionOptions struct {
	onChat  func(chat.Message)
	onTrack peer.TrackHandler
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

// WithChatHandler receives every live chat message, including the local user's own.
func WithChatHandler(fn func(chat.Message)) SessionOption {
	return func(o *sessionOptions) { o.onChat = fn }
}

// WithTrackHandler receives the host's media on the viewer side.
func WithTrackHandler(fn peer.TrackHandler) SessionOption {
	return func(o *sessionOptions) { o.onTrack = fn }
}

// Session is one participant's scoped hold on a live session's real-time resources.
// Close must be called on every exit path.
type Session struct {
	info     *models.LiveSession
	role     Role
	self     string
	sessions SessionStore
	logger   *zap.Logger

	signal   *signaling.Channel
	registry *peer.Registry
	host     *host.Orchestrator
	viewer   *viewer.Orchestrator
	chat     *chat.Relay
	media    media.LocalMedia

	mu     sync.Mutex
	closed bool
}

func (c *Controller) newSession(info *models.LiveSession, role Role, user Participant, lm media.LocalMedia, opts []SessionOption) (*Session, error) {
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}
	self := user.ID.String()
	id := info.ID.String()
	logger := c.logger.With(zap.String("session_id", id), zap.Stringer("role", role), zap.String("user_id", self))

	s := &Session{
		info:     info,
		role:     role,
		self:     self,
		sessions: c.cfg.Sessions,
		logger:   logger,
		media:    lm,
	}

	partner := signaling.Broadcast
	if role == RoleViewer {
		partner = info.SellerID.String()
	}
	s.signal = signaling.NewChannel(c.cfg.Broker, id, self, partner, s.dispatch,
		signaling.WithJoinTimeout(c.cfg.JoinTimeout),
		signaling.WithSendTimeout(c.cfg.SendTimeout),
		signaling.WithLogger(logger))

	regOpts := peer.Options{SendTimeout: c.cfg.SendTimeout, Logger: logger}
	if role == RoleHost {
		regOpts.Tracks = lm.Tracks()
	} else {
		regOpts.OnTrack = o.onTrack
	}
	s.registry = peer.NewRegistry(c.cfg.Peers, s.signal, regOpts)

	if role == RoleHost {
		h, err := host.New(self, s.registry, s.signal, logger)
		if err != nil {
			return nil, err
		}
		s.host = h
	} else {
		s.viewer = viewer.New(self, partner, s.registry, s.signal, logger)
	}

	sender := &chat.Sender{UserID: self, Name: user.Name, Avatar: user.Avatar}
	s.chat = chat.NewRelay(c.cfg.Broker, c.cfg.Chat, id, sender, o.onChat,
		chat.WithLikeCounter(likeCounter{store: c.cfg.Sessions}),
		chat.WithJoinTimeout(c.cfg.JoinTimeout),
		chat.WithSendTimeout(c.cfg.SendTimeout),
		chat.WithHistoryLimit(c.cfg.HistoryLimit),
		chat.WithLogger(logger))
	return s, nil
}

func (s *Session) dispatch(ctx context.Context, m signaling.Message) {
	if s.host != nil {
		s.host.HandleMessage(ctx, m)
		return
	}
	s.viewer.HandleMessage(ctx, m)
}

// Info returns the session record as loaded or created.
func (s *Session) Info() *models.LiveSession { return s.info }

// Role returns the local participant's role.
func (s *Session) Role() Role { return s.role }

// Peers returns the remote ids with a live peer connection.
func (s *Session) Peers() []string { return s.registry.RemoteIDs() }

// ViewerState returns the viewer negotiation state; it is Idle on the host side.
func (s *Session) ViewerState() viewer.State {
	if s.viewer == nil {
		return viewer.Idle
	}
	return s.viewer.State()
}

// Start joins the signaling and chat channels and, for a viewer, announces presence.
// It returns the chat history, oldest first. A join failure wraps ErrChannelJoin and
// Start may be called again.
func (s *Session) Start(ctx context.Context) ([]chat.Message, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if err := s.signal.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelJoin, err)
	}
	history, err := s.chat.Join(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannelJoin, err)
	}
	if s.viewer != nil {
		if err := s.viewer.Announce(ctx); err != nil {
			return history, err
		}
	}
	s.logger.Info("session started", zap.Int("history", len(history)))
	return history, nil
}

// SendMessage posts text to the live chat.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	return s.chat.SendMessage(ctx, text)
}

// SendLike posts a like reaction and bumps the session counter.
func (s *Session) SendLike(ctx context.Context) error {
	return s.chat.SendLike(ctx)
}

// Close releases everything in order: signaling channel, peer connections, local media,
// chat membership, then, for the host, ends the session. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.signal.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("disconnect signaling: %w", err))
	}
	if err := s.registry.CloseAll(); err != nil {
		errs = append(errs, fmt.Errorf("close peers: %w", err))
	}
	if s.media != nil {
		s.media.Stop()
	}
	if err := s.chat.Leave(); err != nil {
		errs = append(errs, fmt.Errorf("leave chat: %w", err))
	}
	if s.role == RoleHost {
		if err := s.sessions.End(ctx, s.info.ID); err != nil {
			s.logger.Warn("end session failed", zap.Error(err))
		}
	}
	s.logger.Info("session closed")
	return errors.Join(errs...)
}
