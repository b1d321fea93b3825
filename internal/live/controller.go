// Package live coordinates one participant's presence in a live shopping session:
// it picks the host or viewer role, wires signaling, peer connections, media and chat,
// and tears all of them down in a fixed order on exit.
package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveshop/internal/chat"
	"github.com/aura-webinar/liveshop/internal/media"
	"github.com/aura-webinar/liveshop/internal/models"
	"github.com/aura-webinar/liveshop/internal/peer"
	"github.com/aura-webinar/liveshop/internal/relay"
)

var (
	// ErrChannelJoin wraps a signaling or chat join failure. Start can be retried.
	ErrChannelJoin = errors.New("live: channel join failed")
	// ErrNotHost is returned when a user tries to host a session they do not own.
	ErrNotHost = errors.New("live: user does not host this session")
	// ErrSessionEnded is returned when entering an ended session.
	ErrSessionEnded = errors.New("live: session has ended")
	// ErrNoMedia is returned when hosting without a media acquirer.
	ErrNoMedia = errors.New("live: no media source configured")
)

// SessionStore is the session persistence the controller needs. *sessions.Repository satisfies it.
type SessionStore interface {
	Create(ctx context.Context, s *models.LiveSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	End(ctx context.Context, id uuid.UUID) error
	AddLike(ctx context.Context, id uuid.UUID) error
}

// Participant is the local user.
type Participant struct {
	ID     uuid.UUID
	Name   string
	Avatar string
}

// NewSession describes a session to create when going live.
type NewSession struct {
	Title            string
	Description      string
	FeaturedProducts []string
}

// Config holds the controller's collaborators.
type Config struct {
	Broker      relay.Broker
	Sessions    SessionStore
	Chat        chat.Store
	Peers       peer.Factory
	Media       media.Acquirer // required to host
	JoinTimeout time.Duration
	SendTimeout time.Duration
	// HistoryLimit caps the chat replay on Start; zero keeps chat.HistoryLimit.
	HistoryLimit int
	Logger       *zap.Logger
}

// Controller creates and enters live sessions.
type Controller struct {
	cfg    Config
	logger *zap.Logger
}

// NewController creates a controller.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = relay.DefaultJoinTimeout
	}
	return &Controller{cfg: cfg, logger: cfg.Logger}
}

// StartHosting acquires camera and microphone, then creates a live session owned by host.
// A media failure is returned before anything is persisted. The returned session is not
// connected yet; call Start.
func (c *Controller) StartHosting(ctx context.Context, host Participant, req NewSession, opts ...SessionOption) (*Session, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, errors.New("live: title is required")
	}
	lm, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	info := &models.LiveSession{
		SellerID:         host.ID,
		Title:            req.Title,
		Description:      req.Description,
		Status:           models.LiveSessionLive,
		FeaturedProducts: req.FeaturedProducts,
	}
	if err := c.cfg.Sessions.Create(ctx, info); err != nil {
		lm.Stop()
		return nil, fmt.Errorf("create session: %w", err)
	}
	c.logger.Info("session created", zap.String("session_id", info.ID.String()), zap.String("seller_id", host.ID.String()))

	s, err := c.newSession(info, RoleHost, host, lm, opts)
	if err != nil {
		lm.Stop()
		return nil, err
	}
	return s, nil
}

// Enter joins an existing session. The seller enters as host (acquiring media),
// everyone else as a viewer.
func (c *Controller) Enter(ctx context.Context, sessionID uuid.UUID, user Participant, opts ...SessionOption) (*Session, error) {
	info, err := c.cfg.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if info.Status == models.LiveSessionEnded {
		return nil, ErrSessionEnded
	}
	if !info.IsHost(user.ID) {
		return c.newSession(info, RoleViewer, user, nil, opts)
	}
	lm, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	s, err := c.newSession(info, RoleHost, user, lm, opts)
	if err != nil {
		lm.Stop()
		return nil, err
	}
	return s, nil
}

// Host enters sessionID as host, failing with ErrNotHost for anyone but the seller.
func (c *Controller) Host(ctx context.Context, sessionID uuid.UUID, user Participant, opts ...SessionOption) (*Session, error) {
	info, err := c.cfg.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !info.IsHost(user.ID) {
		return nil, ErrNotHost
	}
	return c.Enter(ctx, sessionID, user, opts...)
}

func (c *Controller) acquire(ctx context.Context) (media.LocalMedia, error) {
	if c.cfg.Media == nil {
		return nil, ErrNoMedia
	}
	lm, err := c.cfg.Media.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire media: %w", err)
	}
	return lm, nil
}

// likeCounter bumps likes_count through the session store.
type likeCounter struct {
	store SessionStore
}

func (l likeCounter) AddLike(ctx context.Context, sessionID string) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return err
	}
	return l.store.AddLike(ctx, id)
}
