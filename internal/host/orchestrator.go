// Package host drives negotiation from the broadcaster's side: one offer per ready viewer.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveshop/internal/metrics"
	"github.com/aura-webinar/liveshop/internal/peer"
	"github.com/aura-webinar/liveshop/internal/signaling"
)

// ErrNoLocalTracks is returned by New when the registry has no media to broadcast.
var ErrNoLocalTracks = errors.New("host: no local media tracks")

// State is the negotiation state for one viewer.
type State int

const (
	Idle State = iota
	OfferSent
	Connected
)

func (s State) String() string {
	switch s {
	case OfferSent:
		return "offer-sent"
	case Connected:
		return "connected"
	default:
		return "idle"
	}
}

// Signaller is the part of the signaling channel the host sends through.
type Signaller interface {
	SendOffer(ctx context.Context, sd webrtc.SessionDescription, to string) error
}

// Orchestrator owns the per-viewer state machine. Feed it every inbound
// signaling message via HandleMessage.
type Orchestrator struct {
	self      string
	registry  *peer.Registry
	signaller Signaller
	logger    *zap.Logger

	mu     sync.Mutex
	states map[string]State
}

// New creates a host orchestrator. The registry must carry the local tracks.
func New(self string, registry *peer.Registry, signaller Signaller, logger *zap.Logger) (*Orchestrator, error) {
	if len(registry.LocalTracks()) == 0 {
		return nil, ErrNoLocalTracks
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		self:      self,
		registry:  registry,
		signaller: signaller,
		logger:    logger.With(zap.String("role", "host")),
		states:    make(map[string]State),
	}, nil
}

// State returns the negotiation state for viewer.
func (o *Orchestrator) State(viewer string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states[viewer]
}

// Viewers returns the viewer ids the registry holds a connection for.
func (o *Orchestrator) Viewers() []string {
	return o.registry.RemoteIDs()
}

// HandleMessage routes one inbound message. Negotiation failures are logged and absorbed.
func (o *Orchestrator) HandleMessage(ctx context.Context, m signaling.Message) {
	if m.From == o.self {
		return
	}
	log := o.logger.With(zap.String("viewer", m.From), zap.String("type", string(m.Type)))

	var err error
	switch m.Type {
	case signaling.TypePresence:
		err = o.handleReady(ctx, m.From)
	case signaling.TypeAnswer:
		err = o.handleAnswer(m)
	case signaling.TypeICECandidate:
		err = o.handleCandidate(m)
	default:
		return
	}
	if err != nil {
		metrics.SignalingDropped.WithLabelValues("negotiation").Inc()
		log.Warn("signaling message dropped", zap.Error(err))
	}
}

func (o *Orchestrator) handleReady(ctx context.Context, viewer string) error {
	entry, err := o.registry.Create(viewer, peer.Offerer)
	if errors.Is(err, peer.ErrDuplicateEntry) {
		o.logger.Debug("viewer already known", zap.String("viewer", viewer), zap.Stringer("state", o.State(viewer)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}

	offer, err := entry.Conn.CreateOffer(nil)
	if err != nil {
		_ = o.registry.Close(viewer)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := entry.Conn.SetLocalDescription(offer); err != nil {
		_ = o.registry.Close(viewer)
		return fmt.Errorf("set local description: %w", err)
	}
	o.setState(viewer, OfferSent)
	if err := o.signaller.SendOffer(ctx, offer, viewer); err != nil {
		// the viewer never saw the offer; its next ready starts over
		_ = o.registry.Close(viewer)
		o.clearState(viewer)
		return fmt.Errorf("send offer: %w", err)
	}
	o.logger.Info("offer sent", zap.String("viewer", viewer))
	return nil
}

func (o *Orchestrator) handleAnswer(m signaling.Message) error {
	if o.State(m.From) != OfferSent {
		return fmt.Errorf("unexpected answer in state %s", o.State(m.From))
	}
	sd, err := m.Description()
	if err != nil {
		return err
	}
	if err := o.registry.SetRemoteDescription(m.From, sd); err != nil {
		return err
	}
	o.setState(m.From, Connected)
	o.logger.Info("viewer connected", zap.String("viewer", m.From))
	return nil
}

func (o *Orchestrator) handleCandidate(m signaling.Message) error {
	c, err := m.Candidate()
	if err != nil {
		return err
	}
	err = o.registry.AddICECandidate(m.From, c)
	if errors.Is(err, peer.ErrNoEntry) {
		o.logger.Debug("candidate for unknown viewer dropped", zap.String("viewer", m.From))
		return nil
	}
	return err
}

func (o *Orchestrator) setState(viewer string, s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[viewer] = s
}

func (o *Orchestrator) clearState(viewer string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.states, viewer)
}
