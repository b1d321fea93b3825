// Package viewer drives negotiation from a spectator's side: announce, answer the host's offer, receive media.
package viewer

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

// maxEarlyCandidates bounds host candidates held before the offer arrives.
const maxEarlyCandidates = 64

// State is the viewer's negotiation state.
type State int

const (
	Idle State = iota
	AwaitingOffer
	Connected
)

func (s State) String() string {
	switch s {
	case AwaitingOffer:
		return "awaiting-offer"
	case Connected:
		return "connected"
	default:
		return "idle"
	}
}

// Signaller is the part of the signaling channel the viewer sends through.
type Signaller interface {
	SendPresence(ctx context.Context, status string) error
	SendAnswer(ctx context.Context, sd webrtc.SessionDescription) error
}

// Orchestrator negotiates the single connection between a viewer and the host.
type Orchestrator struct {
	self      string
	hostID    string
	registry  *peer.Registry
	signaller Signaller
	logger    *zap.Logger

	mu    sync.Mutex
	state State
	early []webrtc.ICECandidateInit
}

// New creates a viewer orchestrator talking only to hostID.
func New(self, hostID string, registry *peer.Registry, signaller Signaller, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		self:      self,
		hostID:    hostID,
		registry:  registry,
		signaller: signaller,
		logger:    logger.With(zap.String("role", "viewer"), zap.String("host", hostID)),
	}
}

// State returns the current negotiation state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Announce sends presence "ready" to the host and waits for its offer.
func (o *Orchestrator) Announce(ctx context.Context) error {
	o.mu.Lock()
	if o.state != Idle {
		o.mu.Unlock()
		return nil
	}
	o.state = AwaitingOffer
	o.mu.Unlock()

	if err := o.signaller.SendPresence(ctx, signaling.PresenceReady); err != nil {
		o.setState(Idle)
		return fmt.Errorf("announce presence: %w", err)
	}
	o.logger.Info("presence announced")
	return nil
}

// HandleMessage routes one inbound message. Only the host's messages are considered.
func (o *Orchestrator) HandleMessage(ctx context.Context, m signaling.Message) {
	if m.From != o.hostID || m.From == o.self {
		return
	}
	var err error
	switch m.Type {
	case signaling.TypeOffer:
		err = o.handleOffer(ctx, m)
	case signaling.TypeICECandidate:
		err = o.handleCandidate(m)
	default:
		return
	}
	if err != nil {
		metrics.SignalingDropped.WithLabelValues("negotiation").Inc()
		o.logger.Warn("signaling message dropped", zap.String("type", string(m.Type)), zap.Error(err))
	}
}

func (o *Orchestrator) handleOffer(ctx context.Context, m signaling.Message) error {
	if s := o.State(); s != AwaitingOffer {
		return fmt.Errorf("unexpected offer in state %s", s)
	}
	sd, err := m.Description()
	if err != nil {
		return err
	}

	entry, err := o.registry.Create(o.hostID, peer.Answerer)
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	if err := o.registry.SetRemoteDescription(o.hostID, sd); err != nil {
		_ = o.registry.Close(o.hostID)
		return err
	}
	o.drainEarly()

	answer, err := entry.Conn.CreateAnswer(nil)
	if err != nil {
		_ = o.registry.Close(o.hostID)
		return fmt.Errorf("create answer: %w", err)
	}
	if err := entry.Conn.SetLocalDescription(answer); err != nil {
		_ = o.registry.Close(o.hostID)
		return fmt.Errorf("set local description: %w", err)
	}
	if err := o.signaller.SendAnswer(ctx, answer); err != nil {
		return err
	}
	o.setState(Connected)
	o.logger.Info("answer sent")
	return nil
}

func (o *Orchestrator) handleCandidate(m signaling.Message) error {
	c, err := m.Candidate()
	if err != nil {
		return err
	}
	err = o.registry.AddICECandidate(o.hostID, c)
	if !errors.Is(err, peer.ErrNoEntry) {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.early) >= maxEarlyCandidates {
		o.early = o.early[1:]
	}
	o.early = append(o.early, c)
	return nil
}

func (o *Orchestrator) drainEarly() {
	o.mu.Lock()
	early := o.early
	o.early = nil
	o.mu.Unlock()
	for _, c := range early {
		if err := o.registry.AddICECandidate(o.hostID, c); err != nil {
			o.logger.Debug("early candidate rejected", zap.Error(err))
		}
	}
}

// Early returns how many host candidates are held awaiting the offer.
func (o *Orchestrator) Early() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.early)
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}
