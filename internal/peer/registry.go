// Package peer owns the per-remote-participant peer connections of one live session.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveshop/internal/metrics"
)

var (
	// ErrDuplicateEntry is returned by Create when remoteID already has a connection.
	ErrDuplicateEntry = errors.New("peer: connection already exists")
	// ErrNoEntry is returned when remoteID has no connection.
	ErrNoEntry = errors.New("peer: no connection")
	// ErrClosed is returned by Create after CloseAll.
	ErrClosed = errors.New("peer: registry closed")
)

// DefaultSendTimeout bounds forwarding one local candidate when Options.SendTimeout is zero.
const DefaultSendTimeout = 5 * time.Second

const maxPendingCandidates = 64

// Role is the negotiation role of the local side of a connection.
type Role int

const (
	Offerer Role = iota
	Answerer
)

func (r Role) String() string {
	if r == Offerer {
		return "offerer"
	}
	return "answerer"
}

// CandidateSender forwards locally discovered candidates to a remote participant.
type CandidateSender interface {
	SendICECandidate(ctx context.Context, candidate webrtc.ICECandidateInit, to string) error
}

// TrackHandler receives remote media on the answering (viewer) side.
type TrackHandler func(remoteID string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

// Options configures a Registry.
type Options struct {
	// Tracks are the local media tracks attached to every offerer connection.
	Tracks  []webrtc.TrackLocal
	OnTrack TrackHandler
	// SendTimeout bounds each candidate forwarded to the remote side.
	SendTimeout time.Duration
	Logger      *zap.Logger
}

// Entry is one negotiated connection.
type Entry struct {
	RemoteID       string
	Conn           Conn
	Role           Role
	TracksAttached bool

	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
}

// Registry maps remote participant ids to connections. It is the only
// component that adds or removes entries.
type Registry struct {
	factory Factory
	sender  CandidateSender
	tracks  []webrtc.TrackLocal
	onTrack TrackHandler
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[string]*Entry
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, sender CandidateSender, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Registry{
		factory: factory,
		sender:  sender,
		tracks:  opts.Tracks,
		onTrack: opts.OnTrack,
		timeout: timeout,
		logger:  logger,
		entries: make(map[string]*Entry),
	}
}

// LocalTracks returns the tracks attached to offerer connections.
func (r *Registry) LocalTracks() []webrtc.TrackLocal {
	return r.tracks
}

// Create adds a connection for remoteID. It fails with ErrDuplicateEntry if one exists.
// Offerer connections get every local track attached at once; each connection gets its
// own sender for the same shared tracks.
func (r *Registry) Create(remoteID string, role Role) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if _, ok := r.entries[remoteID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, remoteID)
	}

	conn, err := r.factory.NewConn()
	if err != nil {
		return nil, err
	}
	e := &Entry{RemoteID: remoteID, Conn: conn, Role: role}

	if role == Offerer && len(r.tracks) > 0 {
		for _, t := range r.tracks {
			if _, err := conn.AddTrack(t); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("add track %s: %w", t.ID(), err)
			}
		}
		e.TracksAttached = true
	}

	log := r.logger.With(zap.String("remote_id", remoteID), zap.Stringer("role", role))
	conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.sender.SendICECandidate(ctx, c.ToJSON(), remoteID); err != nil {
			log.Debug("ice candidate not sent", zap.Error(err))
		}
	})
	conn.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if role != Answerer || r.onTrack == nil {
			return
		}
		log.Info("remote track received", zap.String("kind", track.Kind().String()), zap.String("codec", track.Codec().MimeType))
		r.onTrack(remoteID, track, receiver)
	})
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("connection state", zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed {
			r.remove(remoteID, e)
		}
	})

	r.entries[remoteID] = e
	metrics.PeerConnections.Inc()
	log.Debug("peer connection created", zap.Bool("tracks_attached", e.TracksAttached))
	return e, nil
}

// Get returns the entry for remoteID.
func (r *Registry) Get(remoteID string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[remoteID]
	return e, ok
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RemoteIDs returns the remote ids with an entry, sorted.
func (r *Registry) RemoteIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetRemoteDescription applies sd to remoteID's connection, then applies any
// candidates that arrived before it.
func (r *Registry) SetRemoteDescription(remoteID string, sd webrtc.SessionDescription) error {
	e, ok := r.Get(remoteID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoEntry, remoteID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Conn.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	pending := e.pending
	e.pending = nil
	for _, c := range pending {
		if err := e.Conn.AddICECandidate(c); err != nil {
			r.logger.Debug("buffered candidate rejected", zap.String("remote_id", remoteID), zap.Error(err))
		}
	}
	return nil
}

// AddICECandidate applies a remote candidate to remoteID's connection. Candidates that
// arrive before the remote description are held and applied by SetRemoteDescription.
func (r *Registry) AddICECandidate(remoteID string, c webrtc.ICECandidateInit) error {
	e, ok := r.Get(remoteID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoEntry, remoteID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Conn.RemoteDescription() == nil {
		if len(e.pending) >= maxPendingCandidates {
			e.pending = e.pending[1:]
		}
		e.pending = append(e.pending, c)
		return nil
	}
	return e.Conn.AddICECandidate(c)
}

// Pending returns how many candidates are held for remoteID.
func (r *Registry) Pending(remoteID string) int {
	e, ok := r.Get(remoteID)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Close tears down and removes remoteID's connection.
func (r *Registry) Close(remoteID string) error {
	r.mu.Lock()
	e, ok := r.entries[remoteID]
	if ok {
		delete(r.entries, remoteID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoEntry, remoteID)
	}
	metrics.PeerConnections.Dec()
	return e.Conn.Close()
}

// CloseAll closes every entry and refuses new ones.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*Entry)
	r.closed = true
	r.mu.Unlock()

	var errs []error
	for id, e := range entries {
		metrics.PeerConnections.Dec()
		if err := e.Conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	if len(entries) > 0 {
		r.logger.Info("closed all peer connections", zap.Int("count", len(entries)))
	}
	return errors.Join(errs...)
}

// remove drops e if it is still the entry for remoteID.
func (r *Registry) remove(remoteID string, e *Entry) {
	r.mu.Lock()
	current, ok := r.entries[remoteID]
	if !ok || current != e {
		r.mu.Unlock()
		return
	}
	delete(r.entries, remoteID)
	r.mu.Unlock()

	metrics.PeerConnections.Dec()
	r.logger.Info("removing failed peer connection", zap.String("remote_id", remoteID))
	go func() { _ = e.Conn.Close() }()
}
