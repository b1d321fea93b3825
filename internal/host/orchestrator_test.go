package host

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liveshop/internal/peer"
	"github.com/aura-webinar/liveshop/internal/signaling"
)

type stubConn struct {
	mu         sync.Mutex
	tracks     int
	remote     *webrtc.SessionDescription
	candidates int
}

func (c *stubConn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}, nil
}
func (c *stubConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{}, fmt.Errorf("host never answers")
}
func (c *stubConn) SetLocalDescription(webrtc.SessionDescription) error { return nil }
func (c *stubConn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = &sd
	return nil
}
func (c *stubConn) RemoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}
func (c *stubConn) AddICECandidate(webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates++
	return nil
}
func (c *stubConn) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks++
	return nil, nil
}
func (c *stubConn) OnICECandidate(func(*webrtc.ICECandidate))                {}
func (c *stubConn) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))   {}
func (c *stubConn) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}
func (c *stubConn) Close() error                                             { return nil }

type stubFactory struct {
	conns []*stubConn
}

func (f *stubFactory) NewConn() (peer.Conn, error) {
	c := &stubConn{}
	f.conns = append(f.conns, c)
	return c, nil
}

type offerLog struct {
	mu   sync.Mutex
	to   []string
	fail error
}

func (l *offerLog) SendOffer(_ context.Context, _ webrtc.SessionDescription, to string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return l.fail
	}
	l.to = append(l.to, to)
	return nil
}

func (l *offerLog) setFail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = err
}

func (l *offerLog) SendICECandidate(context.Context, webrtc.ICECandidateInit, string) error {
	return nil
}

func (l *offerLog) count(to string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, t := range l.to {
		if t == to {
			n++
		}
	}
	return n
}

func newHost(t *testing.T) (*Orchestrator, *peer.Registry, *stubFactory, *offerLog) {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "host")
	require.NoError(t, err)
	factory := &stubFactory{}
	offers := &offerLog{}
	reg := peer.NewRegistry(factory, offers, peer.Options{Tracks: []webrtc.TrackLocal{track}})
	o, err := New("host", reg, offers, nil)
	require.NoError(t, err)
	return o, reg, factory, offers
}

func ready(t *testing.T, from string) signaling.Message {
	t.Helper()
	m, err := signaling.NewPresence(signaling.PresenceReady, from, "host", "s1")
	require.NoError(t, err)
	return m
}

func candidate(t *testing.T, from string) signaling.Message {
	t.Helper()
	m, err := signaling.NewICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 192.0.2.1 5000 typ host"}, from, "host", "s1")
	require.NoError(t, err)
	return m
}

func answer(t *testing.T, from string) signaling.Message {
	t.Helper()
	m, err := signaling.NewAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}, from, "host", "s1")
	require.NoError(t, err)
	return m
}

func TestNewRequiresLocalTracks(t *testing.T) {
	reg := peer.NewRegistry(&stubFactory{}, &offerLog{}, peer.Options{})
	_, err := New("host", reg, &offerLog{}, nil)
	assert.ErrorIs(t, err, ErrNoLocalTracks)
}

func TestReadyViewersEachGetOneConnection(t *testing.T) {
	o, reg, factory, _ := newHost(t)
	ctx := context.Background()

	viewers := []string{"v1", "v2", "v3", "v4"}
	for i, v := range viewers {
		o.HandleMessage(ctx, candidate(t, v))
		o.HandleMessage(ctx, ready(t, v))
		if i%2 == 0 {
			o.HandleMessage(ctx, candidate(t, v))
		}
	}

	assert.Equal(t, len(viewers), reg.Len())
	assert.Equal(t, viewers, o.Viewers())
	for _, c := range factory.conns {
		assert.Equal(t, 1, c.tracks)
	}
}

func TestDuplicateReadyIsIdempotent(t *testing.T) {
	o, reg, factory, offers := newHost(t)
	ctx := context.Background()

	o.HandleMessage(ctx, ready(t, "v1"))
	o.HandleMessage(ctx, answer(t, "v1"))
	require.Equal(t, Connected, o.State("v1"))

	o.HandleMessage(ctx, ready(t, "v1"))
	assert.Equal(t, 1, reg.Len())
	assert.Len(t, factory.conns, 1)
	assert.Equal(t, 1, offers.count("v1"))
	assert.Equal(t, Connected, o.State("v1"), "a repeated ready does not regress the viewer")
}

func TestCandidateForUnknownViewerIsDropped(t *testing.T) {
	o, reg, _, _ := newHost(t)

	assert.NotPanics(t, func() { o.HandleMessage(context.Background(), candidate(t, "ghost")) })
	assert.Equal(t, 0, reg.Len())
}

func TestReadyTransitionsToOfferSent(t *testing.T) {
	o, _, factory, offers := newHost(t)
	ctx := context.Background()
	require.Equal(t, Idle, o.State("v1"))

	o.HandleMessage(ctx, ready(t, "v1"))
	assert.Equal(t, OfferSent, o.State("v1"))
	assert.Equal(t, 1, offers.count("v1"))
	assert.Equal(t, 0, offers.count("v2"))

	o.HandleMessage(ctx, candidate(t, "v1"))
	o.HandleMessage(ctx, answer(t, "v1"))
	assert.Equal(t, Connected, o.State("v1"))
	assert.Equal(t, 1, factory.conns[0].candidates, "early candidate applied once the answer lands")
}

func TestHostIgnoresItsOwnEcho(t *testing.T) {
	o, reg, _, offers := newHost(t)
	ctx := context.Background()

	offer, err := signaling.NewOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}, "host", "v1", "s1")
	require.NoError(t, err)
	o.HandleMessage(ctx, offer)
	o.HandleMessage(ctx, ready(t, "host"))

	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, offers.count("host"))
}

func TestUnexpectedAnswerIsDropped(t *testing.T) {
	o, _, _, _ := newHost(t)
	o.HandleMessage(context.Background(), answer(t, "v9"))
	assert.Equal(t, Idle, o.State("v9"))
}

func TestFailedOfferSendLetsViewerRetry(t *testing.T) {
	o, reg, factory, offers := newHost(t)
	ctx := context.Background()

	offers.setFail(signaling.ErrNotConnected)
	o.HandleMessage(ctx, ready(t, "v1"))
	assert.Empty(t, reg.RemoteIDs())
	assert.Equal(t, Idle, o.State("v1"))

	offers.setFail(nil)
	o.HandleMessage(ctx, ready(t, "v1"))
	assert.Equal(t, []string{"v1"}, reg.RemoteIDs())
	assert.Equal(t, OfferSent, o.State("v1"))
	assert.Equal(t, 1, offers.count("v1"))
	assert.Len(t, factory.conns, 2)
}
