package peer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu          sync.Mutex
	tracks      []webrtc.TrackLocal
	remote      *webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	closed      bool
	closeErr    error
	onCandidate func(*webrtc.ICECandidate)
	onState     func(webrtc.PeerConnectionState)
}

func (f *fakeConn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeConn) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (f *fakeConn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = &sd
	return nil
}

func (f *fakeConn) RemoteDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *fakeConn) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeConn) AddTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, t)
	return nil, nil
}

func (f *fakeConn) OnICECandidate(fn func(*webrtc.ICECandidate)) { f.onCandidate = fn }

func (f *fakeConn) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (f *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) { f.onState = fn }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (f *fakeFactory) NewConn() (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{}
	f.conns = append(f.conns, c)
	return c, nil
}

type sentCandidate struct {
	to        string
	candidate webrtc.ICECandidateInit
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentCandidate
}

func (s *recordingSender) SendICECandidate(_ context.Context, c webrtc.ICECandidateInit, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentCandidate{to: to, candidate: c})
	return nil
}

func newTestTrack(t *testing.T, id string) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "host-stream")
	require.NoError(t, err)
	return track
}

func TestRegistryCreateAttachesTracksToOfferers(t *testing.T) {
	factory := &fakeFactory{}
	tracks := []webrtc.TrackLocal{newTestTrack(t, "video"), newTestTrack(t, "audio")}
	reg := NewRegistry(factory, &recordingSender{}, Options{Tracks: tracks})

	for _, id := range []string{"v1", "v2", "v3"} {
		e, err := reg.Create(id, Offerer)
		require.NoError(t, err)
		assert.True(t, e.TracksAttached)
	}

	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, []string{"v1", "v2", "v3"}, reg.RemoteIDs())
	for _, c := range factory.conns {
		assert.Equal(t, tracks, c.tracks, "every connection carries the same shared tracks")
	}
}

func TestRegistryAnswererGetsNoTracks(t *testing.T) {
	factory := &fakeFactory{}
	reg := NewRegistry(factory, &recordingSender{}, Options{Tracks: []webrtc.TrackLocal{newTestTrack(t, "video")}})

	e, err := reg.Create("host", Answerer)
	require.NoError(t, err)
	assert.False(t, e.TracksAttached)
	assert.Empty(t, factory.conns[0].tracks)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	factory := &fakeFactory{}
	reg := NewRegistry(factory, &recordingSender{}, Options{})

	first, err := reg.Create("v1", Offerer)
	require.NoError(t, err)
	_, err = reg.Create("v1", Offerer)
	assert.ErrorIs(t, err, ErrDuplicateEntry)

	got, ok := reg.Get("v1")
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, 1, reg.Len())
	assert.Len(t, factory.conns, 1)
}

func TestRegistryForwardsCandidatesToRemote(t *testing.T) {
	factory := &fakeFactory{}
	sender := &recordingSender{}
	reg := NewRegistry(factory, sender, Options{})
	_, err := reg.Create("v1", Offerer)
	require.NoError(t, err)

	conn := factory.conns[0]
	conn.onCandidate(nil)
	conn.onCandidate(&webrtc.ICECandidate{
		Foundation: "1",
		Priority:   1,
		Address:    "192.0.2.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       5000,
		Component:  1,
		Typ:        webrtc.ICECandidateTypeHost,
	})

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "v1", sender.sent[0].to)
	assert.Contains(t, sender.sent[0].candidate.Candidate, "192.0.2.1")
}

type deadlineSender struct {
	mu       sync.Mutex
	deadline time.Time
}

func (s *deadlineSender) SendICECandidate(ctx context.Context, _ webrtc.ICECandidateInit, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline, _ = ctx.Deadline()
	return nil
}

func TestRegistryCandidateSendTimeout(t *testing.T) {
	factory := &fakeFactory{}
	sender := &deadlineSender{}
	reg := NewRegistry(factory, sender, Options{SendTimeout: 200 * time.Millisecond})
	_, err := reg.Create("v1", Offerer)
	require.NoError(t, err)

	start := time.Now()
	factory.conns[0].onCandidate(&webrtc.ICECandidate{
		Foundation: "1",
		Address:    "192.0.2.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       5000,
		Component:  1,
		Typ:        webrtc.ICECandidateTypeHost,
	})

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.False(t, sender.deadline.IsZero())
	assert.WithinDuration(t, start.Add(200*time.Millisecond), sender.deadline, 100*time.Millisecond)
}

func TestRegistryBuffersCandidatesUntilRemoteDescription(t *testing.T) {
	factory := &fakeFactory{}
	reg := NewRegistry(factory, &recordingSender{}, Options{})
	_, err := reg.Create("host", Answerer)
	require.NoError(t, err)
	conn := factory.conns[0]

	require.NoError(t, reg.AddICECandidate("host", webrtc.ICECandidateInit{Candidate: "candidate:1"}))
	require.NoError(t, reg.AddICECandidate("host", webrtc.ICECandidateInit{Candidate: "candidate:2"}))
	assert.Equal(t, 2, reg.Pending("host"))
	assert.Empty(t, conn.candidates)

	require.NoError(t, reg.SetRemoteDescription("host", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}))
	assert.Equal(t, 0, reg.Pending("host"))
	require.Len(t, conn.candidates, 2)
	assert.Equal(t, "candidate:1", conn.candidates[0].Candidate)

	require.NoError(t, reg.AddICECandidate("host", webrtc.ICECandidateInit{Candidate: "candidate:3"}))
	assert.Len(t, conn.candidates, 3)
}

func TestRegistryUnknownRemote(t *testing.T) {
	reg := NewRegistry(&fakeFactory{}, &recordingSender{}, Options{})

	assert.ErrorIs(t, reg.AddICECandidate("ghost", webrtc.ICECandidateInit{Candidate: "candidate:1"}), ErrNoEntry)
	assert.ErrorIs(t, reg.SetRemoteDescription("ghost", webrtc.SessionDescription{}), ErrNoEntry)
	assert.ErrorIs(t, reg.Close("ghost"), ErrNoEntry)
	assert.Equal(t, 0, reg.Pending("ghost"))
}

func TestRegistryCloseAll(t *testing.T) {
	factory := &fakeFactory{}
	reg := NewRegistry(factory, &recordingSender{}, Options{})
	for _, id := range []string{"v1", "v2"} {
		_, err := reg.Create(id, Offerer)
		require.NoError(t, err)
	}
	factory.conns[1].closeErr = errors.New("boom")

	err := reg.CloseAll()
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 0, reg.Len())
	for _, c := range factory.conns {
		assert.True(t, c.isClosed())
	}

	_, err = reg.Create("v3", Offerer)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, reg.CloseAll())
}

func TestRegistryDropsFailedConnection(t *testing.T) {
	factory := &fakeFactory{}
	reg := NewRegistry(factory, &recordingSender{}, Options{})
	_, err := reg.Create("v1", Offerer)
	require.NoError(t, err)

	factory.conns[0].onState(webrtc.PeerConnectionStateConnecting)
	assert.Equal(t, 1, reg.Len())

	factory.conns[0].onState(webrtc.PeerConnectionStateFailed)
	assert.Equal(t, 0, reg.Len())

	_, err = reg.Create("v1", Offerer)
	require.NoError(t, err, "a viewer whose connection failed can negotiate again")
	factory.conns[0].onState(webrtc.PeerConnectionStateFailed)
	assert.Equal(t, 1, reg.Len(), "a stale failure does not evict the replacement")
}

type registrySender struct {
	mu     sync.Mutex
	target *Registry
	as     string
}

func (s *registrySender) SendICECandidate(_ context.Context, c webrtc.ICECandidateInit, _ string) error {
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()
	if target == nil {
		return nil
	}
	err := target.AddICECandidate(s.as, c)
	if errors.Is(err, ErrNoEntry) {
		return nil
	}
	return err
}

func TestRegistryNegotiatesWithPion(t *testing.T) {
	factory, err := NewPionFactory(Configuration(nil, 0))
	require.NoError(t, err)

	toViewer := &registrySender{as: "host"}
	toHost := &registrySender{as: "v1"}
	hostReg := NewRegistry(factory, toViewer, Options{Tracks: []webrtc.TrackLocal{newTestTrack(t, "video")}})
	viewerReg := NewRegistry(factory, toHost, Options{})
	toViewer.target = viewerReg
	toHost.target = hostReg
	defer func() {
		_ = hostReg.CloseAll()
		_ = viewerReg.CloseAll()
	}()

	hostEntry, err := hostReg.Create("v1", Offerer)
	require.NoError(t, err)
	offer, err := hostEntry.Conn.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, hostEntry.Conn.SetLocalDescription(offer))

	viewerEntry, err := viewerReg.Create("host", Answerer)
	require.NoError(t, err)
	require.NoError(t, viewerReg.SetRemoteDescription("host", offer))
	answer, err := viewerEntry.Conn.CreateAnswer(nil)
	require.NoError(t, err)
	require.NoError(t, viewerEntry.Conn.SetLocalDescription(answer))

	require.NoError(t, hostReg.SetRemoteDescription("v1", answer))
	require.NotNil(t, hostEntry.Conn.RemoteDescription())
	assert.Equal(t, webrtc.SDPTypeAnswer, hostEntry.Conn.RemoteDescription().Type)
	assert.Contains(t, viewerEntry.Conn.RemoteDescription().SDP, "m=video")
}
