package peer

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v3"
)

// Conn is the part of a peer connection the registry and orchestrators drive.
// *webrtc.PeerConnection satisfies it.
type Conn interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

// Factory creates fresh connections.
type Factory interface {
	NewConn() (Conn, error)
}

// PionFactory creates pion peer connections sharing one API (codecs + interceptors).
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewPionFactory registers the default codecs and interceptors, plus a periodic PLI
// so a viewer joining mid-stream gets a keyframe quickly.
func NewPionFactory(config webrtc.Configuration) (*PionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	pliFactory, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create PLI factory: %w", err)
	}
	interceptorRegistry.Add(pliFactory)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)
	return &PionFactory{api: api, config: config}, nil
}

// NewConn creates a peer connection with the factory's configuration.
func (f *PionFactory) NewConn() (Conn, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return pc, nil
}
