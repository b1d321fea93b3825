package peer

import (
	"strings"

	"github.com/pion/webrtc/v3"

	"github.com/aura-webinar/liveshop/config"
)

// DefaultCandidatePoolSize pre-gathers candidates so negotiation starts fast.
const DefaultCandidatePoolSize = 10

// DefaultICEServers is the fixed public STUN set plus TURN fallbacks for symmetric NATs.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
		{URLs: []string{"stun:stun2.l.google.com:19302"}},
		{URLs: []string{"stun:stun3.l.google.com:19302"}},
		{URLs: []string{"stun:stun4.l.google.com:19302"}},
		turn("turn:openrelay.metered.ca:80", "openrelayproject", "openrelayproject"),
		turn("turn:openrelay.metered.ca:443", "openrelayproject", "openrelayproject"),
		turn("turn:openrelay.metered.ca:443?transport=tcp", "openrelayproject", "openrelayproject"),
		turn("turn:relay.metered.ca:80", "free", "free"),
		turn("turn:relay.metered.ca:443", "free", "free"),
	}
}

func turn(url, username, credential string) webrtc.ICEServer {
	return webrtc.ICEServer{
		URLs:           []string{url},
		Username:       username,
		Credential:     credential,
		CredentialType: webrtc.ICECredentialTypePassword,
	}
}

// ICEServersFromConfig builds the ICE server list from configuration,
// falling back to DefaultICEServers when nothing is configured.
func ICEServersFromConfig(cfg config.WebRTCConfig) []webrtc.ICEServer {
	var out []webrtc.ICEServer
	for _, u := range cfg.STUNUrls {
		if strings.HasPrefix(u, "stun:") || strings.HasPrefix(u, "stuns:") {
			out = append(out, webrtc.ICEServer{URLs: []string{u}})
		}
	}
	for _, u := range cfg.TURNUrls {
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			out = append(out, turn(u, cfg.TURNUsername, cfg.TURNCredential))
		}
	}
	if len(out) == 0 {
		return DefaultICEServers()
	}
	return out
}

// Configuration returns the peer connection configuration used for every connection:
// bundled media, multiplexed RTCP and a pre-gathered candidate pool.
func Configuration(servers []webrtc.ICEServer, poolSize uint8) webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers:           servers,
		ICETransportPolicy:   webrtc.ICETransportPolicyAll,
		BundlePolicy:         webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy:        webrtc.RTCPMuxPolicyRequire,
		ICECandidatePoolSize: poolSize,
	}
}
