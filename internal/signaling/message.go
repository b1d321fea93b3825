package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v3"
)

// MessageType tags a signaling message.
type MessageType string

const (
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypePresence     MessageType = "presence"
)

// Broadcast is the wildcard recipient: a participant whose partner is Broadcast accepts every message.
const Broadcast = "all"

// PresenceReady announces a viewer ready to negotiate.
const PresenceReady = "ready"

var (
	ErrUnknownType = errors.New("signaling: unknown message type")
	ErrMalformed   = errors.New("signaling: malformed message")
)

// Message is one addressed signaling message. Build it with the New* helpers or Decode;
// the payload always matches Type.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	CallID  string          `json:"callId"`
}

// Presence is the payload of a presence message.
type Presence struct {
	Status string `json:"status"`
}

// Decode parses an inbound relay payload into a Message, rejecting unknown types
// and payloads that do not fit the type.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.From == "" || m.To == "" {
		return Message{}, fmt.Errorf("%w: missing from/to", ErrMalformed)
	}
	switch m.Type {
	case TypeOffer, TypeAnswer:
		if _, err := m.Description(); err != nil {
			return Message{}, err
		}
	case TypeICECandidate:
		if _, err := m.Candidate(); err != nil {
			return Message{}, err
		}
	case TypePresence:
		if _, err := m.Presence(); err != nil {
			return Message{}, err
		}
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return m, nil
}

// Description returns the session description of an offer or answer.
func (m Message) Description() (webrtc.SessionDescription, error) {
	if m.Type != TypeOffer && m.Type != TypeAnswer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s carries no session description", ErrMalformed, m.Type)
	}
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(m.Payload, &sd); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: session description: %v", ErrMalformed, err)
	}
	if sd.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: empty sdp", ErrMalformed)
	}
	want := webrtc.SDPTypeOffer
	if m.Type == TypeAnswer {
		want = webrtc.SDPTypeAnswer
	}
	if sd.Type != want {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s message carries %s", ErrMalformed, m.Type, sd.Type)
	}
	return sd, nil
}

// Candidate returns the ICE candidate of an ice-candidate message.
func (m Message) Candidate() (webrtc.ICECandidateInit, error) {
	if m.Type != TypeICECandidate {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: %s carries no candidate", ErrMalformed, m.Type)
	}
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(m.Payload, &c); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: candidate: %v", ErrMalformed, err)
	}
	if c.Candidate == "" {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: empty candidate", ErrMalformed)
	}
	return c, nil
}

// Presence returns the status of a presence message.
func (m Message) Presence() (Presence, error) {
	if m.Type != TypePresence {
		return Presence{}, fmt.Errorf("%w: %s carries no presence", ErrMalformed, m.Type)
	}
	var p Presence
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return Presence{}, fmt.Errorf("%w: presence: %v", ErrMalformed, err)
	}
	if p.Status != PresenceReady {
		return Presence{}, fmt.Errorf("%w: presence status %q", ErrMalformed, p.Status)
	}
	return p, nil
}

func newMessage(t MessageType, payload interface{}, from, to, callID string) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: raw, From: from, To: to, CallID: callID}, nil
}

// NewOffer builds an offer message.
func NewOffer(sd webrtc.SessionDescription, from, to, callID string) (Message, error) {
	return newMessage(TypeOffer, sd, from, to, callID)
}

// NewAnswer builds an answer message.
func NewAnswer(sd webrtc.SessionDescription, from, to, callID string) (Message, error) {
	return newMessage(TypeAnswer, sd, from, to, callID)
}

// NewICECandidate builds an ice-candidate message.
func NewICECandidate(c webrtc.ICECandidateInit, from, to, callID string) (Message, error) {
	return newMessage(TypeICECandidate, c, from, to, callID)
}

// NewPresence builds a presence message.
func NewPresence(status, from, to, callID string) (Message, error) {
	return newMessage(TypePresence, Presence{Status: status}, from, to, callID)
}

// Accepts reports whether a participant identified by self, talking to partner,
// should handle m: messages addressed to it, or anything when its partner is Broadcast.
func Accepts(self, partner string, m Message) bool {
	return m.To == self || partner == Broadcast
}
