// Package chat is the live chat of a session: a broadcast channel for text and
// reactions, with history replay on join and persistence to the chat store.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType is the kind of chat message.
type MessageType string

const (
	TypeText MessageType = "text"
	TypeLike MessageType = "like"
)

const (
	// LikeContent is the fixed payload of a like reaction.
	LikeContent = "❤️"
	// DefaultName is shown for senders without a profile name.
	DefaultName = "Utilisateur"
	// HistoryLimit caps the messages replayed on join.
	HistoryLimit = 50

	channelPrefix = "live-chat-"
	event         = "message"
)

// ErrMalformed is returned by DecodeMessage for payloads that are not a chat message.
var ErrMalformed = errors.New("chat: malformed message")

// ChannelName returns the relay channel used for a session's chat.
func ChannelName(sessionID string) string {
	return channelPrefix + sessionID
}

// Message is one chat line as broadcast and as replayed from history.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id,omitempty"`
	UserID    string      `json:"user_id"`
	Name      string      `json:"name"`
	Avatar    string      `json:"avatar,omitempty"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
}

// Sender is the authenticated participant writing to the chat.
type Sender struct {
	UserID string
	Name   string
	Avatar string
}

func (s Sender) displayName() string {
	if strings.TrimSpace(s.Name) == "" {
		return DefaultName
	}
	return s.Name
}

// Record is what the chat store appends.
type Record struct {
	SessionID string
	UserID    string
	Content   string
	Type      MessageType
}

// DecodeMessage validates an inbound relay payload.
func DecodeMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type != TypeText && m.Type != TypeLike {
		return Message{}, fmt.Errorf("%w: type %q", ErrMalformed, m.Type)
	}
	if m.UserID == "" || m.Content == "" {
		return Message{}, fmt.Errorf("%w: missing user or content", ErrMalformed)
	}
	if m.Name == "" {
		m.Name = DefaultName
	}
	return m, nil
}
