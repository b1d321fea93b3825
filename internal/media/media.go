// Package media acquires the host's local tracks and records what a viewer receives.
package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pion/webrtc/v3"
)

var (
	// ErrAccessDenied is returned when a capture source exists but may not be opened.
	ErrAccessDenied = errors.New("media: access denied")
	// ErrNoDevice is returned when no capture source is available.
	ErrNoDevice = errors.New("media: no device available")
)

// StreamID groups the host's tracks into one remote stream.
const StreamID = "liveshop-host"

// LocalMedia is a set of acquired local tracks, shared read-only by every connection.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	// Stop releases the sources. Calling it more than once is a no-op.
	Stop()
}

// Acquirer acquires camera and microphone.
type Acquirer interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}

// classify maps an open error onto ErrNoDevice or ErrAccessDenied.
func classify(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNoDevice, path)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrAccessDenied, path)
	default:
		return fmt.Errorf("open %s: %w", path, err)
	}
}

func openSource(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, classify(path, err)
	}
	return f, nil
}
