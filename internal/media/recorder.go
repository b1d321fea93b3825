package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"go.uber.org/zap"
)

// rtpWriter is implemented by the pion ivf and ogg writers.
type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// Recorder writes received remote tracks to files: VP8 video to IVF, Opus audio to Ogg.
type Recorder struct {
	dir    string
	prefix string
	logger *zap.Logger

	mu    sync.Mutex
	files []string
	wg    sync.WaitGroup
}

// NewRecorder creates a recorder writing into dir with names starting with prefix.
func NewRecorder(dir, prefix string, logger *zap.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{dir: dir, prefix: prefix, logger: logger}, nil
}

// Files returns the paths written so far.
func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

// Record starts copying track into a file until the track ends. It matches peer.TrackHandler.
func (r *Recorder) Record(remoteID string, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	w, path, err := r.open(remoteID, track.Codec().MimeType)
	if err != nil {
		r.logger.Warn("track not recorded", zap.String("codec", track.Codec().MimeType), zap.Error(err))
		return
	}
	r.mu.Lock()
	r.files = append(r.files, path)
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer w.Close()
		r.logger.Info("recording track", zap.String("path", path))
		if err := copyRTP(w, track); err != nil {
			r.logger.Warn("recording stopped", zap.String("path", path), zap.Error(err))
		}
	}()
}

// Wait blocks until every started recording has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) open(remoteID, mime string) (rtpWriter, string, error) {
	base := filepath.Join(r.dir, fmt.Sprintf("%s-%s", r.prefix, remoteID))
	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeVP8):
		path := base + ".ivf"
		w, err := ivfwriter.New(path)
		return w, path, err
	case strings.EqualFold(mime, webrtc.MimeTypeOpus):
		path := base + ".ogg"
		w, err := oggwriter.New(path, 48000, 2)
		return w, path, err
	default:
		return nil, "", fmt.Errorf("no container for %s", mime)
	}
}

func copyRTP(w rtpWriter, track *webrtc.TrackRemote) error {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := w.WriteRTP(pkt); err != nil {
			return err
		}
	}
}
