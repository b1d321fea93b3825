package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
)

const (
	oggPageDuration = 20 * time.Millisecond
	opusSampleRate  = 48000
)

// FileAcquirer plays an IVF video file (VP8/VP9) and an Ogg Opus file in a loop as
// the host's camera and microphone. Either path may be empty, not both.
type FileAcquirer struct {
	VideoPath string
	AudioPath string
	Logger    *zap.Logger
}

// Acquire opens the sources and starts pacing samples into fresh tracks.
func (a *FileAcquirer) Acquire(ctx context.Context) (LocalMedia, error) {
	if a.VideoPath == "" && a.AudioPath == "" {
		return nil, fmt.Errorf("%w: no video or audio source configured", ErrNoDevice)
	}
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &fileMedia{logger: logger}
	pumpCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if a.VideoPath != "" {
		if err := m.addVideo(pumpCtx, a.VideoPath); err != nil {
			m.Stop()
			return nil, err
		}
	}
	if a.AudioPath != "" {
		if err := m.addAudio(pumpCtx, a.AudioPath); err != nil {
			m.Stop()
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		m.Stop()
		return nil, err
	}
	logger.Info("local media acquired", zap.Int("tracks", len(m.tracks)))
	return m, nil
}

type fileMedia struct {
	tracks []webrtc.TrackLocal
	files  []*os.File
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	logger *zap.Logger
}

func (m *fileMedia) Tracks() []webrtc.TrackLocal { return m.tracks }

func (m *fileMedia) Stop() {
	m.once.Do(func() {
		m.cancel()
		m.wg.Wait()
		for _, f := range m.files {
			_ = f.Close()
		}
		m.logger.Info("local media stopped")
	})
}

func (m *fileMedia) addVideo(ctx context.Context, path string) error {
	f, err := openSource(path)
	if err != nil {
		return err
	}
	m.files = append(m.files, f)

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}
	var mime string
	switch header.FourCC {
	case "VP80":
		mime = webrtc.MimeTypeVP8
	case "VP90":
		mime = webrtc.MimeTypeVP9
	default:
		return fmt.Errorf("unsupported ivf codec %q", header.FourCC)
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "video", StreamID)
	if err != nil {
		return fmt.Errorf("create video track: %w", err)
	}
	m.tracks = append(m.tracks, track)

	frameDuration := time.Second / 30
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frameDuration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			frame, _, err := reader.ParseNextFrame()
			if errors.Is(err, io.EOF) {
				if reader, err = rewindIVF(f); err != nil {
					m.logger.Warn("video source ended", zap.Error(err))
					return
				}
				continue
			}
			if err != nil {
				m.logger.Warn("video source read failed", zap.Error(err))
				return
			}
			if err := track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
				m.logger.Debug("video sample dropped", zap.Error(err))
			}
		}
	}()
	return nil
}

func rewindIVF(f *os.File) (*ivfreader.IVFReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r, _, err := ivfreader.NewWith(f)
	return r, err
}

func (m *fileMedia) addAudio(ctx context.Context, path string) error {
	f, err := openSource(path)
	if err != nil {
		return err
	}
	m.files = append(m.files, f)

	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("read ogg header: %w", err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", StreamID)
	if err != nil {
		return fmt.Errorf("create audio track: %w", err)
	}
	m.tracks = append(m.tracks, track)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		var lastGranule uint64
		ticker := time.NewTicker(oggPageDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			page, header, err := reader.ParseNextPage()
			if errors.Is(err, io.EOF) {
				if reader, err = rewindOgg(f); err != nil {
					m.logger.Warn("audio source ended", zap.Error(err))
					return
				}
				lastGranule = 0
				continue
			}
			if err != nil {
				m.logger.Warn("audio source read failed", zap.Error(err))
				return
			}
			samples := header.GranulePosition - lastGranule
			lastGranule = header.GranulePosition
			duration := time.Duration(float64(samples)/opusSampleRate*1000) * time.Millisecond
			if err := track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
				m.logger.Debug("audio sample dropped", zap.Error(err))
			}
		}
	}()
	return nil
}

func rewindOgg(f *os.File) (*oggreader.OggReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r, _, err := oggreader.NewWith(f)
	return r, err
}
