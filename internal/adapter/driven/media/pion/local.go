package pion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wyydra/yacall/internal/call"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const frameDuration = 20 * time.Millisecond

// opusSilence is a single Opus frame encoding 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SampleSource produces encoded media for one local track. Next blocks until
// a sample is ready or ctx is done.
type SampleSource interface {
	Next(ctx context.Context) (media.Sample, error)
}

// LevelSource is implemented by audio sources that know how loud their last
// sample was, in -dBov with 127 being silence.
type LevelSource interface {
	Level() (level uint8, voice bool)
}

// Devices decides which capture sources exist. A nil function means the
// device is missing and asking for it fails with a MediaAcquisitionError.
type Devices struct {
	Microphone func() (SampleSource, error)
	Camera     func() (SampleSource, error)
}

// SilentMicrophone is the microphone of a headless client.
func SilentMicrophone() (SampleSource, error) {
	return silence{}, nil
}

type silence struct{}

func (silence) Level() (uint8, bool) { return 127, false }

func (silence) Next(ctx context.Context) (media.Sample, error) {
	t := time.NewTimer(frameDuration)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return media.Sample{}, ctx.Err()
	case <-t.C:
		return media.Sample{Data: opusSilence, Duration: frameDuration}, nil
	}
}

// MediaSource captures local media from Devices.
type MediaSource struct {
	devices Devices
}

var _ call.MediaSource = (*MediaSource)(nil)

func NewMediaSource(devices Devices) *MediaSource {
	return &MediaSource{devices: devices}
}

func (s *MediaSource) Acquire(ctx context.Context, settings domain.MediaSettings) (call.LocalMedia, error) {
	if err := settings.Validate(); err != nil {
		return nil, &domain.MediaAcquisitionError{Err: err}
	}
	streamID := "yacall-" + uuid.NewString()
	feedCtx, cancel := context.WithCancel(context.Background())
	lm := &LocalMedia{cancel: cancel, analyser: newLevelAnalyser()}

	if settings.Audio {
		t, err := s.open(domain.TrackAudio, s.devices.Microphone, webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		}, streamID)
		if err != nil {
			cancel()
			return nil, err
		}
		t.analyser = lm.analyser
		lm.tracks = append(lm.tracks, t)
	}
	if settings.Video {
		t, err := s.open(domain.TrackVideo, s.devices.Camera, webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, streamID)
		if err != nil {
			cancel()
			return nil, err
		}
		lm.tracks = append(lm.tracks, t)
	}

	for _, t := range lm.tracks {
		t := t
		lm.wg.Add(1)
		go func() {
			defer lm.wg.Done()
			t.feed(feedCtx)
		}()
	}
	log.Info().Str("stream_id", streamID).Int("tracks", len(lm.tracks)).Msg("Local media acquired")
	return lm, nil
}

func (s *MediaSource) open(kind domain.TrackKind, device func() (SampleSource, error), codec webrtc.RTPCodecCapability, streamID string) (*localTrack, error) {
	if device == nil {
		return nil, &domain.MediaAcquisitionError{Kind: kind, Err: errors.New("no device")}
	}
	src, err := device()
	if err != nil {
		return nil, &domain.MediaAcquisitionError{Kind: kind, Err: err}
	}
	track, err := webrtc.NewTrackLocalStaticSample(codec, string(kind), streamID)
	if err != nil {
		return nil, &domain.MediaAcquisitionError{Kind: kind, Err: fmt.Errorf("create track: %w", err)}
	}
	t := &localTrack{kind: kind, track: track, src: src}
	t.enabled.Store(true)
	return t, nil
}

// LocalMedia is the set of captured local tracks.
type LocalMedia struct {
	tracks   []*localTrack
	analyser *levelAnalyser
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once
}

var _ call.LocalMedia = (*LocalMedia)(nil)

func (m *LocalMedia) Tracks() []call.LocalTrack {
	out := make([]call.LocalTrack, len(m.tracks))
	for i, t := range m.tracks {
		out[i] = t
	}
	return out
}

// Analyser reports the microphone loudness. Encoded samples carry no level,
// so it stays silent unless the microphone is a LevelSource.
func (m *LocalMedia) Analyser() call.Analyser {
	for _, t := range m.tracks {
		if t.kind == domain.TrackAudio {
			return m.analyser
		}
	}
	return nil
}

func (m *LocalMedia) Stop() {
	m.once.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
}

type localTrack struct {
	kind     domain.TrackKind
	track    *webrtc.TrackLocalStaticSample
	src      SampleSource
	analyser *levelAnalyser
	enabled  atomic.Bool
}

func (t *localTrack) Kind() domain.TrackKind { return t.kind }
func (t *localTrack) Enabled() bool          { return t.enabled.Load() }

func (t *localTrack) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

// feed pulls samples until ctx is done. A disabled track keeps consuming its
// source: audio goes out as silence of the same duration, video sends nothing.
func (t *localTrack) feed(ctx context.Context) {
	levels, _ := t.src.(LevelSource)
	for {
		sample, err := t.src.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("kind", string(t.kind)).Msg("Local source stopped")
			}
			return
		}
		enabled := t.enabled.Load()
		if t.analyser != nil {
			switch {
			case !enabled:
				t.analyser.set(127, false)
			case levels != nil:
				t.analyser.set(levels.Level())
			}
		}
		if !enabled {
			if t.kind != domain.TrackAudio {
				continue
			}
			sample = media.Sample{Data: opusSilence, Duration: sample.Duration}
		}
		if err := t.track.WriteSample(sample); err != nil {
			log.Debug().Err(err).Str("kind", string(t.kind)).Msg("Dropping local sample")
		}
	}
}
