// Package pion implements the call package's media ports with pion/webrtc:
// one PeerConnection per remote member, local tracks fed from a synthetic or
// external source, and remote audio analysed from RTP audio-level headers.
package pion

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
)

type Options struct {
	ICEServers []webrtc.ICEServer
	// Loggers defaults to a zerolog backed factory.
	Loggers logging.LoggerFactory
	// Net replaces the host network stack, e.g. with a vnet in tests.
	Net transport.Net
}

// NewAPI builds a webrtc.API with the default codecs and interceptors plus
// the audio level header extension used for talking detection.
func NewAPI(opts Options) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: audioLevelURI}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register audio level extension: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	loggers := opts.Loggers
	if loggers == nil {
		loggers = NewLoggerFactory()
	}
	se := webrtc.SettingEngine{LoggerFactory: loggers}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}
