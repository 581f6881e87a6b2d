package pion

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// CodecRegistrar fills the media engine. Capture backends that encode their
// own tracks must register exactly the codecs they produce.
type CodecRegistrar func(m *webrtc.MediaEngine) error

func newAPI(codecs CodecRegistrar) (*webrtc.API, error) {
	if codecs == nil {
		codecs = (*webrtc.MediaEngine).RegisterDefaultCodecs
	}
	m := &webrtc.MediaEngine{}
	if err := codecs(m); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	// Relay paths can stall for a few seconds during failover; keep ICE
	// alive through that instead of failing the call.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(se),
	), nil
}
