//go:build !linux

package device

import (
	"context"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/pion/webrtc/v4"
)

// Devices reports every capture request as unsupported on this platform.
// Calls still work receive-only.
type Devices struct{}

func New() (*Devices, error) {
	return &Devices{}, nil
}

func (d *Devices) RegisterCodecs(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func (d *Devices) EnumerateDevices(ctx context.Context) ([]domain.Device, error) {
	return nil, domain.ErrUnsupported
}

func (d *Devices) GetUserMedia(ctx context.Context, c domain.Constraints) (port.LocalStream, error) {
	return nil, domain.ErrUnsupported
}

func (d *Devices) GetDisplayMedia(ctx context.Context) (port.LocalStream, error) {
	return nil, domain.ErrUnsupported
}

func (d *Devices) NewAnalyser(track port.Track) (port.AudioAnalyser, error) {
	return nil, domain.ErrUnsupported
}
