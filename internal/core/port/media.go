package port

import (
	"context"

	"github.com/Wyydra/pulse/internal/core/domain"
)

type MediaDevices interface {
	EnumerateDevices(ctx context.Context) ([]domain.Device, error)
	GetUserMedia(ctx context.Context, c domain.Constraints) (LocalStream, error)
	GetDisplayMedia(ctx context.Context) (LocalStream, error)
	// NewAnalyser taps an audio track without touching what peers receive.
	NewAnalyser(track Track) (AudioAnalyser, error)
}

type LocalStream interface {
	ID() string
	Tracks() []Track
	AudioTracks() []Track
	VideoTracks() []Track
}

type Track interface {
	ID() string
	Kind() domain.TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
	Ended() bool
	OnEnded(fn func())
}

// AudioAnalyser reads the latest window of normalized samples in [-1, 1].
type AudioAnalyser interface {
	Read(buf []float64) (int, error)
	Close() error
}
