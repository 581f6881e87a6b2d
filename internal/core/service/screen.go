package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/rs/zerolog/log"
)

// Calls is the slice of CallService screen sharing relies on.
type Calls interface {
	TrackRouter
	ConnectedCount() int
}

// ScreenShareService swaps the outbound video track between camera and
// screen on every connected peer without renegotiating.
type ScreenShareService struct {
	devices  port.MediaDevices
	media    *MediaService
	calls    Calls
	notifier Notifier

	mu      sync.Mutex
	sharing bool
	screen  port.LocalStream
}

func NewScreenShareService(devices port.MediaDevices, media *MediaService, calls Calls, notifier Notifier) *ScreenShareService {
	return &ScreenShareService{
		devices:  devices,
		media:    media,
		calls:    calls,
		notifier: notifier,
	}
}

func (s *ScreenShareService) Sharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sharing
}

func (s *ScreenShareService) Toggle(ctx context.Context) (bool, error) {
	if s.Sharing() {
		return false, s.Stop(ctx)
	}
	if err := s.Start(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Start captures the screen and sends it to every connected peer in place of
// the camera. With nobody connected it does nothing.
func (s *ScreenShareService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sharing {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.calls.ConnectedCount() == 0 {
		s.notifier.Notify(ctx, "Start a call before sharing your screen.")
		return domain.ErrNoConnectedPeers
	}

	stream, err := s.devices.GetDisplayMedia(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Screen capture failed")
		s.notifier.Notify(ctx, "Screen share failed: "+domain.NewDeviceError(err).UserMessage())
		return fmt.Errorf("display media: %w", err)
	}
	video := firstTrack(stream, domain.TrackVideo)
	if video == nil {
		stopStream(stream)
		return fmt.Errorf("display media: %w", domain.ErrDeviceUnavailable)
	}

	n, err := s.calls.ReplaceTrack(ctx, video)
	if err != nil {
		log.Error().Err(err).Int("replaced", n).Msg("Screen track replace failed")
		s.rollback(ctx, n > 0)
		stopStream(stream)
		s.notifier.Notify(ctx, "Screen share failed.")
		return fmt.Errorf("replace screen track: %w", err)
	}

	s.mu.Lock()
	s.sharing = true
	s.screen = stream
	s.mu.Unlock()

	s.media.useScreen(video)
	video.OnEnded(func() {
		log.Info().Msg("Screen share ended by the system")
		if err := s.Stop(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to restore camera after screen share")
		}
	})
	log.Info().Int("peers", n).Msg("Screen share started")
	s.notifier.Notify(ctx, "Screen sharing started.")
	return nil
}

// rollback puts the camera back on peers that already got the screen.
func (s *ScreenShareService) rollback(ctx context.Context, partial bool) {
	if !partial {
		return
	}
	cam, err := s.media.cameraVideo(ctx)
	if err != nil {
		log.Error().Err(err).Msg("No camera to roll back to")
		return
	}
	if _, err := s.calls.ReplaceTrack(ctx, cam); err != nil {
		log.Error().Err(err).Msg("Camera rollback failed")
	}
}

// Stop restores the camera track on every connected peer. Calling it when
// not sharing is a no-op.
func (s *ScreenShareService) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.sharing {
		s.mu.Unlock()
		return nil
	}
	s.sharing = false
	screen := s.screen
	s.screen = nil
	s.mu.Unlock()

	// The screen tracks stop last, so an ended callback arriving from them
	// finds sharing already cleared.
	defer stopStream(screen)

	cam, err := s.media.cameraVideo(ctx)
	if err != nil {
		s.media.useCamera()
		s.notifier.Notify(ctx, "Screen sharing stopped, camera unavailable.")
		return fmt.Errorf("restore camera: %w", err)
	}
	if _, err := s.calls.ReplaceTrack(ctx, cam); err != nil {
		log.Error().Err(err).Msg("Camera track replace failed")
	}
	s.media.useCamera()
	log.Info().Msg("Screen share stopped")
	s.notifier.Notify(ctx, "Screen sharing stopped.")
	return nil
}
