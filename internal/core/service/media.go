package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/rs/zerolog/log"
)

const (
	captureWidth  = 1280
	captureHeight = 720
)

// TrackRouter substitutes a track on every connected peer.
type TrackRouter interface {
	ReplaceTrack(ctx context.Context, track port.Track) (int, error)
}

// MediaService owns local capture: the camera+microphone stream, mute and
// camera-off flags, device selection and which source feeds outbound video.
type MediaService struct {
	devices  port.MediaDevices
	notifier Notifier

	mu           sync.Mutex
	initializing bool
	camera       port.LocalStream
	outbound     port.LocalStream
	source       domain.VideoSource
	muted        bool
	cameraOff    bool
	selection    domain.DeviceSelection
	known        []domain.Device
	router       TrackRouter
	onChange     func()
}

func NewMediaService(devices port.MediaDevices, notifier Notifier) *MediaService {
	return &MediaService{
		devices:  devices,
		notifier: notifier,
		source:   domain.SourceCamera,
	}
}

func (s *MediaService) SetRouter(router TrackRouter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.router = router
}

func (s *MediaService) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Acquire captures camera and microphone, falling back to audio only. A
// second call after success returns the existing state.
func (s *MediaService) Acquire(ctx context.Context, sel domain.DeviceSelection) (domain.LocalMediaState, error) {
	s.mu.Lock()
	if s.camera != nil {
		st := s.stateLocked()
		s.mu.Unlock()
		return st, nil
	}
	if s.initializing {
		s.mu.Unlock()
		return domain.LocalMediaState{}, domain.ErrAcquireInProgress
	}
	s.initializing = true
	if sel.AudioDeviceID != "" || sel.VideoDeviceID != "" {
		s.selection = sel
	}
	sel = s.selection
	s.mu.Unlock()

	stream, err := s.capture(ctx, sel)

	s.mu.Lock()
	s.initializing = false
	if err != nil {
		s.mu.Unlock()
		var derr *domain.DeviceError
		if errors.As(err, &derr) {
			s.notifier.Notify(ctx, "Cannot start local media: "+derr.UserMessage())
		}
		return domain.LocalMediaState{}, err
	}
	s.camera = stream
	s.outbound = stream
	s.source = domain.SourceCamera
	s.muted, s.cameraOff = false, false
	st := s.stateLocked()
	s.mu.Unlock()

	log.Info().Bool("video", st.HasCamera).Bool("audio", st.HasMicrophone).Msg("Local media acquired")
	s.changed()
	return st, nil
}

func (s *MediaService) capture(ctx context.Context, sel domain.DeviceSelection) (port.LocalStream, error) {
	stream, err := s.devices.GetUserMedia(ctx, domain.Constraints{
		Audio:         true,
		Video:         true,
		AudioDeviceID: sel.AudioDeviceID,
		VideoDeviceID: sel.VideoDeviceID,
		Width:         captureWidth,
		Height:        captureHeight,
	})
	if err == nil {
		enableAll(stream)
		return stream, nil
	}
	log.Warn().Err(err).Msg("Camera+microphone capture failed, trying audio only")

	stream, aerr := s.devices.GetUserMedia(ctx, domain.Constraints{
		Audio:         true,
		AudioDeviceID: sel.AudioDeviceID,
	})
	if aerr == nil {
		enableAll(stream)
		s.notifier.Notify(ctx, "Camera unavailable, continuing with audio only.")
		return stream, nil
	}
	log.Error().Err(aerr).Msg("Audio-only capture failed")
	return nil, domain.NewDeviceError(errors.Join(err, aerr))
}

func enableAll(stream port.LocalStream) {
	for _, t := range stream.Tracks() {
		if !t.Enabled() {
			t.SetEnabled(true)
		}
	}
}

// ToggleMute flips the enabled flag of every microphone track. Peers keep
// receiving the audio transport, only silent.
func (s *MediaService) ToggleMute() (bool, error) {
	s.mu.Lock()
	if s.camera == nil || len(s.camera.AudioTracks()) == 0 {
		s.mu.Unlock()
		return false, domain.ErrNoLocalMedia
	}
	s.muted = !s.muted
	for _, t := range s.camera.AudioTracks() {
		t.SetEnabled(!s.muted)
	}
	muted := s.muted
	s.mu.Unlock()

	log.Debug().Bool("muted", muted).Msg("Microphone toggled")
	s.changed()
	return muted, nil
}

func (s *MediaService) ToggleCamera() (bool, error) {
	s.mu.Lock()
	if s.camera == nil || len(s.camera.VideoTracks()) == 0 {
		s.mu.Unlock()
		return false, domain.ErrNoLocalMedia
	}
	s.cameraOff = !s.cameraOff
	for _, t := range s.camera.VideoTracks() {
		t.SetEnabled(!s.cameraOff)
	}
	off := s.cameraOff
	s.mu.Unlock()

	log.Debug().Bool("camera_off", off).Msg("Camera toggled")
	s.changed()
	return off, nil
}

func (s *MediaService) EnumerateDevices(ctx context.Context) ([]domain.Device, error) {
	devices, err := s.devices.EnumerateDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	s.mu.Lock()
	s.known = devices
	for _, d := range devices {
		switch {
		case d.Kind == domain.DeviceAudioInput && s.selection.AudioDeviceID == "":
			s.selection.AudioDeviceID = d.ID
		case d.Kind == domain.DeviceVideoInput && s.selection.VideoDeviceID == "":
			s.selection.VideoDeviceID = d.ID
		}
	}
	s.mu.Unlock()
	return devices, nil
}

// SelectDevice switches the capture device for kind. When media is live the
// old stream is stopped before the new one is captured, and the new tracks
// are routed to every connected peer.
func (s *MediaService) SelectDevice(ctx context.Context, kind domain.DeviceKind, id string) error {
	s.mu.Lock()
	switch kind {
	case domain.DeviceAudioInput:
		s.selection.AudioDeviceID = id
	case domain.DeviceVideoInput:
		s.selection.VideoDeviceID = id
	default:
		s.mu.Unlock()
		return fmt.Errorf("unknown device kind %q", kind)
	}
	if s.camera == nil {
		s.mu.Unlock()
		return nil
	}
	if s.initializing {
		s.mu.Unlock()
		return domain.ErrAcquireInProgress
	}
	s.initializing = true
	old := s.camera
	sel := s.selection
	s.mu.Unlock()

	stopStream(old)
	stream, err := s.capture(ctx, sel)

	s.mu.Lock()
	s.initializing = false
	if err != nil {
		s.camera = nil
		if s.source == domain.SourceCamera {
			s.outbound = nil
		}
		s.mu.Unlock()
		s.changed()
		return fmt.Errorf("select %s device: %w", kind, err)
	}
	for _, t := range stream.AudioTracks() {
		t.SetEnabled(!s.muted)
	}
	for _, t := range stream.VideoTracks() {
		t.SetEnabled(!s.cameraOff)
	}
	s.camera = stream
	routed := stream.AudioTracks()
	if s.source == domain.SourceCamera {
		s.outbound = stream
		routed = stream.Tracks()
	} else {
		s.outbound = NewCompositeStream(append(s.outbound.VideoTracks(), stream.AudioTracks()...)...)
	}
	router := s.router
	s.mu.Unlock()

	if router != nil {
		for _, t := range routed {
			if _, err := router.ReplaceTrack(ctx, t); err != nil {
				log.Warn().Err(err).Str("kind", string(t.Kind())).Msg("Failed to route new device track")
			}
		}
	}
	log.Info().Str("kind", string(kind)).Str("device_id", id).Msg("Capture device switched")
	s.changed()
	return nil
}

// cameraVideo returns a live camera video track, capturing a fresh one when
// the retained track has ended.
func (s *MediaService) cameraVideo(ctx context.Context) (port.Track, error) {
	s.mu.Lock()
	if t := firstTrack(s.camera, domain.TrackVideo); t != nil && !t.Ended() {
		s.mu.Unlock()
		return t, nil
	}
	sel := s.selection
	s.mu.Unlock()

	stream, err := s.devices.GetUserMedia(ctx, domain.Constraints{
		Video:         true,
		VideoDeviceID: sel.VideoDeviceID,
		Width:         captureWidth,
		Height:        captureHeight,
	})
	if err != nil {
		return nil, domain.NewDeviceError(err)
	}
	video := firstTrack(stream, domain.TrackVideo)
	if video == nil {
		stopStream(stream)
		return nil, domain.NewDeviceError(domain.ErrDeviceUnavailable)
	}

	s.mu.Lock()
	video.SetEnabled(!s.cameraOff)
	var mic []port.Track
	if s.camera != nil {
		mic = s.camera.AudioTracks()
	}
	s.camera = NewCompositeStream(append([]port.Track{video}, mic...)...)
	s.mu.Unlock()
	return video, nil
}

// useScreen makes screen the outbound video and returns the local preview:
// the screen track plus the existing microphone track.
func (s *MediaService) useScreen(screen port.Track) port.LocalStream {
	s.mu.Lock()
	var mic []port.Track
	if s.camera != nil {
		mic = s.camera.AudioTracks()
	}
	preview := NewCompositeStream(append([]port.Track{screen}, mic...)...)
	s.outbound = preview
	s.source = domain.SourceScreen
	s.mu.Unlock()
	s.changed()
	return preview
}

func (s *MediaService) useCamera() {
	s.mu.Lock()
	s.outbound = s.camera
	s.source = domain.SourceCamera
	s.mu.Unlock()
	s.changed()
}

// OutboundStream is the stream peers receive: the camera stream, or the
// screen composite while sharing.
func (s *MediaService) OutboundStream() port.LocalStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbound
}

func (s *MediaService) MicrophoneTrack() port.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return firstTrack(s.camera, domain.TrackAudio)
}

func (s *MediaService) State() domain.LocalMediaState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *MediaService) stateLocked() domain.LocalMediaState {
	return domain.LocalMediaState{
		HasCamera:         firstTrack(s.camera, domain.TrackVideo) != nil,
		HasMicrophone:     firstTrack(s.camera, domain.TrackAudio) != nil,
		IsMuted:           s.muted,
		IsCameraOff:       s.cameraOff,
		ActiveVideoSource: s.source,
		Selection:         s.selection,
	}
}

// Shutdown stops every captured track.
func (s *MediaService) Shutdown() {
	s.mu.Lock()
	camera, outbound := s.camera, s.outbound
	s.camera, s.outbound = nil, nil
	s.source = domain.SourceCamera
	s.muted, s.cameraOff = false, false
	s.mu.Unlock()

	stopStream(camera)
	stopStream(outbound)
	log.Info().Msg("Local media released")
	s.changed()
}

func (s *MediaService) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
