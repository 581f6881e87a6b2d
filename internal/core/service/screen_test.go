package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
)

type screenEnv struct {
	*callEnv
	devices  *fakeDevices
	media    *MediaService
	screen   *ScreenShareService
	notifier *fakeNotifier
}

func newScreenEnv(t *testing.T) *screenEnv {
	t.Helper()
	e := &screenEnv{
		callEnv:  newCallEnv(t),
		devices:  &fakeDevices{},
		notifier: &fakeNotifier{},
	}
	e.media = NewMediaService(e.devices, e.notifier)
	e.media.SetRouter(e.calls)
	e.screen = NewScreenShareService(e.devices, e.media, e.calls, e.notifier)
	if _, err := e.media.Acquire(context.Background(), domain.DeviceSelection{}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	return e
}

func TestScreenShareNeedsConnectedPeers(t *testing.T) {
	e := newScreenEnv(t)

	err := e.screen.Start(context.Background())
	if !errors.Is(err, domain.ErrNoConnectedPeers) {
		t.Fatalf("got %v, want %v", err, domain.ErrNoConnectedPeers)
	}
	if !e.notifier.Has("Start a call before sharing your screen.") {
		t.Errorf("missing notice in %v", e.notifier.Notices())
	}
	if len(e.devices.Displays()) != 0 {
		t.Error("screen should not be captured without peers")
	}
	if e.screen.Sharing() {
		t.Error("sharing should stay off")
	}
}

func TestScreenShareReplacesBeforeSwitchingSource(t *testing.T) {
	e := newScreenEnv(t)

	var (
		mu      sync.Mutex
		sources []domain.VideoSource
	)
	var conns []*fakeMediaConn
	for _, id := range []domain.PeerID{"peerA", "peerB", "peerC"} {
		mc := e.connect(t, id)
		mc.onReplace = func(port.Track) {
			mu.Lock()
			sources = append(sources, e.media.State().ActiveVideoSource)
			mu.Unlock()
		}
		conns = append(conns, mc)
	}

	sharing, err := e.screen.Toggle(context.Background())
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if !sharing {
		t.Fatal("Toggle should report sharing")
	}

	screenTrack := e.devices.Displays()[0].Tracks()[0]
	for _, mc := range conns {
		replaced := mc.Replaced()
		if len(replaced) != 1 || replaced[0] != screenTrack {
			t.Fatalf("%s: got %d replacements, want the screen track once", mc.peer, len(replaced))
		}
	}
	mu.Lock()
	if len(sources) != 3 {
		t.Fatalf("got %d replace calls, want 3", len(sources))
	}
	for _, src := range sources {
		if src != domain.SourceCamera {
			t.Fatalf("source was %q during replace, want camera", src)
		}
	}
	mu.Unlock()

	if got := e.media.State().ActiveVideoSource; got != domain.SourceScreen {
		t.Fatalf("got source %q, want screen", got)
	}
	out := e.media.OutboundStream()
	if firstTrack(out, domain.TrackVideo) != screenTrack {
		t.Error("outbound video should be the screen")
	}
	if firstTrack(out, domain.TrackAudio) != e.media.MicrophoneTrack() {
		t.Error("outbound audio should stay the microphone")
	}
	if !e.notifier.Has("Screen sharing started.") {
		t.Errorf("missing notice in %v", e.notifier.Notices())
	}
}

func TestScreenShareStopRestoresCamera(t *testing.T) {
	e := newScreenEnv(t)
	mc := e.connect(t, "peerA")
	camera := firstTrack(e.media.OutboundStream(), domain.TrackVideo)

	if err := e.screen.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	screen := e.devices.Displays()[0].Tracks()[0].(*fakeTrack)

	sharing, err := e.screen.Toggle(context.Background())
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if sharing {
		t.Fatal("Toggle should report stopped")
	}

	replaced := mc.Replaced()
	if len(replaced) != 2 || replaced[1] != camera {
		t.Fatalf("got %v, want the camera restored", replaced)
	}
	if screen.Stops() != 1 {
		t.Errorf("screen track stopped %d times, want 1", screen.Stops())
	}
	if got := e.media.State().ActiveVideoSource; got != domain.SourceCamera {
		t.Errorf("got source %q, want camera", got)
	}
	if !e.notifier.Has("Screen sharing stopped.") {
		t.Errorf("missing notice in %v", e.notifier.Notices())
	}

	// Stopping again does nothing.
	if err := e.screen.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := len(mc.Replaced()); got != 2 {
		t.Errorf("got %d replacements after second stop, want 2", got)
	}
}

func TestScreenShareEndedBySystem(t *testing.T) {
	e := newScreenEnv(t)
	mc := e.connect(t, "peerA")

	if err := e.screen.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	screen := e.devices.Displays()[0].Tracks()[0].(*fakeTrack)
	screen.end()

	if e.screen.Sharing() {
		t.Fatal("sharing should stop when the capture ends")
	}
	if got := e.media.State().ActiveVideoSource; got != domain.SourceCamera {
		t.Errorf("got source %q, want camera", got)
	}
	if got := len(mc.Replaced()); got != 2 {
		t.Errorf("got %d replacements, want 2", got)
	}
}

func TestScreenShareReacquiresEndedCamera(t *testing.T) {
	e := newScreenEnv(t)
	mc := e.connect(t, "peerA")
	camera := firstTrack(e.media.OutboundStream(), domain.TrackVideo).(*fakeTrack)

	if err := e.screen.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	camera.end()
	if err := e.screen.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	restored := mc.Replaced()[1]
	if restored == port.Track(camera) {
		t.Fatal("ended camera track was sent again")
	}
	if restored.Kind() != domain.TrackVideo || restored.Ended() {
		t.Fatalf("got %v, want a live video track", restored)
	}
	if firstTrack(e.media.OutboundStream(), domain.TrackVideo) != restored {
		t.Error("outbound stream should carry the recaptured camera")
	}
}

func TestScreenCaptureFailure(t *testing.T) {
	e := newScreenEnv(t)
	e.connect(t, "peerA")
	e.devices.mu.Lock()
	e.devices.displayErr = domain.ErrPermissionDenied
	e.devices.mu.Unlock()

	if err := e.screen.Start(context.Background()); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("got %v, want %v", err, domain.ErrPermissionDenied)
	}
	if e.screen.Sharing() {
		t.Error("sharing should stay off")
	}
	if !e.notifier.Has("Screen share failed: Camera/microphone permission denied.") {
		t.Errorf("missing notice in %v", e.notifier.Notices())
	}
}
