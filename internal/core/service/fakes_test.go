package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
)

var fakeSeq atomic.Int64

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, fakeSeq.Add(1))
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type fakeTrack struct {
	id   string
	kind domain.TrackKind

	mu      sync.Mutex
	enabled bool
	ended   bool
	stops   int
	onEnded []func()
}

func newFakeTrack(kind domain.TrackKind) *fakeTrack {
	return &fakeTrack{id: nextID(string(kind)), kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
	t.end()
}

func (t *fakeTrack) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

func (t *fakeTrack) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func (t *fakeTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

// end is the capture source going away, e.g. the user closing a shared
// window from the operating system.
func (t *fakeTrack) end() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	fns := t.onEnded
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type fakeStream struct {
	id     string
	tracks []port.Track
}

func newFakeStream(tracks ...port.Track) *fakeStream {
	return &fakeStream{id: nextID("stream"), tracks: tracks}
}

func (s *fakeStream) ID() string                { return s.id }
func (s *fakeStream) Tracks() []port.Track      { return s.tracks }
func (s *fakeStream) AudioTracks() []port.Track { return tracksOf(s.tracks, domain.TrackAudio) }
func (s *fakeStream) VideoTracks() []port.Track { return tracksOf(s.tracks, domain.TrackVideo) }

type fakeAnalyser struct {
	mu      sync.Mutex
	samples []float64
	closed  bool
}

func (a *fakeAnalyser) Read(buf []float64) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, fmt.Errorf("analyser closed")
	}
	return copy(buf, a.samples), nil
}

func (a *fakeAnalyser) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *fakeAnalyser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

type fakeDevices struct {
	mu         sync.Mutex
	videoErr   error
	audioErr   error
	displayErr error
	devices    []domain.Device
	samples    []float64
	requests   []domain.Constraints
	captured   []*fakeStream
	displays   []*fakeStream
	analysers  []*fakeAnalyser
	tapped     []port.Track

	// gate, when set, holds GetUserMedia until closed; entered is
	// signalled once a call is waiting on it.
	gate    chan struct{}
	entered chan struct{}
}

func (d *fakeDevices) EnumerateDevices(ctx context.Context) ([]domain.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devices, nil
}

func (d *fakeDevices) GetUserMedia(ctx context.Context, c domain.Constraints) (port.LocalStream, error) {
	d.mu.Lock()
	gate, entered := d.gate, d.entered
	d.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, c)
	if c.Video && d.videoErr != nil {
		return nil, d.videoErr
	}
	if c.Audio && d.audioErr != nil {
		return nil, d.audioErr
	}
	var tracks []port.Track
	if c.Audio {
		tracks = append(tracks, newFakeTrack(domain.TrackAudio))
	}
	if c.Video {
		tracks = append(tracks, newFakeTrack(domain.TrackVideo))
	}
	s := newFakeStream(tracks...)
	d.captured = append(d.captured, s)
	return s, nil
}

func (d *fakeDevices) GetDisplayMedia(ctx context.Context) (port.LocalStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.displayErr != nil {
		return nil, d.displayErr
	}
	s := newFakeStream(newFakeTrack(domain.TrackVideo))
	d.displays = append(d.displays, s)
	return s, nil
}

func (d *fakeDevices) NewAnalyser(track port.Track) (port.AudioAnalyser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a := &fakeAnalyser{samples: append([]float64(nil), d.samples...)}
	d.analysers = append(d.analysers, a)
	d.tapped = append(d.tapped, track)
	return a, nil
}

// Tapped lists the tracks analysers were opened on, in order.
func (d *fakeDevices) Tapped() []port.Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]port.Track(nil), d.tapped...)
}

func (d *fakeDevices) Analysers() []*fakeAnalyser {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeAnalyser(nil), d.analysers...)
}

func (d *fakeDevices) Requests() []domain.Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.Constraints(nil), d.requests...)
}

func (d *fakeDevices) Captured() []*fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeStream(nil), d.captured...)
}

func (d *fakeDevices) Displays() []*fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeStream(nil), d.displays...)
}

type fakeRemote string

func (r fakeRemote) ID() string { return string(r) }

type fakeMediaConn struct {
	id   domain.ConnID
	peer domain.PeerID

	mu         sync.Mutex
	answers    []port.LocalStream
	replaced   []port.Track
	closed     bool
	answerErr  error
	replaceErr error
	onReplace  func(port.Track)
}

func (c *fakeMediaConn) ID() domain.ConnID   { return c.id }
func (c *fakeMediaConn) Peer() domain.PeerID { return c.peer }

func (c *fakeMediaConn) Answer(ctx context.Context, stream port.LocalStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerErr != nil {
		return c.answerErr
	}
	c.answers = append(c.answers, stream)
	return nil
}

func (c *fakeMediaConn) ReplaceTrack(ctx context.Context, track port.Track) error {
	c.mu.Lock()
	hook, err := c.onReplace, c.replaceErr
	if err == nil {
		c.replaced = append(c.replaced, track)
	}
	c.mu.Unlock()
	if hook != nil {
		hook(track)
	}
	return err
}

func (c *fakeMediaConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeMediaConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeMediaConn) Replaced() []port.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]port.Track(nil), c.replaced...)
}

func (c *fakeMediaConn) Answers() []port.LocalStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]port.LocalStream(nil), c.answers...)
}

type fakeDataConn struct {
	id   domain.ConnID
	peer domain.PeerID

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (c *fakeDataConn) ID() domain.ConnID   { return c.id }
func (c *fakeDataConn) Peer() domain.PeerID { return c.peer }

func (c *fakeDataConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, payload)
	return nil
}

func (c *fakeDataConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeDataConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *fakeDataConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeBroker struct {
	mu          sync.Mutex
	registerErr error
	sinks       []port.EventSink
	destroyed   int
	dials       []*fakeMediaConn
	conns       []*fakeDataConn
}

func (b *fakeBroker) Register(ctx context.Context, sink port.EventSink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.registerErr != nil {
		return b.registerErr
	}
	b.sinks = append(b.sinks, sink)
	return nil
}

func (b *fakeBroker) Dial(ctx context.Context, remoteID domain.PeerID, stream port.LocalStream) (port.MediaConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &fakeMediaConn{id: domain.NewConnID(), peer: remoteID}
	b.dials = append(b.dials, c)
	return c, nil
}

func (b *fakeBroker) Connect(ctx context.Context, remoteID domain.PeerID) (port.DataConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &fakeDataConn{id: domain.NewConnID(), peer: remoteID}
	b.conns = append(b.conns, c)
	return c, nil
}

func (b *fakeBroker) Destroy() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroyed++
	return nil
}

// emit delivers ev to the latest registration.
func (b *fakeBroker) emit(ev port.Event) {
	b.mu.Lock()
	sink := b.sinks[len(b.sinks)-1]
	b.mu.Unlock()
	sink(ev)
}

func (b *fakeBroker) Registrations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sinks)
}

func (b *fakeBroker) Destroyed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

func (b *fakeBroker) Sink(i int) port.EventSink {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sinks[i]
}

func (b *fakeBroker) DialsTo(peer domain.PeerID) []*fakeMediaConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*fakeMediaConn
	for _, c := range b.dials {
		if c.peer == peer {
			out = append(out, c)
		}
	}
	return out
}

func (b *fakeBroker) LastDial(t *testing.T, peer domain.PeerID) *fakeMediaConn {
	t.Helper()
	dials := b.DialsTo(peer)
	if len(dials) == 0 {
		t.Fatalf("no dial to %s", peer)
	}
	return dials[len(dials)-1]
}

func (b *fakeBroker) LastConn(t *testing.T, peer domain.PeerID) *fakeDataConn {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.conns) - 1; i >= 0; i-- {
		if b.conns[i].peer == peer {
			return b.conns[i]
		}
	}
	t.Fatalf("no data connection to %s", peer)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []string
	from    []domain.PeerID
	payload []string
}

func (n *fakeNotifier) Notify(ctx context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, text)
}

func (n *fakeNotifier) Receive(ctx context.Context, from domain.PeerID, payload []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.from = append(n.from, from)
	n.payload = append(n.payload, string(payload))
}

func (n *fakeNotifier) Notices() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.notices...)
}

func (n *fakeNotifier) Has(text string) bool {
	for _, s := range n.Notices() {
		if s == text {
			return true
		}
	}
	return false
}

func (n *fakeNotifier) HasPrefix(prefix string) bool {
	for _, s := range n.Notices() {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

type fakeOutbound struct {
	mu     sync.Mutex
	stream port.LocalStream
}

func (o *fakeOutbound) OutboundStream() port.LocalStream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stream
}

type fakeRepo struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (r *fakeRepo) Save(ctx context.Context, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *fakeRepo) List(ctx context.Context) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Message(nil), r.msgs...), nil
}

type fakeGateway struct {
	mu    sync.Mutex
	msgs  []domain.Message
	snaps []domain.SessionSnapshot
}

func (g *fakeGateway) BroadcastMessage(ctx context.Context, msg domain.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.msgs = append(g.msgs, msg)
	return nil
}

func (g *fakeGateway) BroadcastSnapshot(ctx context.Context, snap domain.SessionSnapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snaps = append(g.snaps, snap)
	return nil
}

func (g *fakeGateway) Messages() []domain.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Message(nil), g.msgs...)
}

func (g *fakeGateway) LastSnapshot() (domain.SessionSnapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.snaps) == 0 {
		return domain.SessionSnapshot{}, false
	}
	return g.snaps[len(g.snaps)-1], true
}

type fakeIdentity domain.PeerID

func (i fakeIdentity) LocalID() domain.PeerID { return domain.PeerID(i) }
