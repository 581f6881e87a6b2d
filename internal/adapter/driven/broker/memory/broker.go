package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/rs/zerolog/log"
)

const eventBuffer = 256

var (
	ErrPeerUnavailable = errors.New("peer unavailable")
	errClosed          = errors.New("connection closed")
	errNotOpen         = errors.New("data channel not open")
)

// Exchange connects in-process brokers to each other. It stands in for a
// signaling server and the network in demo mode and tests.
type Exchange struct {
	mu    sync.Mutex
	peers map[domain.PeerID]*Broker
	next  int
}

func NewExchange() *Exchange {
	return &Exchange{peers: make(map[domain.PeerID]*Broker)}
}

// NewBroker returns a broker that will be given id on Register. An empty
// id is replaced by a generated one.
func (x *Exchange) NewBroker(id domain.PeerID) *Broker {
	return &Broker{x: x, want: id}
}

func (x *Exchange) join(b *Broker) domain.PeerID {
	x.mu.Lock()
	defer x.mu.Unlock()
	id := b.want
	for id == "" || x.peers[id] != nil {
		x.next++
		id = domain.PeerID(fmt.Sprintf("peer-%d", x.next))
	}
	x.peers[id] = b
	return id
}

func (x *Exchange) leave(id domain.PeerID, b *Broker) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.peers[id] == b {
		delete(x.peers, id)
	}
}

func (x *Exchange) lookup(id domain.PeerID) *Broker {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.peers[id]
}

// Broker implements port.Broker against an Exchange.
type Broker struct {
	x    *Exchange
	want domain.PeerID

	mu      sync.Mutex
	id      domain.PeerID
	events  chan port.Event
	done    chan struct{}
	media   map[*MediaConn]bool
	data    map[*DataConn]bool
	dials   int
}

func (b *Broker) Register(ctx context.Context, sink port.EventSink) error {
	b.mu.Lock()
	if b.done != nil {
		b.mu.Unlock()
		return nil
	}
	b.events = make(chan port.Event, eventBuffer)
	b.done = make(chan struct{})
	b.media = make(map[*MediaConn]bool)
	b.data = make(map[*DataConn]bool)
	events, done := b.events, b.done
	b.mu.Unlock()

	go deliver(events, done, sink)

	id := b.x.join(b)
	b.mu.Lock()
	b.id = id
	b.mu.Unlock()
	log.Debug().Str("local_id", id.String()).Msg("Memory broker registered")
	b.emit(port.Event{Kind: port.EventOpen, LocalID: id})
	return nil
}

func deliver(events chan port.Event, done chan struct{}, sink port.EventSink) {
	for {
		select {
		case ev := <-events:
			sink(ev)
		case <-done:
			for {
				select {
				case ev := <-events:
					sink(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Broker) emit(ev port.Event) {
	b.mu.Lock()
	events, done := b.events, b.done
	b.mu.Unlock()
	if events == nil {
		return
	}
	select {
	case events <- ev:
	case <-done:
	}
}

func (b *Broker) Destroy() error {
	b.mu.Lock()
	if b.done == nil {
		b.mu.Unlock()
		return nil
	}
	id := b.id
	media := keys(b.media)
	data := keys(b.data)
	b.mu.Unlock()

	for _, c := range media {
		c.Close()
	}
	for _, c := range data {
		c.Close()
	}
	b.x.leave(id, b)
	b.emit(port.Event{Kind: port.EventClosed})

	b.mu.Lock()
	close(b.done)
	b.events, b.done = nil, nil
	b.id = ""
	b.mu.Unlock()
	return nil
}

// Drop simulates a transport loss.
func (b *Broker) Drop() {
	b.emit(port.Event{Kind: port.EventDisconnected})
}

// Recover reports the registration open again under the same id.
func (b *Broker) Recover() {
	b.mu.Lock()
	id := b.id
	b.mu.Unlock()
	if id != "" {
		b.emit(port.Event{Kind: port.EventOpen, LocalID: id})
	}
}

func (b *Broker) LocalID() domain.PeerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}

// Dials reports how many media dials this broker started.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *Broker) Dial(ctx context.Context, remoteID domain.PeerID, stream port.LocalStream) (port.MediaConn, error) {
	b.mu.Lock()
	if b.done == nil {
		b.mu.Unlock()
		return nil, domain.ErrNotRegistered
	}
	local := b.id
	b.dials++
	b.mu.Unlock()

	c := &MediaConn{owner: b, id: domain.NewConnID(), peer: remoteID, stream: stream}
	b.track(c)

	remote := b.x.lookup(remoteID)
	if remote == nil {
		go c.fail(fmt.Errorf("%w: %s", ErrPeerUnavailable, remoteID))
		return c, nil
	}
	other := &MediaConn{owner: remote, id: domain.NewConnID(), peer: local, other: c}
	c.other = other
	remote.track(other)
	remote.emit(port.Event{Kind: port.EventIncomingCall, PeerID: local, Media: other})
	return c, nil
}

func (b *Broker) Connect(ctx context.Context, remoteID domain.PeerID) (port.DataConn, error) {
	b.mu.Lock()
	if b.done == nil {
		b.mu.Unlock()
		return nil, domain.ErrNotRegistered
	}
	local := b.id
	b.mu.Unlock()

	c := &DataConn{owner: b, id: domain.NewConnID(), peer: remoteID}
	b.trackData(c)

	remote := b.x.lookup(remoteID)
	if remote == nil {
		go c.fail(fmt.Errorf("%w: %s", ErrPeerUnavailable, remoteID))
		return c, nil
	}
	other := &DataConn{owner: remote, id: domain.NewConnID(), peer: local, other: c}
	c.other = other
	remote.trackData(other)
	remote.emit(port.Event{Kind: port.EventIncomingData, PeerID: local, Data: other})

	c.open()
	other.open()
	return c, nil
}

func (b *Broker) track(c *MediaConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.media != nil {
		b.media[c] = true
	}
}

func (b *Broker) trackData(c *DataConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data != nil {
		b.data[c] = true
	}
}

func (b *Broker) untrack(c *MediaConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.media, c)
}

func (b *Broker) untrackData(c *DataConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, c)
}

func keys[K comparable](m map[K]bool) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

type remoteStream struct {
	id string
}

func (s remoteStream) ID() string { return s.id }

func streamOf(s port.LocalStream, fallback domain.ConnID) port.RemoteStream {
	if s != nil {
		return remoteStream{id: s.ID()}
	}
	return remoteStream{id: "stream-" + fallback.String()}
}

// MediaConn is one side of an in-process call.
type MediaConn struct {
	owner *Broker
	id    domain.ConnID
	peer  domain.PeerID
	other *MediaConn

	mu       sync.Mutex
	stream   port.LocalStream
	answered bool
	closed   bool
	replaced []port.Track
}

func (c *MediaConn) ID() domain.ConnID { return c.id }

func (c *MediaConn) Peer() domain.PeerID { return c.peer }

// Answer accepts the call. Both sides then see the other's stream.
func (c *MediaConn) Answer(ctx context.Context, stream port.LocalStream) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	if c.answered || c.other == nil {
		c.mu.Unlock()
		return errors.New("nothing to answer")
	}
	c.answered = true
	c.stream = stream
	caller := c.other
	c.mu.Unlock()

	caller.mu.Lock()
	callerStream := caller.stream
	caller.mu.Unlock()

	caller.owner.emit(port.Event{Kind: port.EventMediaNegotiated, PeerID: caller.peer, Media: caller})
	caller.owner.emit(port.Event{Kind: port.EventMediaStream, PeerID: caller.peer, Media: caller, Stream: streamOf(stream, c.id)})
	c.owner.emit(port.Event{Kind: port.EventMediaStream, PeerID: c.peer, Media: c, Stream: streamOf(callerStream, caller.id)})
	return nil
}

func (c *MediaConn) ReplaceTrack(ctx context.Context, track port.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}
	c.replaced = append(c.replaced, track)
	return nil
}

// Replaced lists the tracks substituted on this connection, in order.
func (c *MediaConn) Replaced() []port.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]port.Track(nil), c.replaced...)
}

func (c *MediaConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	other := c.other
	c.mu.Unlock()

	c.owner.untrack(c)
	if other != nil {
		other.remoteClosed()
	}
	return nil
}

func (c *MediaConn) remoteClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.owner.untrack(c)
	c.owner.emit(port.Event{Kind: port.EventMediaClosed, PeerID: c.peer, Media: c})
}

func (c *MediaConn) fail(err error) {
	c.owner.emit(port.Event{Kind: port.EventMediaError, PeerID: c.peer, Media: c, Err: err})
}

// DataConn is one side of an in-process data channel.
type DataConn struct {
	owner *Broker
	id    domain.ConnID
	peer  domain.PeerID
	other *DataConn

	mu     sync.Mutex
	isOpen bool
	closed bool
}

func (c *DataConn) ID() domain.ConnID { return c.id }

func (c *DataConn) Peer() domain.PeerID { return c.peer }

func (c *DataConn) open() {
	c.mu.Lock()
	c.isOpen = true
	c.mu.Unlock()
	c.owner.emit(port.Event{Kind: port.EventDataOpen, PeerID: c.peer, Data: c})
}

func (c *DataConn) Send(payload []byte) error {
	c.mu.Lock()
	ok := c.isOpen && !c.closed
	other := c.other
	c.mu.Unlock()
	if !ok || other == nil {
		return errNotOpen
	}
	msg := append([]byte(nil), payload...)
	other.owner.emit(port.Event{Kind: port.EventDataMessage, PeerID: other.peer, Data: other, Payload: msg})
	return nil
}

func (c *DataConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	other := c.other
	c.mu.Unlock()

	c.owner.untrackData(c)
	if other != nil {
		other.remoteClosed()
	}
	return nil
}

func (c *DataConn) remoteClosed() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.owner.untrackData(c)
	c.owner.emit(port.Event{Kind: port.EventDataClosed, PeerID: c.peer, Data: c})
}

func (c *DataConn) fail(err error) {
	c.owner.emit(port.Event{Kind: port.EventDataError, PeerID: c.peer, Data: c, Err: err})
}
