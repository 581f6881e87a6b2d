package pion

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = 54 * time.Second
	sendBuffer        = 256
	eventBuffer       = 256
	maxReconnectDelay = 10 * time.Second
)

var (
	errDisconnected = errors.New("signaling connection down")
	errSendFull     = errors.New("signaling send buffer full")
)

type Config struct {
	URL            string
	ICEServers     []webrtc.ICEServer
	ReconnectDelay time.Duration
	Codecs         CodecRegistrar
}

// Broker implements port.Broker over a JSON websocket to a signaling
// broker, with one pion peer connection per media or data link.
type Broker struct {
	cfg    Config
	api    *webrtc.API
	dialer *websocket.Dialer

	mu  sync.Mutex
	reg *registration
}

func NewBroker(cfg Config) (*Broker, error) {
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("broker url: %w", err)
	}
	api, err := newAPI(cfg.Codecs)
	if err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 500 * time.Millisecond
	}
	return &Broker{
		cfg:    cfg,
		api:    api,
		dialer: websocket.DefaultDialer,
	}, nil
}

func (b *Broker) Register(ctx context.Context, sink port.EventSink) error {
	b.mu.Lock()
	if b.reg != nil {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	ws, err := b.dial(ctx, "")
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}

	r := &registration{
		broker: b,
		events: make(chan port.Event, eventBuffer),
		done:   make(chan struct{}),
		links:  make(map[domain.ConnID]peerLink),
	}
	b.mu.Lock()
	b.reg = r
	b.mu.Unlock()

	go r.deliver(sink)
	r.attach(ws)
	log.Info().Str("url", b.cfg.URL).Msg("Connected to signaling broker")
	return nil
}

func (b *Broker) Destroy() error {
	b.mu.Lock()
	r := b.reg
	b.reg = nil
	b.mu.Unlock()
	if r == nil {
		return nil
	}

	for _, l := range r.snapshotLinks() {
		if err := l.base().shutdown(true); err != nil {
			log.Debug().Err(err).Str("peer_id", l.base().peer.String()).Msg("Link close on destroy")
		}
	}
	r.emit(port.Event{Kind: port.EventClosed})
	close(r.done)
	return nil
}

func (b *Broker) Dial(ctx context.Context, remoteID domain.PeerID, stream port.LocalStream) (port.MediaConn, error) {
	r, err := b.current()
	if err != nil {
		return nil, err
	}
	pc, err := b.api.NewPeerConnection(b.configuration())
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	c := newMediaConn(r, domain.NewConnID(), remoteID, pc)
	if err := addStream(pc, stream); err != nil {
		pc.Close()
		return nil, err
	}
	r.track(c)
	if err := c.offer(); err != nil {
		c.shutdown(false)
		return nil, fmt.Errorf("offer to %s: %w", remoteID, err)
	}
	log.Debug().Str("peer_id", remoteID.String()).Str("conn_id", c.id.String()).Msg("Media offer sent")
	return c, nil
}

func (b *Broker) Connect(ctx context.Context, remoteID domain.PeerID) (port.DataConn, error) {
	r, err := b.current()
	if err != nil {
		return nil, err
	}
	pc, err := b.api.NewPeerConnection(b.configuration())
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	c := newDataConn(r, domain.NewConnID(), remoteID, pc)
	dc, err := pc.CreateDataChannel(chatLabel, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	c.attach(dc)
	r.track(c)
	if err := c.offer(); err != nil {
		c.shutdown(false)
		return nil, fmt.Errorf("offer to %s: %w", remoteID, err)
	}
	log.Debug().Str("peer_id", remoteID.String()).Str("conn_id", c.id.String()).Msg("Data offer sent")
	return c, nil
}

func (b *Broker) current() (*registration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reg == nil {
		return nil, domain.ErrNotRegistered
	}
	return b.reg, nil
}

func (b *Broker) configuration() webrtc.Configuration {
	return webrtc.Configuration{ICEServers: b.cfg.ICEServers}
}

// dial opens the broker websocket. A non-empty id asks the broker to hand
// the same id back after a transport drop.
func (b *Broker) dial(ctx context.Context, id domain.PeerID) (*websocket.Conn, error) {
	u, err := url.Parse(b.cfg.URL)
	if err != nil {
		return nil, err
	}
	if id != "" {
		q := u.Query()
		q.Set("id", id.String())
		u.RawQuery = q.Encode()
	}
	ws, _, err := b.dialer.DialContext(ctx, u.String(), nil)
	return ws, err
}

// accept handles an offer for a connection id this side has not seen.
func (b *Broker) accept(r *registration, from domain.PeerID, n negotiation) {
	l := log.With().Str("peer_id", from.String()).Str("conn_id", n.ConnectionID).Logger()

	pc, err := b.api.NewPeerConnection(b.configuration())
	if err != nil {
		l.Error().Err(err).Msg("Failed to create peer connection for offer")
		return
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: n.SDP}
	id := domain.ConnID(n.ConnectionID)

	switch n.Kind {
	case linkMedia:
		c := newMediaConn(r, id, from, pc)
		c.remoteOffer = &offer
		r.track(c)
		l.Info().Msg("Incoming call offer")
		r.emit(port.Event{Kind: port.EventIncomingCall, PeerID: from, Media: c})

	case linkData:
		// Data links are accepted without asking anyone.
		c := newDataConn(r, id, from, pc)
		pc.OnDataChannel(c.attach)
		r.track(c)
		if err := c.setRemote(offer); err != nil {
			l.Error().Err(err).Msg("Failed to apply data offer")
			c.shutdown(true)
			return
		}
		if err := c.answer(); err != nil {
			l.Error().Err(err).Msg("Failed to answer data offer")
			c.shutdown(true)
			return
		}
		r.emit(port.Event{Kind: port.EventIncomingData, PeerID: from, Data: c})

	default:
		l.Warn().Str("kind", string(n.Kind)).Msg("Offer of unknown kind ignored")
		pc.Close()
	}
}

// registration is one Register..Destroy lifetime. The websocket under it
// may be replaced by reconnects; the links and event queue survive them.
type registration struct {
	broker *Broker
	events chan port.Event
	done   chan struct{}

	mu      sync.Mutex
	send    chan []byte
	localID domain.PeerID
	links   map[domain.ConnID]peerLink
}

// emit queues ev for the sink. Events are delivered one at a time in
// emission order.
func (r *registration) emit(ev port.Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *registration) deliver(sink port.EventSink) {
	for {
		select {
		case ev := <-r.events:
			sink(ev)
		case <-r.done:
			for {
				select {
				case ev := <-r.events:
					sink(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *registration) signal(t SignalType, to domain.PeerID, n *negotiation) error {
	data, err := encodeSignal(t, to, n)
	if err != nil {
		return err
	}
	r.mu.Lock()
	send := r.send
	r.mu.Unlock()
	if send == nil {
		return errDisconnected
	}
	select {
	case send <- data:
		return nil
	default:
		return errSendFull
	}
}

func (r *registration) track(l peerLink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[l.base().id] = l
}

func (r *registration) forget(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.links, id)
}

func (r *registration) lookup(id domain.ConnID) (peerLink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	return l, ok
}

func (r *registration) snapshotLinks() []peerLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]peerLink, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, l)
	}
	return out
}

func (r *registration) attach(ws *websocket.Conn) {
	send := make(chan []byte, sendBuffer)
	stop := make(chan struct{})
	r.mu.Lock()
	r.send = send
	r.mu.Unlock()

	go r.writePump(ws, send, stop)
	go r.readPump(ws, stop)
}

func (r *registration) readPump(ws *websocket.Conn, stop chan struct{}) {
	defer func() {
		close(stop)
		ws.Close()
	}()

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-r.done:
				return
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Signaling connection lost")
			}
			r.mu.Lock()
			r.send = nil
			r.mu.Unlock()
			r.emit(port.Event{Kind: port.EventDisconnected})
			go r.reconnect()
			return
		}

		msg, err := decodeSignal(data)
		if err != nil {
			log.Warn().Err(err).Msg("Malformed signal dropped")
			continue
		}
		r.route(msg)
	}
}

func (r *registration) writePump(ws *websocket.Conn, send chan []byte, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case <-stop:
			return
		case <-r.done:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Msg("Failed to write signal")
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reconnect redials the broker with growing delays until it succeeds or
// the registration is destroyed.
func (r *registration) reconnect() {
	delay := r.broker.cfg.ReconnectDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-r.done:
			return
		case <-time.After(delay):
		}

		r.mu.Lock()
		id := r.localID
		r.mu.Unlock()

		ws, err := r.broker.dial(context.Background(), id)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Broker reconnect failed")
			delay = min(delay*2, maxReconnectDelay)
			continue
		}
		select {
		case <-r.done:
			ws.Close()
			return
		default:
		}
		r.attach(ws)
		log.Info().Int("attempt", attempt).Msg("Reconnected to signaling broker")
		return
	}
}

func (r *registration) route(msg SignalMessage) {
	from := domain.PeerID(msg.From)

	switch msg.Type {
	case SignalOpen:
		id := domain.PeerID(msg.To)
		r.mu.Lock()
		r.localID = id
		r.mu.Unlock()
		r.emit(port.Event{Kind: port.EventOpen, LocalID: id})
		return

	case SignalError:
		n, err := msg.negotiation()
		if err != nil {
			r.emit(port.Event{Kind: port.EventBrokerError, PeerID: from, Err: errors.New(msg.Error)})
			return
		}
		if l, ok := r.lookup(domain.ConnID(n.ConnectionID)); ok {
			l.onFailure(errors.New(msg.Error))
		}
		return
	}

	n, err := msg.negotiation()
	if err != nil {
		log.Warn().Err(err).Str("type", string(msg.Type)).Msg("Signal dropped")
		return
	}
	id := domain.ConnID(n.ConnectionID)
	l, known := r.lookup(id)

	switch msg.Type {
	case SignalOffer:
		if known {
			log.Debug().Str("conn_id", n.ConnectionID).Msg("Duplicate offer ignored")
			return
		}
		r.broker.accept(r, from, n)

	case SignalAnswer:
		if !known {
			return
		}
		if err := l.onAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: n.SDP}); err != nil {
			log.Error().Err(err).Str("peer_id", from.String()).Msg("Failed to apply answer")
			l.onFailure(err)
		}

	case SignalCandidate:
		if !known || n.Candidate == nil {
			return
		}
		l.base().addRemoteCandidate(*n.Candidate)

	case SignalLeave:
		if known {
			l.onRemoteClose()
		}

	default:
		log.Debug().Str("type", string(msg.Type)).Msg("Unknown signal type")
	}
}
