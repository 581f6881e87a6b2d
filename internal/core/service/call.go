package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

type CallConfig struct {
	StreamTimeout time.Duration
	RetryDelay    time.Duration
	RetryLimit    int
}

func DefaultCallConfig() CallConfig {
	return CallConfig{
		StreamTimeout: 10 * time.Second,
		RetryDelay:    800 * time.Millisecond,
		RetryLimit:    2,
	}
}

// OutboundMedia supplies the stream new dials and answers send.
type OutboundMedia interface {
	OutboundStream() port.LocalStream
}

// CallSnapshot is the call part of domain.SessionSnapshot.
type CallSnapshot struct {
	Peers               []domain.PeerRecord
	ConnectedPeersCount int
	PendingIncomingCall domain.PeerID
	DurationSeconds     int
}

type record struct {
	seq       uint64
	peer      domain.PeerID
	dir       domain.Direction
	state     domain.MediaState
	dataState domain.DataChannelState
	media     port.MediaConn
	data      port.DataConn
	stream    port.RemoteStream
	retries   int

	watchdog   *clock.Timer
	retryTimer *clock.Timer
}

func (r *record) view() domain.PeerRecord {
	v := domain.PeerRecord{
		PeerID:           r.peer,
		Direction:        r.dir,
		MediaState:       r.state,
		DataChannelState: r.dataState,
		RetryCount:       r.retries,
	}
	if r.stream != nil {
		v.RemoteStreamID = r.stream.ID()
	}
	return v
}

func (r *record) stopTimers() {
	if r.watchdog != nil {
		r.watchdog.Stop()
		r.watchdog = nil
	}
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
}

// closeConns requests close on both connections and forgets them, so any
// event they emit afterwards is stale.
func (r *record) closeConns() {
	if r.media != nil {
		if err := r.media.Close(); err != nil {
			log.Debug().Err(err).Str("peer_id", r.peer.String()).Msg("Media close")
		}
		r.media = nil
	}
	if r.data != nil {
		if err := r.data.Close(); err != nil {
			log.Debug().Err(err).Str("peer_id", r.peer.String()).Msg("Data close")
		}
		r.data = nil
	}
	r.stream = nil
}

// CallService owns every peer record. All mutations run on the Run loop,
// one action at a time, so records need no locking.
type CallService struct {
	broker port.Broker
	media  OutboundMedia
	inbox  Inbox
	clock  clock.Clock
	cfg    CallConfig

	actions chan func()
	quit    chan struct{}

	peers     map[domain.PeerID]*record
	seq       uint64
	pending   domain.PeerID
	connected int
	duration  int
	ticker    *clock.Ticker
	tickStop  chan struct{}
	onChange  func(CallSnapshot)
}

func NewCallService(broker port.Broker, media OutboundMedia, inbox Inbox, clk clock.Clock, cfg CallConfig) *CallService {
	return &CallService{
		broker:  broker,
		media:   media,
		inbox:   inbox,
		clock:   clk,
		cfg:     cfg,
		actions: make(chan func(), 256),
		quit:    make(chan struct{}),
		peers:   make(map[domain.PeerID]*record),
	}
}

// OnChange registers fn to receive a snapshot after every state change.
// fn runs on the loop and must not call back into the service.
func (s *CallService) OnChange(fn func(CallSnapshot)) {
	s.onChange = fn
}

func (s *CallService) Run() {
	for {
		select {
		case <-s.quit:
			s.teardown()
			return
		case fn := <-s.actions:
			fn()
		}
	}
}

func (s *CallService) Stop() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
}

func (s *CallService) do(fn func()) error {
	select {
	case <-s.quit:
		return domain.ErrSessionStopped
	default:
	}
	done := make(chan struct{})
	select {
	case s.actions <- func() { fn(); close(done) }:
	case <-s.quit:
		return domain.ErrSessionStopped
	}
	select {
	case <-done:
		return nil
	case <-s.quit:
		return domain.ErrSessionStopped
	}
}

func (s *CallService) post(fn func()) {
	select {
	case s.actions <- fn:
	case <-s.quit:
	}
}

// HandleEvent queues a broker event for the loop.
func (s *CallService) HandleEvent(ev port.Event) {
	s.post(func() { s.handle(ev) })
}

// CallPeers dials every id that has no active record yet. Dials already in
// flight or connected are left alone.
func (s *CallService) CallPeers(ctx context.Context, ids []domain.PeerID) error {
	return s.do(func() {
		for _, id := range ids {
			if id == "" {
				continue
			}
			if r, ok := s.peers[id]; ok && (r.state.Active() || r.media != nil) {
				log.Debug().Str("peer_id", id.String()).Str("state", string(r.state)).Msg("Dial skipped, peer already active")
				continue
			}
			s.dial(ctx, id, 0)
		}
		s.changed()
	})
}

func (s *CallService) dial(ctx context.Context, id domain.PeerID, retries int) {
	l := log.With().Str("peer_id", id.String()).Int("retry", retries).Logger()

	mc, err := s.broker.Dial(ctx, id, s.media.OutboundStream())
	if err != nil {
		l.Error().Err(err).Msg("Failed to start call")
		s.notify(fmt.Sprintf("Failed to start call to %s", id))
		return
	}

	r := s.newRecord(id, domain.Outbound)
	r.retries = retries
	r.state = domain.MediaDialing
	r.media = mc
	if old, ok := s.peers[id]; ok && old.data != nil {
		r.data, r.dataState = old.data, old.dataState
	}
	s.peers[id] = r
	r.watchdog = s.clock.AfterFunc(s.cfg.StreamTimeout, func() {
		s.post(func() { s.onWatchdog(r) })
	})
	l.Info().Msg("Outgoing call initiated")

	if r.data != nil {
		return
	}
	dc, err := s.broker.Connect(ctx, id)
	if err != nil {
		l.Error().Err(err).Msg("Failed to create data connection")
		s.notify(fmt.Sprintf("Failed to connect data channel to %s", id))
		return
	}
	r.data = dc
	r.dataState = domain.DataOpening
}

func (s *CallService) newRecord(id domain.PeerID, dir domain.Direction) *record {
	s.seq++
	return &record{
		seq:       s.seq,
		peer:      id,
		dir:       dir,
		state:     domain.MediaIdle,
		dataState: domain.DataIdle,
	}
}

func (s *CallService) onWatchdog(r *record) {
	if s.peers[r.peer] != r || (r.state != domain.MediaDialing && r.state != domain.MediaAwaiting) {
		return
	}
	r.watchdog = nil
	r.retries++
	r.closeConns()
	r.dataState = domain.DataIdle

	l := log.With().Str("peer_id", r.peer.String()).Int("retry", r.retries).Logger()
	if r.retries <= s.cfg.RetryLimit {
		l.Warn().Msg("No remote stream before timeout, retrying")
		r.state = domain.MediaDialing
		s.notify(fmt.Sprintf("Awaiting Signal: no media from %s yet. Retrying (%d/%d)...", r.peer, r.retries, s.cfg.RetryLimit))
		r.retryTimer = s.clock.AfterFunc(s.cfg.RetryDelay, func() {
			s.post(func() { s.onRetry(r) })
		})
	} else {
		l.Warn().Msg("No remote stream after retries, giving up")
		r.state = domain.MediaFailed
		delete(s.peers, r.peer)
		s.notify(fmt.Sprintf("Awaiting Signal: no media from %s after retries. Network / relay may be blocked.", r.peer))
	}
	s.changed()
}

func (s *CallService) onRetry(r *record) {
	if s.peers[r.peer] != r {
		return
	}
	r.retryTimer = nil
	r.state = domain.MediaClosed
	delete(s.peers, r.peer)
	s.dial(context.Background(), r.peer, r.retries)
	s.changed()
}

func (s *CallService) handle(ev port.Event) {
	switch ev.Kind {
	case port.EventIncomingCall:
		s.onIncomingCall(ev)
	case port.EventIncomingData:
		s.onIncomingData(ev)
	case port.EventMediaNegotiated:
		if r := s.byMedia(ev); r != nil && r.state == domain.MediaDialing {
			r.state = domain.MediaAwaiting
			s.changed()
		}
	case port.EventMediaStream:
		s.onStream(ev)
	case port.EventMediaClosed, port.EventMediaError:
		r := s.byMedia(ev)
		if r == nil {
			return
		}
		if ev.Kind == port.EventMediaError {
			log.Error().Err(ev.Err).Str("peer_id", r.peer.String()).Msg("Call error")
			s.notify(fmt.Sprintf("Call error with %s", r.peer))
		}
		s.remove(r)
	case port.EventDataOpen:
		if r := s.byData(ev); r != nil {
			r.dataState = domain.DataOpen
			s.changed()
		}
	case port.EventDataMessage:
		s.inbox.Receive(context.Background(), ev.PeerID, ev.Payload)
	case port.EventDataClosed, port.EventDataError:
		r := s.byData(ev)
		if r == nil {
			return
		}
		if ev.Kind == port.EventDataError {
			log.Error().Err(ev.Err).Str("peer_id", r.peer.String()).Msg("Data channel error")
			s.notify(fmt.Sprintf("Data channel error with %s", r.peer))
		}
		s.remove(r)
	default:
		log.Debug().Str("kind", string(ev.Kind)).Msg("Unhandled broker event")
	}
}

func (s *CallService) byMedia(ev port.Event) *record {
	r, ok := s.peers[ev.PeerID]
	if !ok || ev.Media == nil || r.media != ev.Media {
		return nil
	}
	return r
}

func (s *CallService) byData(ev port.Event) *record {
	r, ok := s.peers[ev.PeerID]
	if !ok || ev.Data == nil || r.data != ev.Data {
		return nil
	}
	return r
}

func (s *CallService) onIncomingCall(ev port.Event) {
	id := ev.PeerID
	l := log.With().Str("peer_id", id.String()).Logger()

	if r, ok := s.peers[id]; (ok && r.media != nil) || s.pending == id {
		l.Warn().Msg("Duplicate incoming call ignored")
		if ev.Media != nil && (!ok || r.media != ev.Media) {
			if err := ev.Media.Close(); err != nil {
				l.Debug().Err(err).Msg("Close of duplicate call")
			}
		}
		return
	}
	if s.pending != "" {
		l.Warn().Str("pending", s.pending.String()).Msg("Incoming call while another is pending")
		if err := ev.Media.Close(); err != nil {
			l.Debug().Err(err).Msg("Close of unadmitted call")
		}
		s.notify(fmt.Sprintf("Missed call from %s: another incoming call is waiting", id))
		return
	}

	r, ok := s.peers[id]
	if !ok {
		r = s.newRecord(id, domain.Inbound)
		s.peers[id] = r
	}
	r.dir = domain.Inbound
	r.media = ev.Media
	s.pending = id
	l.Info().Msg("Incoming call")
	s.notify(fmt.Sprintf("Incoming call from %s", id))
	s.changed()
}

func (s *CallService) onIncomingData(ev port.Event) {
	r, ok := s.peers[ev.PeerID]
	if !ok {
		r = s.newRecord(ev.PeerID, domain.Inbound)
		s.peers[ev.PeerID] = r
	}
	if r.data != nil && r.data != ev.Data {
		if err := r.data.Close(); err != nil {
			log.Debug().Err(err).Str("peer_id", ev.PeerID.String()).Msg("Close of replaced data connection")
		}
	}
	r.data = ev.Data
	r.dataState = domain.DataOpening
	log.Debug().Str("peer_id", ev.PeerID.String()).Msg("Incoming data connection")
	s.changed()
}

func (s *CallService) onStream(ev port.Event) {
	r := s.byMedia(ev)
	if r == nil || ev.Stream == nil {
		return
	}
	r.stream = ev.Stream
	switch r.state {
	case domain.MediaDialing, domain.MediaAwaiting:
		r.stopTimers()
		r.state = domain.MediaConnected
		r.retries = 0
		if s.pending == r.peer {
			s.pending = ""
		}
		log.Info().Str("peer_id", r.peer.String()).Msg("Remote stream connected")
		s.recount()
	case domain.MediaIdle:
		// Not answered yet; the stored stream is used on accept.
		return
	}
	s.changed()
}

// AcceptIncomingCall answers the pending call with the local stream.
func (s *CallService) AcceptIncomingCall(ctx context.Context, callerID domain.PeerID) error {
	var err error
	if derr := s.do(func() {
		r, ok := s.peers[callerID]
		if s.pending != callerID || !ok || r.media == nil {
			err = domain.ErrNoPendingCall
			return
		}
		if aerr := r.media.Answer(ctx, s.media.OutboundStream()); aerr != nil {
			log.Error().Err(aerr).Str("peer_id", callerID.String()).Msg("Error answering incoming call")
			s.notify(fmt.Sprintf("Failed to accept call from %s", callerID))
			err = fmt.Errorf("answer %s: %w", callerID, aerr)
			return
		}
		s.pending = ""
		r.state = domain.MediaAwaiting
		if r.stream != nil {
			r.state = domain.MediaConnected
			s.recount()
		}
		s.notify(fmt.Sprintf("Accepted call from %s", callerID))
		s.changed()
	}); derr != nil {
		return derr
	}
	return err
}

// RejectIncomingCall closes the pending call without answering and drops
// the caller's record.
func (s *CallService) RejectIncomingCall(callerID domain.PeerID) error {
	var err error
	if derr := s.do(func() {
		r, ok := s.peers[callerID]
		if s.pending != callerID || !ok {
			err = domain.ErrNoPendingCall
			return
		}
		s.pending = ""
		r.stopTimers()
		r.closeConns()
		r.state = domain.MediaClosed
		delete(s.peers, callerID)
		s.notify(fmt.Sprintf("Rejected call from %s", callerID))
		s.recount()
		s.changed()
	}); derr != nil {
		return derr
	}
	return err
}

// HangUp closes a single peer.
func (s *CallService) HangUp(peerID domain.PeerID) error {
	return s.do(func() {
		if r, ok := s.peers[peerID]; ok {
			s.remove(r)
		}
	})
}

// EndAllCalls closes every connection and clears the whole collection
// without waiting for close events.
func (s *CallService) EndAllCalls() error {
	return s.do(func() {
		s.clear()
		s.duration = 0
		s.changed()
	})
}

func (s *CallService) clear() {
	for id, r := range s.peers {
		r.stopTimers()
		r.closeConns()
		r.state = domain.MediaClosed
		delete(s.peers, id)
	}
	s.pending = ""
	s.recount()
}

func (s *CallService) remove(r *record) {
	r.stopTimers()
	r.closeConns()
	r.state = domain.MediaClosed
	r.dataState = domain.DataClosed
	delete(s.peers, r.peer)
	if s.pending == r.peer {
		s.pending = ""
	}
	log.Info().Str("peer_id", r.peer.String()).Msg("Peer removed")
	s.recount()
	s.changed()
}

// ReplaceTrack substitutes track on every connected peer's sender and
// reports how many senders were replaced.
func (s *CallService) ReplaceTrack(ctx context.Context, track port.Track) (int, error) {
	var (
		n    int
		errs []error
	)
	if err := s.do(func() {
		for _, r := range s.ordered() {
			if r.state != domain.MediaConnected || r.media == nil {
				continue
			}
			if err := r.media.ReplaceTrack(ctx, track); err != nil {
				log.Error().Err(err).Str("peer_id", r.peer.String()).Msg("Track replace failed")
				errs = append(errs, fmt.Errorf("%s: %w", r.peer, err))
				continue
			}
			n++
		}
	}); err != nil {
		return 0, err
	}
	return n, errors.Join(errs...)
}

// Broadcast sends payload on every open data channel. Channels still
// opening are skipped.
func (s *CallService) Broadcast(payload []byte) (int, error) {
	var (
		n    int
		errs []error
	)
	if err := s.do(func() {
		for _, r := range s.ordered() {
			if r.dataState != domain.DataOpen || r.data == nil {
				continue
			}
			if err := r.data.Send(payload); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", r.peer, err))
				continue
			}
			n++
		}
	}); err != nil {
		return 0, err
	}
	return n, errors.Join(errs...)
}

func (s *CallService) Peers() []domain.PeerRecord {
	var out []domain.PeerRecord
	_ = s.do(func() { out = s.views() })
	return out
}

func (s *CallService) ConnectedCount() int {
	var n int
	_ = s.do(func() { n = s.connected })
	return n
}

func (s *CallService) PendingIncomingCall() domain.PeerID {
	var id domain.PeerID
	_ = s.do(func() { id = s.pending })
	return id
}

func (s *CallService) Duration() int {
	var d int
	_ = s.do(func() { d = s.duration })
	return d
}

func (s *CallService) Snapshot() CallSnapshot {
	var snap CallSnapshot
	_ = s.do(func() { snap = s.snapshot() })
	return snap
}

func (s *CallService) ordered() []*record {
	out := make([]*record, 0, len(s.peers))
	for _, r := range s.peers {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (s *CallService) views() []domain.PeerRecord {
	rs := s.ordered()
	out := make([]domain.PeerRecord, 0, len(rs))
	for _, r := range rs {
		if r.state.Terminal() {
			continue
		}
		out = append(out, r.view())
	}
	return out
}

func (s *CallService) snapshot() CallSnapshot {
	return CallSnapshot{
		Peers:               s.views(),
		ConnectedPeersCount: s.connected,
		PendingIncomingCall: s.pending,
		DurationSeconds:     s.duration,
	}
}

// recount derives the connected count from the records and runs the
// session timer while it is above zero.
func (s *CallService) recount() {
	n := 0
	for _, r := range s.peers {
		if r.state == domain.MediaConnected {
			n++
		}
	}
	s.connected = n

	switch {
	case n > 0 && s.ticker == nil:
		s.startTimer()
	case n == 0 && s.ticker != nil:
		s.stopTimer()
	}
}

func (s *CallService) startTimer() {
	t := s.clock.Ticker(time.Second)
	stop := make(chan struct{})
	s.ticker, s.tickStop = t, stop
	go func() {
		for {
			select {
			case <-s.quit:
				return
			case <-stop:
				return
			case <-t.C:
				s.post(func() {
					if s.ticker != t {
						return
					}
					s.duration++
					s.changed()
				})
			}
		}
	}()
}

func (s *CallService) stopTimer() {
	s.ticker.Stop()
	close(s.tickStop)
	s.ticker, s.tickStop = nil, nil
}

func (s *CallService) teardown() {
	s.clear()
}

func (s *CallService) changed() {
	if s.onChange != nil {
		s.onChange(s.snapshot())
	}
}

func (s *CallService) notify(text string) {
	s.inbox.Notify(context.Background(), text)
}
