package pion

import (
	"sync"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// peerLink is what the registration routes broker messages to.
type peerLink interface {
	base() *link
	onAnswer(desc webrtc.SessionDescription) error
	onRemoteClose()
	onFailure(err error)
}

// link is the part media and data connections share: one peer connection,
// its trickle ICE bookkeeping and close state.
type link struct {
	reg  *registration
	id   domain.ConnID
	peer domain.PeerID
	kind linkKind
	pc   *webrtc.PeerConnection

	mu        sync.Mutex
	signalled bool
	outbox    []webrtc.ICECandidateInit
	remoteSet bool
	inbox     []webrtc.ICECandidateInit
	closed    bool
}

func newLink(reg *registration, id domain.ConnID, peer domain.PeerID, kind linkKind, pc *webrtc.PeerConnection) *link {
	l := &link{
		reg:  reg,
		id:   id,
		peer: peer,
		kind: kind,
		pc:   pc,
	}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		l.mu.Lock()
		if !l.signalled {
			// Candidates must not overtake the description they belong to.
			l.outbox = append(l.outbox, init)
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()
		l.sendCandidate(init)
	})
	return l
}

func (l *link) base() *link { return l }

func (l *link) ID() domain.ConnID { return l.id }

func (l *link) Peer() domain.PeerID { return l.peer }

func (l *link) Close() error {
	return l.shutdown(true)
}

func (l *link) payload() *negotiation {
	return &negotiation{ConnectionID: l.id.String(), Kind: l.kind}
}

func (l *link) offer() error {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return l.sendDescription(SignalOffer, offer.SDP)
}

func (l *link) answer() error {
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	return l.sendDescription(SignalAnswer, answer.SDP)
}

func (l *link) sendDescription(t SignalType, sdp string) error {
	n := l.payload()
	n.SDP = sdp
	if err := l.reg.signal(t, l.peer, n); err != nil {
		return err
	}

	l.mu.Lock()
	l.signalled = true
	out := l.outbox
	l.outbox = nil
	l.mu.Unlock()

	for _, c := range out {
		l.sendCandidate(c)
	}
	return nil
}

func (l *link) sendCandidate(c webrtc.ICECandidateInit) {
	n := l.payload()
	n.Candidate = &c
	if err := l.reg.signal(SignalCandidate, l.peer, n); err != nil {
		log.Debug().Err(err).Str("peer_id", l.peer.String()).Msg("Candidate not sent")
	}
}

func (l *link) setRemote(desc webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	l.mu.Lock()
	l.remoteSet = true
	in := l.inbox
	l.inbox = nil
	l.mu.Unlock()

	for _, c := range in {
		if err := l.pc.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("peer_id", l.peer.String()).Msg("Queued candidate rejected")
		}
	}
	return nil
}

func (l *link) addRemoteCandidate(c webrtc.ICECandidateInit) {
	l.mu.Lock()
	if !l.remoteSet {
		l.inbox = append(l.inbox, c)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if err := l.pc.AddICECandidate(c); err != nil {
		log.Warn().Err(err).Str("peer_id", l.peer.String()).Msg("Remote candidate rejected")
	}
}

// markClosed reports whether this call performed the close.
func (l *link) markClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.closed = true
	return true
}

func (l *link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// shutdown closes the peer connection once. With notify the remote side is
// told through the broker.
func (l *link) shutdown(notify bool) error {
	if !l.markClosed() {
		return nil
	}
	l.reg.forget(l.id)
	if notify {
		if err := l.reg.signal(SignalLeave, l.peer, l.payload()); err != nil {
			log.Debug().Err(err).Str("peer_id", l.peer.String()).Msg("Leave not sent")
		}
	}
	return l.pc.Close()
}
