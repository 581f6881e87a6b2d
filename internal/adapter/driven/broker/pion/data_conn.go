package pion

import (
	"errors"
	"sync"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const chatLabel = "chat"

var errChannelNotOpen = errors.New("data channel not open")

type dataConn struct {
	*link

	dcMu sync.Mutex
	dc   *webrtc.DataChannel
}

func newDataConn(reg *registration, id domain.ConnID, peer domain.PeerID, pc *webrtc.PeerConnection) *dataConn {
	c := &dataConn{link: newLink(reg, id, peer, linkData, pc)}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("peer_id", peer.String()).Str("state", s.String()).Msg("Data connection state")
		if s == webrtc.PeerConnectionStateFailed {
			c.onFailure(errICEFailed)
		}
	})
	return c
}

func (c *dataConn) attach(dc *webrtc.DataChannel) {
	c.dcMu.Lock()
	c.dc = dc
	c.dcMu.Unlock()

	dc.OnOpen(func() {
		log.Debug().Str("peer_id", c.peer.String()).Msg("Data channel open")
		c.reg.emit(port.Event{Kind: port.EventDataOpen, PeerID: c.peer, Data: c})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.reg.emit(port.Event{Kind: port.EventDataMessage, PeerID: c.peer, Data: c, Payload: msg.Data})
	})
	dc.OnClose(c.onRemoteClose)
	dc.OnError(c.onFailure)
}

func (c *dataConn) Send(payload []byte) error {
	c.dcMu.Lock()
	dc := c.dc
	c.dcMu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return errChannelNotOpen
	}
	return dc.Send(payload)
}

func (c *dataConn) onAnswer(desc webrtc.SessionDescription) error {
	return c.setRemote(desc)
}

func (c *dataConn) onRemoteClose() {
	if !c.markClosed() {
		return
	}
	c.reg.forget(c.id)
	if err := c.pc.Close(); err != nil {
		log.Debug().Err(err).Str("peer_id", c.peer.String()).Msg("Data close")
	}
	c.reg.emit(port.Event{Kind: port.EventDataClosed, PeerID: c.peer, Data: c})
}

func (c *dataConn) onFailure(err error) {
	if c.isClosed() {
		return
	}
	c.reg.emit(port.Event{Kind: port.EventDataError, PeerID: c.peer, Data: c, Err: err})
}
