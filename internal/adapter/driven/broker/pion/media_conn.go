package pion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const keyframeInterval = 3 * time.Second

var (
	errICEFailed    = errors.New("ice connection failed")
	errNoOffer      = errors.New("no offer to answer")
	errForeignTrack = errors.New("track cannot be sent over webrtc")
)

// LocalTrack is implemented by capture tracks that can feed a sender.
type LocalTrack interface {
	LocalTrack() webrtc.TrackLocal
}

type remoteStream struct {
	id string
}

func (s remoteStream) ID() string { return s.id }

type mediaConn struct {
	*link

	offerMu     sync.Mutex
	remoteOffer *webrtc.SessionDescription
	streamOnce  sync.Once
}

func newMediaConn(reg *registration, id domain.ConnID, peer domain.PeerID, pc *webrtc.PeerConnection) *mediaConn {
	c := &mediaConn{link: newLink(reg, id, peer, linkMedia, pc)}
	pc.OnTrack(c.onTrack)
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("peer_id", peer.String()).Str("state", s.String()).Msg("Media connection state")
		switch s {
		case webrtc.PeerConnectionStateFailed:
			c.onFailure(errICEFailed)
		case webrtc.PeerConnectionStateClosed:
			c.onRemoteClose()
		}
	})
	return c
}

func (c *mediaConn) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	log.Debug().Str("kind", track.Kind().String()).Str("peer_id", c.peer.String()).Msg("Received remote track")

	c.streamOnce.Do(func() {
		c.reg.emit(port.Event{
			Kind:   port.EventMediaStream,
			PeerID: c.peer,
			Media:  c,
			Stream: remoteStream{id: track.StreamID()},
		})
	})

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go c.requestKeyframes(track)
	}

	// Reading keeps the interceptors' receiver reports flowing.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}()
}

// requestKeyframes sends a PLI right away and then periodically, so a
// late-joining decoder does not wait for the next natural keyframe.
func (c *mediaConn) requestKeyframes(track *webrtc.TrackRemote) {
	send := func() error {
		return c.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		})
	}
	if err := send(); err != nil {
		return
	}

	ticker := time.NewTicker(keyframeInterval)
	defer ticker.Stop()
	for range ticker.C {
		if c.isClosed() {
			return
		}
		if err := send(); err != nil {
			return
		}
	}
}

func (c *mediaConn) Answer(ctx context.Context, stream port.LocalStream) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.offerMu.Lock()
	offer := c.remoteOffer
	c.remoteOffer = nil
	c.offerMu.Unlock()
	if offer == nil {
		return errNoOffer
	}

	if err := c.setRemote(*offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	if err := addStream(c.pc, stream); err != nil {
		return err
	}
	if err := c.answer(); err != nil {
		return fmt.Errorf("answer: %w", err)
	}
	return nil
}

func (c *mediaConn) ReplaceTrack(ctx context.Context, track port.Track) error {
	lt, ok := track.(LocalTrack)
	if !ok {
		return errForeignTrack
	}
	kind := rtpKind(track.Kind())
	for _, tr := range c.pc.GetTransceivers() {
		if tr.Kind() != kind || tr.Sender() == nil {
			continue
		}
		return tr.Sender().ReplaceTrack(lt.LocalTrack())
	}
	return fmt.Errorf("no %s sender for %s", track.Kind(), c.peer)
}

func (c *mediaConn) onAnswer(desc webrtc.SessionDescription) error {
	if err := c.setRemote(desc); err != nil {
		return err
	}
	c.reg.emit(port.Event{Kind: port.EventMediaNegotiated, PeerID: c.peer, Media: c})
	return nil
}

func (c *mediaConn) onRemoteClose() {
	if !c.markClosed() {
		return
	}
	c.reg.forget(c.id)
	if err := c.pc.Close(); err != nil {
		log.Debug().Err(err).Str("peer_id", c.peer.String()).Msg("Media close")
	}
	c.reg.emit(port.Event{Kind: port.EventMediaClosed, PeerID: c.peer, Media: c})
}

func (c *mediaConn) onFailure(err error) {
	if c.isClosed() {
		return
	}
	c.reg.emit(port.Event{Kind: port.EventMediaError, PeerID: c.peer, Media: c, Err: err})
}

// addStream attaches one sender per kind. A kind the stream lacks gets a
// silent placeholder, so a later ReplaceTrack always finds a sender.
func addStream(pc *webrtc.PeerConnection, stream port.LocalStream) error {
	for _, kind := range []domain.TrackKind{domain.TrackAudio, domain.TrackVideo} {
		tl := localTrackOf(stream, kind)
		if tl == nil {
			ph, err := placeholder(kind)
			if err != nil {
				return err
			}
			tl = ph
		}
		if _, err := pc.AddTrack(tl); err != nil {
			return fmt.Errorf("add %s track: %w", kind, err)
		}
	}
	return nil
}

func localTrackOf(stream port.LocalStream, kind domain.TrackKind) webrtc.TrackLocal {
	if stream == nil {
		return nil
	}
	tracks := stream.AudioTracks()
	if kind == domain.TrackVideo {
		tracks = stream.VideoTracks()
	}
	for _, t := range tracks {
		if lt, ok := t.(LocalTrack); ok {
			return lt.LocalTrack()
		}
	}
	return nil
}

func placeholder(kind domain.TrackKind) (webrtc.TrackLocal, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == domain.TrackVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	return webrtc.NewTrackLocalStaticSample(codec, string(kind), "pulse-placeholder")
}

func rtpKind(k domain.TrackKind) webrtc.RTPCodecType {
	if k == domain.TrackVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}
