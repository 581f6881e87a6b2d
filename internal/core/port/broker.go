package port

import (
	"context"

	"github.com/Wyydra/pulse/internal/core/domain"
)

type EventKind string

const (
	EventOpen         EventKind = "open"
	EventDisconnected EventKind = "disconnected"
	EventClosed       EventKind = "closed"
	EventBrokerError  EventKind = "broker_error"

	EventIncomingCall EventKind = "incoming_call"
	EventIncomingData EventKind = "incoming_data"

	EventMediaNegotiated EventKind = "media_negotiated"
	EventMediaStream     EventKind = "media_stream"
	EventMediaClosed     EventKind = "media_closed"
	EventMediaError      EventKind = "media_error"

	EventDataOpen    EventKind = "data_open"
	EventDataMessage EventKind = "data_message"
	EventDataClosed  EventKind = "data_closed"
	EventDataError   EventKind = "data_error"
)

// Event is everything a broker reports. Connection events carry the handle
// they belong to so a superseded connection can be told apart from the
// current one for the same peer.
type Event struct {
	Kind    EventKind
	LocalID domain.PeerID
	PeerID  domain.PeerID
	Media   MediaConn
	Data    DataConn
	Stream  RemoteStream
	Payload []byte
	Err     error
}

type EventSink func(Event)

// Broker is the signaling capability: registration plus media and data
// dials. Register may be called again after Destroy.
type Broker interface {
	Register(ctx context.Context, sink EventSink) error
	Dial(ctx context.Context, remoteID domain.PeerID, stream LocalStream) (MediaConn, error)
	Connect(ctx context.Context, remoteID domain.PeerID) (DataConn, error)
	Destroy() error
}

type MediaConn interface {
	ID() domain.ConnID
	Peer() domain.PeerID
	Answer(ctx context.Context, stream LocalStream) error
	// ReplaceTrack swaps the sender carrying track.Kind() without renegotiation.
	ReplaceTrack(ctx context.Context, track Track) error
	Close() error
}

type DataConn interface {
	ID() domain.ConnID
	Peer() domain.PeerID
	Send(payload []byte) error
	Close() error
}

type RemoteStream interface {
	ID() string
}
