package domain

type MediaState string

const (
	MediaIdle      MediaState = "idle"
	MediaDialing   MediaState = "dialing"
	MediaAwaiting  MediaState = "awaiting_media"
	MediaConnected MediaState = "connected"
	MediaClosed    MediaState = "closed"
	MediaFailed    MediaState = "failed"
)

// Active reports whether a record in this state holds the peer's slot.
func (s MediaState) Active() bool {
	return s == MediaDialing || s == MediaAwaiting || s == MediaConnected
}

func (s MediaState) Terminal() bool {
	return s == MediaClosed || s == MediaFailed
}

type DataChannelState string

const (
	DataIdle    DataChannelState = "idle"
	DataOpening DataChannelState = "opening"
	DataOpen    DataChannelState = "open"
	DataClosed  DataChannelState = "closed"
)

type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

// PeerRecord is the read-only view of one remote peer of the session.
type PeerRecord struct {
	PeerID           PeerID           `json:"peer_id"`
	Direction        Direction        `json:"direction"`
	MediaState       MediaState       `json:"media_state"`
	DataChannelState DataChannelState `json:"data_channel_state"`
	RemoteStreamID   string           `json:"remote_stream_id,omitempty"`
	RetryCount       int              `json:"retry_count"`
}
