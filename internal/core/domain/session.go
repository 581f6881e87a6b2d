package domain

// SessionSnapshot is what the rendering layer observes.
type SessionSnapshot struct {
	Signaling           SignalingStatus `json:"signaling"`
	Media               LocalMediaState `json:"media"`
	Peers               []PeerRecord    `json:"peers"`
	ConnectedPeersCount int             `json:"connected_peers_count"`
	PendingIncomingCall PeerID          `json:"pending_incoming_call,omitempty"`
	DurationSeconds     int             `json:"duration_seconds"`
}
