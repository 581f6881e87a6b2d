package domain

type SignalingState string

const (
	SignalingUnknown      SignalingState = "unknown"
	SignalingReady        SignalingState = "ready"
	SignalingDisconnected SignalingState = "disconnected"
	SignalingClosed       SignalingState = "closed"
)

// SignalingStatus carries a non-empty LocalID only while State is Ready.
type SignalingStatus struct {
	State   SignalingState `json:"state"`
	LocalID PeerID         `json:"local_id,omitempty"`
}
