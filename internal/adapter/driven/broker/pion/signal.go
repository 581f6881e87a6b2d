package pion

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/pion/webrtc/v4"
)

// SignalType is the kind of message exchanged with the signaling broker.
type SignalType string

const (
	// SignalOpen is sent by the broker once a client is registered; To
	// carries the id it was given.
	SignalOpen      SignalType = "open"
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
	SignalLeave     SignalType = "leave"
	SignalError     SignalType = "error"
)

type linkKind string

const (
	linkMedia linkKind = "media"
	linkData  linkKind = "data"
)

// SignalMessage is one frame on the broker websocket.
type SignalMessage struct {
	Type    SignalType      `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// negotiation is the payload of offer, answer, candidate, leave and
// per-connection error messages. Media and data links to the same peer are
// separate peer connections told apart by ConnectionID.
type negotiation struct {
	ConnectionID string                   `json:"connectionId"`
	Kind         linkKind                 `json:"kind"`
	SDP          string                   `json:"sdp,omitempty"`
	Candidate    *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

var errMissingConnection = errors.New("signal payload has no connection id")

func encodeSignal(t SignalType, to domain.PeerID, n *negotiation) ([]byte, error) {
	msg := SignalMessage{Type: t, To: to.String()}
	if n != nil {
		raw, err := json.Marshal(n)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		msg.Payload = raw
	}
	return json.Marshal(msg)
}

func decodeSignal(data []byte) (SignalMessage, error) {
	var msg SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SignalMessage{}, fmt.Errorf("unmarshal signal: %w", err)
	}
	if msg.Type == "" {
		return SignalMessage{}, errors.New("signal has no type")
	}
	return msg, nil
}

func (m SignalMessage) negotiation() (negotiation, error) {
	var n negotiation
	if len(m.Payload) == 0 {
		return n, errMissingConnection
	}
	if err := json.Unmarshal(m.Payload, &n); err != nil {
		return n, fmt.Errorf("unmarshal %s payload: %w", m.Type, err)
	}
	if n.ConnectionID == "" {
		return n, errMissingConnection
	}
	return n, nil
}
