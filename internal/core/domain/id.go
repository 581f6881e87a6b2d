package domain

import (
	"github.com/google/uuid"
)

// PeerID is the broker-assigned identity of a client. A room is named by its
// host's PeerID.
type PeerID string

func (id PeerID) String() string {
	return string(id)
}

const SystemID PeerID = "system"

type MessageID uuid.UUID

func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}

type ConnID string

func NewConnID() ConnID {
	return ConnID(uuid.New().String())
}

func (id ConnID) String() string {
	return string(id)
}
