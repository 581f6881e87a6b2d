package ws

import "github.com/Wyydra/pulse/internal/core/domain"

type Client interface {
	ID() string
	SendMessage(msg domain.Message) error
	SendSnapshot(snap domain.SessionSnapshot) error
	Close() error
}
