package ws

import (
	"context"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/rs/zerolog/log"
)

const updateBuffer = 256

type update struct {
	msg  *domain.Message
	snap *domain.SessionSnapshot
}

// implements port.RealTimeGateway
type Hub struct {
	clients    map[Client]bool
	updates    chan update
	register   chan Client
	unregister chan Client
	quit       chan struct{}

	// last snapshot, replayed to clients that connect later
	last *domain.SessionSnapshot
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[Client]bool),
		updates:    make(chan update, updateBuffer),
		register:   make(chan Client),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
	}
}

// BroadcastMessage waits for room in the update queue. Chat history is
// never dropped, unlike snapshots where the next one supersedes.
func (h *Hub) BroadcastMessage(ctx context.Context, msg domain.Message) error {
	select {
	case h.updates <- update{msg: &msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.quit:
		return nil
	}
}

func (h *Hub) BroadcastSnapshot(ctx context.Context, snap domain.SessionSnapshot) error {
	select {
	case h.updates <- update{snap: &snap}:
	default:
		log.Warn().Msg("Broadcast channel full, dropping snapshot")
	}
	return nil
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			log.Info().Str("client_id", client.ID()).Msg("Client registered")
			if h.last != nil {
				h.send(client, update{snap: h.last})
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				log.Info().Str("client_id", client.ID()).Msg("Client unregistered")
			}

		case u := <-h.updates:
			if u.snap != nil {
				h.last = u.snap
			}
			for client := range h.clients {
				h.send(client, u)
			}
		}
	}
}

func (h *Hub) send(client Client, u update) {
	var err error
	if u.msg != nil {
		err = client.SendMessage(*u.msg)
	} else {
		err = client.SendSnapshot(*u.snap)
	}
	if err != nil {
		log.Error().Err(err).Str("client_id", client.ID()).Msg("Error sending update")
		client.Close()
		delete(h.clients, client)
	}
}

func (h *Hub) Register(c Client) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	close(h.quit)
}
