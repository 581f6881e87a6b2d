package http

import (
	"net/http"
	"sync"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI is served from this process on localhost.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *WSClient) ID() string {
	return c.id
}

type eventDTO struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

func (c *WSClient) SendMessage(msg domain.Message) error {
	return c.write(eventDTO{Event: "chat", Payload: msg})
}

func (c *WSClient) SendSnapshot(snap domain.SessionSnapshot) error {
	return c.write(eventDTO{Event: "state", Payload: snap})
}

func (c *WSClient) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}

type intentDTO struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Action  string          `json:"action"`
	Peers   []domain.PeerID `json:"peers"`
	Peer    domain.PeerID   `json:"peer"`
}

// HTTP handler
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		id:   uuid.NewString(),
		conn: conn,
	}

	l := log.With().Str("client_id", client.id).Logger()
	l.Info().Msg("New client connected")

	h.Hub.Register(client)

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Hub.Unregister(client)
		conn.Close()
	}()

	for {
		var req intentDTO
		err := conn.ReadJSON(&req)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}

		switch req.Type {
		case "call":
			if err := h.handleCallIntent(r, req); err != nil {
				l.Error().Err(err).Str("action", req.Action).Msg("Failed to handle call intent")
			}
		case "chat", "":
			if _, err := h.Session.Chat.SendMessage(r.Context(), req.Content); err != nil {
				l.Error().Err(err).Msg("Failed to process message")
			}
		default:
			l.Warn().Str("type", req.Type).Msg("Unknown intent")
		}
	}
}

func (h *Handler) handleCallIntent(r *http.Request, req intentDTO) error {
	calls := h.Session.Calls
	ctx := r.Context()
	switch req.Action {
	case "dial":
		return calls.CallPeers(ctx, req.Peers)
	case "accept":
		return calls.AcceptIncomingCall(ctx, h.pendingOr(req.Peer))
	case "reject":
		return calls.RejectIncomingCall(h.pendingOr(req.Peer))
	case "hangup":
		return calls.HangUp(req.Peer)
	case "end":
		return calls.EndAllCalls()
	default:
		log.Debug().Str("action", req.Action).Msg("Unknown call action")
		return errBadRequest
	}
}

func (h *Handler) pendingOr(id domain.PeerID) domain.PeerID {
	if id != "" {
		return id
	}
	return h.Session.Calls.PendingIncomingCall()
}
