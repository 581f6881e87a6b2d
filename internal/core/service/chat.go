package service

import (
	"context"
	"sync"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

// Notifier posts system-authored entries into the chat stream.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Inbox is what the call session needs from the chat relay.
type Inbox interface {
	Notifier
	Receive(ctx context.Context, from domain.PeerID, payload []byte)
}

// Relay fans a payload out to every peer with an open data channel.
type Relay interface {
	Broadcast(payload []byte) (int, error)
}

type Identity interface {
	LocalID() domain.PeerID
}

type ChatService struct {
	repo    port.MessageRepository
	gateway port.RealTimeGateway
	clock   clock.Clock

	mu       sync.RWMutex
	relay    Relay
	identity Identity
}

func NewChatService(repo port.MessageRepository, gateway port.RealTimeGateway, clk clock.Clock) *ChatService {
	return &ChatService{
		repo:    repo,
		gateway: gateway,
		clock:   clk,
	}
}

func (s *ChatService) SetRelay(relay Relay, identity Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relay = relay
	s.identity = identity
}

// SendMessage echoes content locally and sends it to every open data
// channel. The local echo never waits on delivery.
func (s *ChatService) SendMessage(ctx context.Context, content string) (*domain.Message, error) {
	s.mu.RLock()
	relay, identity := s.relay, s.identity
	s.mu.RUnlock()

	var self domain.PeerID
	if identity != nil {
		self = identity.LocalID()
	}

	msg, err := domain.NewMessage(domain.SenderSelf, self, content, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if relay != nil {
		sent, err := relay.Broadcast([]byte(content))
		if err != nil {
			log.Warn().Err(err).Int("sent", sent).Msg("Chat relay incomplete")
		} else {
			log.Debug().Int("sent", sent).Msg("Chat message relayed")
		}
	}

	if err := s.append(ctx, *msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *ChatService) Receive(ctx context.Context, from domain.PeerID, payload []byte) {
	msg, err := domain.NewMessage(domain.SenderPeer, from, string(payload), s.clock.Now())
	if err != nil {
		log.Debug().Str("peer_id", from.String()).Msg("Dropping empty chat payload")
		return
	}
	if err := s.append(ctx, *msg); err != nil {
		log.Error().Err(err).Str("peer_id", from.String()).Msg("Failed to store chat message")
	}
}

func (s *ChatService) Notify(ctx context.Context, text string) {
	log.Info().Str("notice", text).Msg("System notice")
	if err := s.append(ctx, domain.NewNotice(text, s.clock.Now())); err != nil {
		log.Error().Err(err).Msg("Failed to store notice")
	}
}

func (s *ChatService) History(ctx context.Context) ([]domain.Message, error) {
	return s.repo.List(ctx)
}

func (s *ChatService) append(ctx context.Context, msg domain.Message) error {
	if err := s.repo.Save(ctx, msg); err != nil {
		return err
	}
	return s.gateway.BroadcastMessage(ctx, msg)
}
