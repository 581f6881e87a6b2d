package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/rs/zerolog/log"
)

const roomParam = "room"

// Dialer is the part of the call session a room needs.
type Dialer interface {
	CallPeers(ctx context.Context, ids []domain.PeerID) error
	EndAllCalls() error
}

// RoomService names a call after its host's local id. Joining a room is
// dialing that id; there is no membership protocol.
type RoomService struct {
	identity Identity
	calls    Dialer
	notifier Notifier
	base     *url.URL

	mu     sync.Mutex
	roomID domain.PeerID
	host   bool
}

func NewRoomService(identity Identity, calls Dialer, notifier Notifier, inviteBase string) (*RoomService, error) {
	base, err := url.Parse(inviteBase)
	if err != nil {
		return nil, fmt.Errorf("invite base url: %w", err)
	}
	return &RoomService{
		identity: identity,
		calls:    calls,
		notifier: notifier,
		base:     base,
	}, nil
}

func (s *RoomService) CreateRoom(ctx context.Context) (domain.PeerID, error) {
	id := s.identity.LocalID()
	if id == "" {
		s.notifier.Notify(ctx, "Peer not ready yet")
		return "", domain.ErrNotRegistered
	}
	s.mu.Lock()
	s.roomID, s.host = id, true
	s.mu.Unlock()

	invite := s.inviteFor(id)
	log.Info().Str("room_id", id.String()).Msg("Room created")
	s.notifier.Notify(ctx, fmt.Sprintf("Room created! Invite link: %s", invite))
	return id, nil
}

// InviteURL is the shareable link for the current room, or for this
// client's id when no room was created yet.
func (s *RoomService) InviteURL() (string, error) {
	s.mu.Lock()
	id := s.roomID
	s.mu.Unlock()
	if id == "" {
		id = s.identity.LocalID()
	}
	if id == "" {
		return "", domain.ErrNotRegistered
	}
	return s.inviteFor(id), nil
}

func (s *RoomService) inviteFor(id domain.PeerID) string {
	u := *s.base
	q := u.Query()
	q.Set(roomParam, id.String())
	u.RawQuery = q.Encode()
	return u.String()
}

// ParseInvite extracts the room id from an invite link.
func ParseInvite(raw string) (domain.PeerID, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidInvite, err)
	}
	id := strings.TrimSpace(u.Query().Get(roomParam))
	if id == "" {
		return "", domain.ErrInvalidInvite
	}
	return domain.PeerID(id), nil
}

func (s *RoomService) JoinRoom(ctx context.Context, roomID domain.PeerID) error {
	if roomID == "" {
		return domain.ErrInvalidInvite
	}
	s.mu.Lock()
	s.roomID, s.host = roomID, false
	s.mu.Unlock()

	log.Info().Str("room_id", roomID.String()).Msg("Joining room")
	return s.calls.CallPeers(ctx, []domain.PeerID{roomID})
}

func (s *RoomService) LeaveRoom() error {
	s.mu.Lock()
	s.roomID, s.host = "", false
	s.mu.Unlock()
	return s.calls.EndAllCalls()
}

// Room reports the current room id and whether this client hosts it.
func (s *RoomService) Room() (domain.PeerID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID, s.host
}
