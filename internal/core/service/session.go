package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

type SessionDeps struct {
	Broker         port.Broker
	Devices        port.MediaDevices
	Advisor        port.Advisor
	Repo           port.MessageRepository
	Gateway        port.RealTimeGateway
	Clock          clock.Clock
	Call           CallConfig
	ReconnectDelay time.Duration
	InviteBase     string
}

// Session is the one explicit session-state object: every manager, wired
// together, plus the snapshot the UI renders.
type Session struct {
	Signaling *SignalingService
	Media     *MediaService
	Screen    *ScreenShareService
	Calls     *CallService
	Chat      *ChatService
	Rooms     *RoomService
	Advice    *AdviceService
	Mic       *MicMonitor

	gateway port.RealTimeGateway

	mu    sync.Mutex
	calls CallSnapshot
}

func NewSession(d SessionDeps) (*Session, error) {
	if d.Clock == nil {
		d.Clock = clock.New()
	}

	chat := NewChatService(d.Repo, d.Gateway, d.Clock)
	media := NewMediaService(d.Devices, chat)
	calls := NewCallService(d.Broker, media, chat, d.Clock, d.Call)
	media.SetRouter(calls)

	signaling := NewSignalingService(d.Broker, chat, d.Clock, d.ReconnectDelay)
	signaling.SetEventHandler(calls.HandleEvent)
	signaling.OnTeardown(func() {
		if err := calls.EndAllCalls(); err != nil && !errors.Is(err, domain.ErrSessionStopped) {
			log.Warn().Err(err).Msg("End calls on broker teardown")
		}
	})
	chat.SetRelay(calls, signaling)

	rooms, err := NewRoomService(signaling, calls, chat, d.InviteBase)
	if err != nil {
		return nil, fmt.Errorf("room service: %w", err)
	}

	s := &Session{
		Signaling: signaling,
		Media:     media,
		Screen:    NewScreenShareService(d.Devices, media, calls, chat),
		Calls:     calls,
		Chat:      chat,
		Rooms:     rooms,
		Advice:    NewAdviceService(d.Advisor),
		Mic:       NewMicMonitor(d.Devices, media, d.Clock),
		gateway:   d.Gateway,
		calls:     CallSnapshot{Peers: []domain.PeerRecord{}},
	}
	calls.OnChange(s.onCalls)
	media.OnChange(s.onMedia)
	signaling.OnChange(s.publish)
	return s, nil
}

// Run drives the call loop until Shutdown.
func (s *Session) Run() {
	s.Calls.Run()
}

// onCalls runs on the call loop, so it only caches.
func (s *Session) onCalls(snap CallSnapshot) {
	s.mu.Lock()
	s.calls = snap
	s.mu.Unlock()
	s.publish()
}

func (s *Session) onMedia() {
	s.Mic.Follow()
	s.publish()
}

func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	calls := s.calls
	s.mu.Unlock()

	return domain.SessionSnapshot{
		Signaling:           s.Signaling.Status(),
		Media:               s.Media.State(),
		Peers:               calls.Peers,
		ConnectedPeersCount: calls.ConnectedPeersCount,
		PendingIncomingCall: calls.PendingIncomingCall,
		DurationSeconds:     calls.DurationSeconds,
	}
}

func (s *Session) publish() {
	if s.gateway == nil {
		return
	}
	if err := s.gateway.BroadcastSnapshot(context.Background(), s.Snapshot()); err != nil {
		log.Error().Err(err).Msg("Failed to publish session snapshot")
	}
}

// Suggest asks the advisor about the current call situation.
func (s *Session) Suggest(ctx context.Context) string {
	s.mu.Lock()
	connected := s.calls.ConnectedPeersCount
	s.mu.Unlock()
	return s.Advice.Advice(ctx, SuggestContext(s.Screen.Sharing(), connected))
}

// Shutdown ends every call, stops capture and leaves the broker.
func (s *Session) Shutdown(ctx context.Context) {
	if err := s.Screen.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("Screen share stop on shutdown")
	}
	s.Mic.Stop()
	if err := s.Calls.EndAllCalls(); err != nil {
		log.Warn().Err(err).Msg("End calls on shutdown")
	}
	s.Calls.Stop()
	s.Media.Shutdown()
	s.Signaling.Shutdown()
	log.Info().Msg("Session shut down")
}
