package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

const DefaultReconnectDelay = 500 * time.Millisecond

// SignalingService keeps this client registered with the broker and maps
// transport events onto domain.SignalingStatus. Connection events are
// forwarded to the handler set with SetEventHandler.
type SignalingService struct {
	broker   port.Broker
	notifier Notifier
	clock    clock.Clock
	delay    time.Duration

	mu         sync.Mutex
	status     domain.SignalingStatus
	registered bool
	gen        uint64
	timer      *clock.Timer
	handler    port.EventSink
	onChange   func()
	teardown   func()
}

func NewSignalingService(broker port.Broker, notifier Notifier, clk clock.Clock, reconnectDelay time.Duration) *SignalingService {
	return &SignalingService{
		broker:   broker,
		notifier: notifier,
		clock:    clk,
		delay:    reconnectDelay,
		status:   domain.SignalingStatus{State: domain.SignalingUnknown},
	}
}

func (s *SignalingService) SetEventHandler(h port.EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// OnTeardown sets what runs when the registration goes away. Every
// connection made through it is gone at that point.
func (s *SignalingService) OnTeardown(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown = fn
}

func (s *SignalingService) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Register starts a registration. Calling it while a registration is live
// does nothing.
func (s *SignalingService) Register(ctx context.Context) error {
	s.mu.Lock()
	if s.registered {
		s.mu.Unlock()
		log.Debug().Msg("Already registered with broker")
		return nil
	}
	s.registered = true
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if err := s.broker.Register(ctx, func(ev port.Event) { s.dispatch(gen, ev) }); err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.registered = false
		}
		s.mu.Unlock()
		log.Error().Err(err).Msg("Broker registration failed")
		s.notifier.Notify(ctx, fmt.Sprintf("Peer error: %v", err))
		return fmt.Errorf("register: %w", err)
	}
	log.Info().Msg("Registering with broker")
	return nil
}

// Reconnect drops the registration and registers again after the reconnect
// delay. The broker hands out a new local id; peers holding the old one can
// no longer reach us.
func (s *SignalingService) Reconnect() {
	s.mu.Lock()
	s.gen++
	s.registered = false
	s.status = domain.SignalingStatus{State: domain.SignalingUnknown}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.AfterFunc(s.delay, func() {
		if err := s.Register(context.Background()); err != nil {
			log.Error().Err(err).Msg("Re-registration failed")
		}
	})
	s.mu.Unlock()

	s.tearDown()
	if err := s.broker.Destroy(); err != nil {
		log.Warn().Err(err).Msg("Error destroying broker registration during reconnect")
	}
	log.Info().Dur("delay", s.delay).Msg("Reconnecting to broker")
	s.changed()
}

// Shutdown tears the registration down for good.
func (s *SignalingService) Shutdown() {
	s.mu.Lock()
	s.gen++
	s.registered = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.status = domain.SignalingStatus{State: domain.SignalingClosed}
	s.mu.Unlock()

	s.tearDown()
	if err := s.broker.Destroy(); err != nil {
		log.Warn().Err(err).Msg("Error destroying broker registration")
	}
}

func (s *SignalingService) Status() domain.SignalingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *SignalingService) LocalID() domain.PeerID {
	return s.Status().LocalID
}

func (s *SignalingService) dispatch(gen uint64, ev port.Event) {
	s.mu.Lock()
	current := s.gen == gen
	handler := s.handler
	s.mu.Unlock()
	if !current {
		log.Debug().Str("kind", string(ev.Kind)).Msg("Event from superseded registration dropped")
		return
	}

	ctx := context.Background()
	switch ev.Kind {
	case port.EventOpen:
		s.setStatus(domain.SignalingStatus{State: domain.SignalingReady, LocalID: ev.LocalID})
		log.Info().Str("local_id", ev.LocalID.String()).Msg("Broker registration open")
		s.notifier.Notify(ctx, fmt.Sprintf("Peer ready: %s", ev.LocalID))
	case port.EventDisconnected:
		s.setStatus(domain.SignalingStatus{State: domain.SignalingDisconnected})
		log.Warn().Msg("Disconnected from signaling broker")
		s.notifier.Notify(ctx, "Signaling disconnected (Awaiting Signal). Check network or broker.")
	case port.EventClosed:
		s.mu.Lock()
		s.registered = false
		s.mu.Unlock()
		s.setStatus(domain.SignalingStatus{State: domain.SignalingClosed})
		s.tearDown()
		log.Warn().Msg("Broker connection closed")
		s.notifier.Notify(ctx, "Peer connection closed. Re-initialize peer to reconnect.")
	case port.EventBrokerError:
		log.Error().Err(ev.Err).Msg("Broker error")
		s.notifier.Notify(ctx, fmt.Sprintf("Peer error: %v", ev.Err))
	default:
		if handler != nil {
			handler(ev)
		}
	}
}

func (s *SignalingService) tearDown() {
	s.mu.Lock()
	fn := s.teardown
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *SignalingService) setStatus(st domain.SignalingStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	s.changed()
}

func (s *SignalingService) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
