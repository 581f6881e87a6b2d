package memory

import (
	"context"

	"github.com/Wyydra/pulse/internal/core/domain"
	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/rs/zerolog/log"
)

// EchoPeer answers every call and sends every chat payload straight back.
// It gives demo mode someone to talk to.
type EchoPeer struct {
	broker *Broker
}

func (x *Exchange) AddEchoPeer(ctx context.Context, id domain.PeerID) (*EchoPeer, error) {
	p := &EchoPeer{broker: x.NewBroker(id)}
	if err := p.broker.Register(ctx, p.handle); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *EchoPeer) ID() domain.PeerID {
	return p.broker.LocalID()
}

func (p *EchoPeer) Close() error {
	return p.broker.Destroy()
}

func (p *EchoPeer) handle(ev port.Event) {
	switch ev.Kind {
	case port.EventIncomingCall:
		if err := ev.Media.Answer(context.Background(), nil); err != nil {
			log.Warn().Err(err).Str("peer_id", ev.PeerID.String()).Msg("Echo peer could not answer")
		}
	case port.EventDataMessage:
		if err := ev.Data.Send(ev.Payload); err != nil {
			log.Warn().Err(err).Str("peer_id", ev.PeerID.String()).Msg("Echo peer could not reply")
		}
	}
}
