package port

import (
	"context"

	"github.com/Wyydra/pulse/internal/core/domain"
)

// RealTimeGateway pushes session changes to the rendering layer.
type RealTimeGateway interface {
	BroadcastMessage(ctx context.Context, msg domain.Message) error
	BroadcastSnapshot(ctx context.Context, snap domain.SessionSnapshot) error
}
