package port

import (
	"context"

	"github.com/Wyydra/pulse/internal/core/domain"
)

type MessageRepository interface {
	Save(ctx context.Context, msg domain.Message) error
	List(ctx context.Context) ([]domain.Message, error)
}
