package service

import (
	"context"
	"strings"

	"github.com/Wyydra/pulse/internal/core/port"
	"github.com/rs/zerolog/log"
)

const FallbackAdvice = "I'm listening and ready to help when needed."

// AdviceService asks the advisor for one meeting tip. It never fails: any
// advisor problem yields FallbackAdvice.
type AdviceService struct {
	advisor port.Advisor
}

func NewAdviceService(advisor port.Advisor) *AdviceService {
	return &AdviceService{advisor: advisor}
}

func (s *AdviceService) Advice(ctx context.Context, contextText string) (advice string) {
	if s.advisor == nil {
		return FallbackAdvice
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Advisor panicked")
			advice = FallbackAdvice
		}
	}()

	text, err := s.advisor.Advice(ctx, contextText)
	if err != nil {
		log.Error().Err(err).Msg("Advisor error")
		return FallbackAdvice
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return FallbackAdvice
	}
	return text
}

// SuggestContext describes the call situation for the advisor.
func SuggestContext(sharing bool, connected int) string {
	switch {
	case sharing:
		return "User is currently sharing their screen to present information."
	case connected > 0:
		return "Two participants are in a video call discussing topics."
	default:
		return "The user is waiting to connect."
	}
}
