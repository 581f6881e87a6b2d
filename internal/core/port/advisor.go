package port

import "context"

type Advisor interface {
	Advice(ctx context.Context, contextText string) (string, error)
}
