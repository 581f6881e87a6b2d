package service

import (
	"context"
	"errors"
	"testing"
)

type fakeAdvisor struct {
	text    string
	err     error
	panics  bool
	context string
}

func (a *fakeAdvisor) Advice(ctx context.Context, contextText string) (string, error) {
	a.context = contextText
	if a.panics {
		panic("advisor exploded")
	}
	return a.text, a.err
}

func TestAdviceFailsSoft(t *testing.T) {
	cases := []struct {
		name    string
		advisor *fakeAdvisor
		want    string
	}{
		{"text", &fakeAdvisor{text: "  Summarize the action items.  "}, "Summarize the action items."},
		{"error", &fakeAdvisor{err: errors.New("quota exceeded")}, FallbackAdvice},
		{"empty", &fakeAdvisor{text: " \n"}, FallbackAdvice},
		{"panic", &fakeAdvisor{panics: true}, FallbackAdvice},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := NewAdviceService(c.advisor).Advice(context.Background(), "ctx")
			if got != c.want {
				t.Fatalf("got %q, want %q", got, c.want)
			}
		})
	}
}

func TestAdviceWithoutAdvisor(t *testing.T) {
	if got := NewAdviceService(nil).Advice(context.Background(), "ctx"); got != FallbackAdvice {
		t.Fatalf("got %q, want %q", got, FallbackAdvice)
	}
}

func TestSuggestContext(t *testing.T) {
	cases := []struct {
		sharing   bool
		connected int
		want      string
	}{
		{true, 1, "User is currently sharing their screen to present information."},
		{false, 2, "Two participants are in a video call discussing topics."},
		{false, 0, "The user is waiting to connect."},
	}
	for _, c := range cases {
		if got := SuggestContext(c.sharing, c.connected); got != c.want {
			t.Errorf("SuggestContext(%v, %d) = %q, want %q", c.sharing, c.connected, got, c.want)
		}
	}
}
