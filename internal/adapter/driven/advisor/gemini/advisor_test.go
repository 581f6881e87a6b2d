package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNewRequiresKey(t *testing.T) {
	_, err := New(context.Background(), "", "")
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("got %v, want %v", err, ErrNoAPIKey)
	}
}

func TestPromptQuotesTranscript(t *testing.T) {
	p := Prompt("The user is waiting to connect.")
	if !strings.Contains(p, `Transcript: "The user is waiting to connect."`) {
		t.Fatalf("prompt does not carry the transcript: %s", p)
	}
	if !strings.HasPrefix(p, "You are an AI Meeting Assistant.") {
		t.Fatalf("unexpected prompt prefix: %s", p)
	}
}
