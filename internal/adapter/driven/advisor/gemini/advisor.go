package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.0-flash"

const promptTemplate = `You are an AI Meeting Assistant. Based on the following snippet of a video call conversation, provide a single, concise suggestion or follow-up question to keep the meeting productive. Be brief and professional.

Transcript: %q`

var ErrNoAPIKey = errors.New("gemini api key not set")

// Advisor asks a Gemini model for one short meeting suggestion.
type Advisor struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, apiKey, model string) (*Advisor, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Advisor{client: client, model: model}, nil
}

func (a *Advisor) Advice(ctx context.Context, contextText string) (string, error) {
	resp, err := a.client.Models.GenerateContent(ctx, a.model, genai.Text(Prompt(contextText)), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.7),
		MaxOutputTokens: 100,
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}

func Prompt(contextText string) string {
	return fmt.Sprintf(promptTemplate, contextText)
}
