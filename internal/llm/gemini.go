package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini calls Google's generative models through the genai SDK
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a Gemini provider
func NewGemini(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Gemini, error) {
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Gemini{client: client}, nil
}

func (g *Gemini) Name() string { return ProviderGemini }

// Close releases the underlying client
func (g *Gemini) Close() error {
	return g.client.Close()
}

// Generate replays earlier turns as chat history and sends the last message
func (g *Gemini) Generate(ctx context.Context, call Call) (*Response, error) {
	if len(call.Messages) == 0 {
		return nil, fmt.Errorf("gemini: no messages")
	}

	m := g.client.GenerativeModel(call.Model)
	m.SetMaxOutputTokens(int32(call.MaxTokens))
	m.SetTemperature(float32(call.Temperature))
	if call.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(call.System)}}
	}

	cs := m.StartChat()
	last := call.Messages[len(call.Messages)-1]
	for _, msg := range call.Messages[:len(call.Messages)-1] {
		cs.History = append(cs.History, &genai.Content{
			Role:  geminiRole(msg.Role),
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	resp, err := cs.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, ErrEmptyResponse
	}
	out := &Response{Text: text, Provider: ProviderGemini, Model: call.Model}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func geminiRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

func responseText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	return b.String()
}
