package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic calls the Messages API through the official SDK. The router owns
// retries, so the SDK's own retry loop is disabled.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic creates an Anthropic provider; empty baseURL uses the public API
func NewAnthropic(apiKey, baseURL string, timeout time.Duration) *Anthropic {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	opts := []anthropicopt.RequestOption{
		anthropicopt.WithAPIKey(apiKey),
		anthropicopt.WithRequestTimeout(timeout),
		anthropicopt.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &Anthropic{client: anthropic.NewClient(opts...)}
}

func (a *Anthropic) Name() string { return ProviderAnthropic }

// Generate sends one Messages request and joins the text blocks of the reply
func (a *Anthropic) Generate(ctx context.Context, call Call) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(call.Model),
		MaxTokens:   int64(call.MaxTokens),
		Temperature: anthropic.Float(call.Temperature),
	}
	if call.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: call.System}}
	}
	for _, m := range call.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic generate: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Text:         text.String(),
		Provider:     ProviderAnthropic,
		Model:        call.Model,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}
