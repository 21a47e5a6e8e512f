/*
PURPOSE:
  Messages API adapter for Anthropic.

REQUIREMENTS:
  - x-api-key and anthropic-version headers on direct calls.
  - The system prompt goes in the top-level system field.
  - Only content_block_delta text becomes chunks; message_delta or
    message_stop ends the stream.

ARCHITECTURE INTEGRATION:
  - Resolved by: provider.For()
  - Uses: internal/sse (event framing)

RELATED FILES:
  - internal/provider/provider.go
  - internal/relay/server.go
*/

package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/daryltucker/mimic-runner/internal/model"
	"github.com/daryltucker/mimic-runner/internal/sse"
)

const (
	// AnthropicVersion is sent on every direct and relayed Anthropic call.
	AnthropicVersion = "2023-06-01"

	defaultAnthropicMaxTokens = 4096
)

// Anthropic speaks the messages API with typed stream events.
type Anthropic struct {
	client *Client
}

// NewAnthropic creates an Anthropic adapter.
func NewAnthropic(client *Client) *Anthropic {
	return &Anthropic{client: client}
}

func (p *Anthropic) Name() model.ProviderName { return model.ProviderAnthropic }

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type contentDelta struct {
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

// Send starts a streaming messages call.
func (p *Anthropic) Send(ctx context.Context, req Request) <-chan Event {
	if req.Settings.APIKey == "" {
		return failNow(ErrMissingCredential)
	}
	url, header, err := endpoint(model.ProviderAnthropic, req.Settings, "/messages")
	if err != nil {
		return failNow(err)
	}
	header.Set("anthropic-version", AnthropicVersion)
	if req.Settings.EffectiveTransport() == model.TransportDirect {
		header.Set("x-api-key", req.Settings.APIKey)
	}

	maxTokens := defaultAnthropicMaxTokens
	if mt := req.maxTokens(); mt != nil {
		maxTokens = *mt
	}
	body, err := json.Marshal(messagesRequest{
		Model:       req.Model.ID,
		System:      req.SystemPrompt,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   maxTokens,
		Temperature: req.temperature(),
		Stream:      true,
	})
	if err != nil {
		return failNow(fmt.Errorf("encode request: %w", err))
	}

	return stream(ctx, p.client, call{
		provider: model.ProviderAnthropic,
		url:      url,
		header:   header,
		body:     body,
		framing:  sse.TypedEvent,
		handle:   handleContentDelta,
	})
}

// handleContentDelta only ever sees content_block_delta payloads; usage
// rides on message_delta, which ends the stream.
func handleContentDelta(payload json.RawMessage, _ *accumulator) string {
	var d contentDelta
	if err := json.Unmarshal(payload, &d); err != nil {
		return ""
	}
	return d.Delta.Text
}
