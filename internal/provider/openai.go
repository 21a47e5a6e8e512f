/*
PURPOSE:
  Chat-completions adapter shared by OpenAI, DeepSeek and
  OpenAI-compatible servers.

REQUIREMENTS:
  - Requests set stream: true and ask for usage in the final frame.
  - The [DONE] marker ends the stream; usage frames are never chunks.

ARCHITECTURE INTEGRATION:
  - Resolved by: provider.For()
  - Uses: internal/sse (data-line framing)

ERROR HANDLING:
  - Missing credentials fail before any network call.

RELATED FILES:
  - internal/provider/provider.go
  - internal/sse/decoder.go
*/

package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/daryltucker/mimic-runner/internal/model"
	"github.com/daryltucker/mimic-runner/internal/sse"
)

// OpenAI speaks the chat-completions wire format. It serves OpenAI,
// DeepSeek and any OpenAI-compatible server.
type OpenAI struct {
	name   model.ProviderName
	client *Client
}

// NewOpenAI creates an adapter for one of the OpenAI-family providers.
func NewOpenAI(name model.ProviderName, client *Client) *OpenAI {
	return &OpenAI{name: name, client: client}
}

func (p *OpenAI) Name() model.ProviderName { return p.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Temperature   float64        `json:"temperature"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Send starts a streaming chat completion.
func (p *OpenAI) Send(ctx context.Context, req Request) <-chan Event {
	if req.Settings.APIKey == "" {
		return failNow(ErrMissingCredential)
	}
	url, header, err := endpoint(p.name, req.Settings, "/chat/completions")
	if err != nil {
		return failNow(err)
	}
	if req.Settings.EffectiveTransport() == model.TransportDirect {
		header.Set("Authorization", "Bearer "+req.Settings.APIKey)
	}

	body, err := json.Marshal(p.envelope(req))
	if err != nil {
		return failNow(fmt.Errorf("encode request: %w", err))
	}

	return stream(ctx, p.client, call{
		provider: p.name,
		url:      url,
		header:   header,
		body:     body,
		framing:  sse.Generic,
		handle:   handleChatChunk,
	})
}

func (p *OpenAI) envelope(req Request) chatRequest {
	msgs := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})

	out := chatRequest{
		Model:       req.Model.ID,
		Messages:    msgs,
		Temperature: req.temperature(),
		MaxTokens:   req.maxTokens(),
		Stream:      true,
	}
	// Arbitrary compatible servers may reject unknown fields.
	if p.name != model.ProviderOpenAICompatible {
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return out
}

func handleChatChunk(payload json.RawMessage, acc *accumulator) string {
	var c chatChunk
	if err := json.Unmarshal(payload, &c); err != nil {
		return ""
	}
	if c.Usage != nil {
		acc.meta.InputTokens = intPtr(c.Usage.PromptTokens)
		acc.meta.OutputTokens = intPtr(c.Usage.CompletionTokens)
		acc.meta.TotalTokens = intPtr(c.Usage.TotalTokens)
	}
	if len(c.Choices) == 0 {
		return ""
	}
	choice := c.Choices[0]
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		acc.meta.FinishReason = *choice.FinishReason
		if *choice.FinishReason == "length" {
			acc.meta.Truncated = true
		}
	}
	return choice.Delta.Content
}

func intPtr(v int) *int { return &v }
