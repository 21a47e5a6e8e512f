/*
PURPOSE:
  Uniform interface for starting one streaming completion against one of
  several LLM providers, normalizing incremental text and completion metadata
  into an ordered event stream.

REQUIREMENTS:
  User-specified:
  - One Started before any data, zero or more Chunk deltas, exactly one
    terminal Completed or Failed.
  - Credential placement by transport: direct uses the provider's native
    header; relay sends x-user-api-key to a same-origin forwarder.
  - Cancellation surfaces as a distinguishable "canceled" failure.

  Implementation-discovered:
  - OpenAI, DeepSeek and OpenAI-compatible servers share one wire format.
  - Usage metadata arrives in stream frames but is never a chunk.
  - Streams that end without an explicit terminator are marked truncated.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine
  - Uses: internal/sse, internal/model, internal/output

ERROR HANDLING:
  - Errors are delivered as EventFailed, never returned or panicked.

IMPLEMENTATION RULES:
  - Send returns immediately; one goroutine per call owns the HTTP stream.
  - The event channel is closed after the terminal event. Consumers must
    drain it until close.

USAGE:
  p, _ := provider.For(model.ProviderOpenAI, client)
  for ev := range p.Send(ctx, req) { ... }

SELF-HEALING INSTRUCTIONS:
  - If a provider changes its endpoint, update defaultBaseURLs.

RELATED FILES:
  - internal/provider/openai.go
  - internal/provider/anthropic.go
  - internal/sse/decoder.go

MAINTENANCE:
  - Add a new variant to For() when supporting a new wire format.
*/

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/daryltucker/mimic-runner/internal/model"
	"github.com/daryltucker/mimic-runner/internal/output"
	"github.com/daryltucker/mimic-runner/internal/sse"
)

const (
	// CredentialHeader carries the caller's key to the relay.
	CredentialHeader = "x-user-api-key"
	// DefaultRelayURL is used when relay transport is selected without a URL.
	DefaultRelayURL = "http://localhost:8787"
	// RelayPathPrefix is where the relay mounts its per-provider routes.
	RelayPathPrefix = "/api/relay/"

	defaultTemperature = 0.7
	maxErrorBody       = 64 << 10
	eventBuffer        = 64
)

var defaultBaseURLs = map[model.ProviderName]string{
	model.ProviderOpenAI:    "https://api.openai.com/v1",
	model.ProviderDeepSeek:  "https://api.deepseek.com/v1",
	model.ProviderAnthropic: "https://api.anthropic.com/v1",
}

// DefaultBaseURL returns the public API root for p, or "" if p has none.
func DefaultBaseURL(p model.ProviderName) string {
	return defaultBaseURLs[p]
}

// Provider starts streaming completions for one wire format.
type Provider interface {
	Name() model.ProviderName
	Send(ctx context.Context, req Request) <-chan Event
}

// Request is everything needed for one completion call.
type Request struct {
	Model        model.ModelSpec
	Settings     model.ProviderSettings
	SystemPrompt string
	Prompt       string
	// Temperature and MaxTokens override the model defaults when set.
	Temperature *float64
	MaxTokens   *int
}

func (r Request) temperature() float64 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	if r.Model.Temperature != nil {
		return *r.Model.Temperature
	}
	return defaultTemperature
}

func (r Request) maxTokens() *int {
	if r.MaxTokens != nil {
		return r.MaxTokens
	}
	return r.Model.MaxTokens
}

// EventKind tags an Event.
type EventKind int

const (
	EventStarted EventKind = iota
	EventChunk
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventChunk:
		return "chunk"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Meta is the completion metadata delivered with EventCompleted.
type Meta struct {
	LatencyMs    int64
	InputTokens  *int
	OutputTokens *int
	TotalTokens  *int
	FinishReason string
	Truncated    bool
}

// Event is one step of a completion stream.
type Event struct {
	Kind EventKind
	// Text is the delta for EventChunk and the full text for EventCompleted.
	Text string
	Meta Meta
	Err  error
}

// For resolves the adapter for a provider name.
func For(name model.ProviderName, client *Client) (Provider, error) {
	switch name {
	case model.ProviderOpenAI, model.ProviderDeepSeek, model.ProviderOpenAICompatible:
		return NewOpenAI(name, client), nil
	case model.ProviderAnthropic:
		return NewAnthropic(client), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
}

// endpoint resolves the URL and credential headers for a call.
// path is appended to the provider's API root in direct mode.
func endpoint(p model.ProviderName, s model.ProviderSettings, path string) (string, http.Header, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")

	if s.EffectiveTransport() == model.TransportRelay {
		base := s.RelayURL
		if base == "" {
			base = DefaultRelayURL
		}
		h.Set(CredentialHeader, s.APIKey)
		return strings.TrimSuffix(base, "/") + RelayPathPrefix + string(p), h, nil
	}

	base := s.BaseURL
	if base == "" {
		base = defaultBaseURLs[p]
	}
	if base == "" {
		return "", nil, ErrMissingBaseURL
	}
	return strings.TrimSuffix(base, "/") + path, h, nil
}

// accumulator gathers text and metadata while a stream is decoded.
type accumulator struct {
	text strings.Builder
	meta Meta
}

// call is a fully prepared streaming request.
type call struct {
	provider model.ProviderName
	url      string
	header   http.Header
	body     []byte
	framing  sse.Framing
	// handle extracts the content delta from one payload and records any
	// metadata on acc.
	handle func(payload json.RawMessage, acc *accumulator) string
}

func failed(err error) Event {
	return Event{Kind: EventFailed, Err: err}
}

// stream runs c and reports its lifecycle on a new channel.
func stream(ctx context.Context, client *Client, c call) <-chan Event {
	ch := make(chan Event, eventBuffer)

	go func() {
		defer close(ch)

		resp, err := client.Post(ctx, c.url, c.header, c.body)
		if err != nil {
			ch <- failed(classify(ctx, c.provider, err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			ch <- failed(&StatusError{Provider: c.provider, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))})
			return
		}

		started := time.Now()
		ch <- Event{Kind: EventStarted}

		acc := &accumulator{}
		onData := func(payload json.RawMessage) {
			delta := c.handle(payload, acc)
			if delta == "" {
				return
			}
			acc.text.WriteString(delta)
			select {
			case ch <- Event{Kind: EventChunk, Text: delta}:
			case <-ctx.Done():
			}
		}

		summary, readErr := sse.Decode(resp.Body, c.framing, onData, nil)
		if ctx.Err() != nil {
			ch <- failed(ErrCanceled)
			return
		}
		if summary.Skipped > 0 {
			output.Logger.Debugw("Skipped malformed stream frames", "provider", c.provider, "count", summary.Skipped)
		}
		if readErr != nil {
			output.Logger.Warnw("Stream ended with read error", "provider", c.provider, "error", readErr)
		}

		meta := acc.meta
		meta.LatencyMs = time.Since(started).Milliseconds()
		meta.Truncated = meta.Truncated || !summary.EndMarker
		ch <- Event{Kind: EventCompleted, Text: acc.text.String(), Meta: meta}
	}()

	return ch
}

// failNow returns a closed channel carrying a single failure.
func failNow(err error) <-chan Event {
	ch := make(chan Event, 1)
	ch <- failed(err)
	close(ch)
	return ch
}
