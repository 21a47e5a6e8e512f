package relay

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/mimic-runner/internal/metrics"
	"github.com/daryltucker/mimic-runner/internal/model"
	"github.com/daryltucker/mimic-runner/internal/provider"
)

type captured struct {
	path   string
	header http.Header
	body   string
}

func newUpstream(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got.path = r.URL.Path
		got.header = r.Header.Clone()
		got.body = string(b)
		if status == http.StatusOK {
			w.Header().Set("Content-Type", "text/event-stream")
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func post(t *testing.T, s *Server, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(provider.CredentialHeader, key)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRelayForwardsOpenAIStyle(t *testing.T) {
	stream := "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"
	up, got := newUpstream(t, http.StatusOK, stream)
	s := New(Options{Upstreams: map[model.ProviderName]string{model.ProviderDeepSeek: up.URL + "/v1/"}})

	rec := post(t, s, "/api/relay/deepseek", "sk-test", `{"model":"deepseek-chat"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stream, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "/v1/chat/completions", got.path)
	assert.Equal(t, "Bearer sk-test", got.header.Get("Authorization"))
	assert.Empty(t, got.header.Get(provider.CredentialHeader))
	assert.Equal(t, `{"model":"deepseek-chat"}`, got.body)
}

func TestRelayForwardsAnthropic(t *testing.T) {
	up, got := newUpstream(t, http.StatusOK, "event: message_stop\ndata: {}\n\n")
	s := New(Options{Upstreams: map[model.ProviderName]string{model.ProviderAnthropic: up.URL}})

	rec := post(t, s, "/api/relay/anthropic", "sk-ant", `{}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/messages", got.path)
	assert.Equal(t, "sk-ant", got.header.Get("x-api-key"))
	assert.Equal(t, provider.AnthropicVersion, got.header.Get("anthropic-version"))
	assert.Empty(t, got.header.Get("Authorization"))
}

func TestRelayPassesUpstreamErrors(t *testing.T) {
	up, _ := newUpstream(t, http.StatusUnauthorized, `{"error":"bad key"}`)
	m := metrics.New(nil)
	s := New(Options{Upstreams: map[model.ProviderName]string{model.ProviderOpenAI: up.URL}, Metrics: m})

	rec := post(t, s, "/api/relay/openai", "sk-bad", `{}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `{"error":"bad key"}`, rec.Body.String())

	scrape := httptest.NewRecorder()
	s.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `mimic_runner_relay_requests_total{code="401",provider="openai"} 1`)
}

func TestRelayRejectsBadRequests(t *testing.T) {
	s := New(Options{})

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{"missing key", "/api/relay/openai", "", http.StatusBadRequest},
		{"unknown provider", "/api/relay/mistral", "sk", http.StatusNotFound},
		{"compatible not relayed", "/api/relay/openai_compatible", "sk", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, s, tt.path, tt.key, `{}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRelayUpstreamUnreachable(t *testing.T) {
	up := httptest.NewServer(http.NotFoundHandler())
	url := up.URL
	up.Close()

	s := New(Options{Upstreams: map[model.ProviderName]string{model.ProviderOpenAI: url}})
	rec := post(t, s, "/api/relay/openai", "sk", `{}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := New(Options{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRelayEndToEndWithProvider(t *testing.T) {
	up, got := newUpstream(t, http.StatusOK,
		"data: {\"choices\":[{\"delta\":{\"content\":\"relayed\"},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n")
	relaySrv := httptest.NewServer(New(Options{
		Upstreams: map[model.ProviderName]string{model.ProviderOpenAI: up.URL},
	}).Handler())
	t.Cleanup(relaySrv.Close)

	p, err := provider.For(model.ProviderOpenAI, provider.NewClient(provider.DefaultRetryConfig()))
	require.NoError(t, err)

	var text strings.Builder
	var last provider.Event
	for ev := range p.Send(t.Context(), provider.Request{
		Model: model.ModelSpec{ID: "gpt-4o-mini", Provider: model.ProviderOpenAI},
		Settings: model.ProviderSettings{
			APIKey:    "sk-e2e",
			Transport: model.TransportRelay,
			RelayURL:  relaySrv.URL,
		},
		Prompt: "hi",
	}) {
		if ev.Kind == provider.EventChunk {
			text.WriteString(ev.Text)
		}
		last = ev
	}

	require.Equal(t, provider.EventCompleted, last.Kind, "err: %v", last.Err)
	assert.Equal(t, "relayed", text.String())
	assert.Equal(t, "Bearer sk-e2e", got.header.Get("Authorization"))
}
