/*
PURPOSE:
  Same-origin credential forwarder. Accepts a provider request carrying the
  caller's key in a neutral header and re-issues it upstream with the
  provider's native authentication.

REQUIREMENTS:
  User-specified:
  - POST /api/relay/:provider for openai, anthropic and deepseek.
  - Missing x-user-api-key is a 400.
  - Upstream errors come back with the upstream status and body.
  - Successful bodies stream back unmodified.

  Implementation-discovered:
  - openai_compatible is not relayed; its base URL is caller-controlled.
  - Upstream base URLs are overridable so tests can point at httptest.
  - Network failures reaching upstream are a 502.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (relay command)
  - Dependencies: labstack/echo/v4, internal/provider, internal/metrics

ERROR HANDLING:
  - Never retries. The calling client owns retry policy.
  - Client disconnects cancel the upstream request via the request context.

IMPLEMENTATION RULES:
  - Flush after every upstream read.
  - Never log the credential.

USAGE:
  srv := relay.New(relay.Options{Metrics: m})
  err := srv.Start(":8787")

SELF-HEALING INSTRUCTIONS:
  - If a provider changes its auth header, update authorize().

RELATED FILES:
  - internal/provider/provider.go (endpoint construction on the client side)

MAINTENANCE:
  - Add a route entry when a new relayable provider is supported.
*/

package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/daryltucker/mimic-runner/internal/metrics"
	"github.com/daryltucker/mimic-runner/internal/model"
	"github.com/daryltucker/mimic-runner/internal/output"
	"github.com/daryltucker/mimic-runner/internal/provider"
)

const readBuffer = 4 << 10

// routes maps each relayable provider to its upstream path.
var routes = map[model.ProviderName]string{
	model.ProviderOpenAI:    "/chat/completions",
	model.ProviderAnthropic: "/messages",
	model.ProviderDeepSeek:  "/chat/completions",
}

// Options configures a Server.
type Options struct {
	// Upstreams overrides provider.DefaultBaseURL per provider.
	Upstreams map[model.ProviderName]string
	Client    *http.Client
	Metrics   *metrics.Collector
}

// Server forwards relay requests upstream.
type Server struct {
	echo      *echo.Echo
	client    *http.Client
	upstreams map[model.ProviderName]string
	metrics   *metrics.Collector
}

// New creates a Server with its routes registered.
func New(opts Options) *Server {
	s := &Server{
		echo:      echo.New(),
		client:    opts.Client,
		upstreams: make(map[model.ProviderName]string, len(routes)),
		metrics:   opts.Metrics,
	}
	if s.client == nil {
		s.client = &http.Client{}
	}
	for p := range routes {
		base := opts.Upstreams[p]
		if base == "" {
			base = provider.DefaultBaseURL(p)
		}
		s.upstreams[p] = strings.TrimRight(base, "/")
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.RegisterRoutes(s.echo)
	return s
}

// RegisterRoutes registers relay, health and metrics routes on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST(provider.RelayPathPrefix+":provider", s.Relay)
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	output.Logger.Infow("Relay listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Relay handles POST /api/relay/:provider.
func (s *Server) Relay(c echo.Context) error {
	name := model.ProviderName(c.Param("provider"))
	path, ok := routes[name]
	if !ok {
		s.metrics.RelayRequest("unknown", http.StatusNotFound)
		return c.String(http.StatusNotFound, "Unknown provider")
	}

	key := c.Request().Header.Get(provider.CredentialHeader)
	if key == "" {
		s.metrics.RelayRequest(string(name), http.StatusBadRequest)
		return c.String(http.StatusBadRequest, "Missing "+provider.CredentialHeader)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		s.metrics.RelayRequest(string(name), http.StatusBadRequest)
		return c.String(http.StatusBadRequest, "Unreadable request body")
	}

	ctx := c.Request().Context()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.upstreams[name]+path, bytes.NewReader(body))
	if err != nil {
		s.metrics.RelayRequest(string(name), http.StatusInternalServerError)
		return c.String(http.StatusInternalServerError, "Internal server error")
	}
	req.Header.Set("Content-Type", "application/json")
	authorize(req.Header, name, key)

	resp, err := s.client.Do(req)
	if err != nil {
		output.Logger.Warnw("Relay upstream unreachable", "provider", name, "error", err)
		s.metrics.RelayRequest(string(name), http.StatusBadGateway)
		return c.String(http.StatusBadGateway, "Upstream unreachable")
	}
	defer resp.Body.Close()

	s.metrics.RelayRequest(string(name), resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(resp.Body)
		output.Logger.Debugw("Relay upstream error", "provider", name, "status", resp.StatusCode)
		return c.Blob(resp.StatusCode, contentType(resp, echo.MIMETextPlainCharsetUTF8), errBody)
	}

	return s.pipe(c, resp)
}

// pipe copies the upstream body to the client, flushing after every read.
func (s *Server) pipe(c echo.Context, resp *http.Response) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, contentType(resp, "text/event-stream"))
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)
	w.Flush()

	buf := make([]byte, readBuffer)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return nil
			}
			w.Flush()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// Headers are already sent; the client sees a short stream.
			output.Logger.Warnw("Relay stream interrupted", "error", err)
			return nil
		}
	}
}

func authorize(h http.Header, p model.ProviderName, key string) {
	switch p {
	case model.ProviderAnthropic:
		h.Set("x-api-key", key)
		h.Set("anthropic-version", provider.AnthropicVersion)
	default:
		h.Set("Authorization", "Bearer "+key)
	}
}

func contentType(resp *http.Response, fallback string) string {
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "" {
		return ct
	}
	return fallback
}
