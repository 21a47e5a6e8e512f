/*
PURPOSE:
  Error taxonomy for provider calls.

REQUIREMENTS:
  - Callers can tell configuration, cancellation, HTTP status and
    transport failures apart with errors.Is / errors.As.

ARCHITECTURE INTEGRATION:
  - Used by: internal/engine/scheduler.go (log level by kind),
    internal/provider/httpclient.go (dial error retry decision)

MAINTENANCE:
  - Add new kinds here and teach Retryable about them.
*/

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/daryltucker/mimic-runner/internal/model"
)

// Configuration errors. Terminal; no network attempt is made.
var (
	ErrMissingCredential = errors.New("no API key configured for this provider")
	ErrMissingBaseURL    = errors.New("no base URL configured for this provider")
	ErrUnknownProvider   = errors.New("no adapter found for provider")
)

// ErrCanceled is reported when the caller cancels an in-flight request.
var ErrCanceled = errors.New("request was canceled")

// StatusError is a non-success upstream response.
type StatusError struct {
	Provider model.ProviderName
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: %d %s", DisplayName(e.Provider), e.Code, e.Body)
}

// TransportError wraps a network-level failure talking to a provider.
type TransportError struct {
	Provider model.ProviderName
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", DisplayName(e.Provider), e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsConfigError reports whether err stems from missing configuration.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrMissingBaseURL) ||
		errors.Is(err, ErrUnknownProvider)
}

// IsCanceled reports whether err is a user cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// Retryable reports whether a user-initiated retry could plausibly succeed.
func Retryable(err error) bool {
	if err == nil || IsConfigError(err) || IsCanceled(err) {
		return false
	}
	var se *StatusError
	var te *TransportError
	return errors.As(err, &se) || errors.As(err, &te)
}

// DisplayName is the human-readable provider name used in messages.
func DisplayName(p model.ProviderName) string {
	switch p {
	case model.ProviderOpenAI:
		return "OpenAI"
	case model.ProviderAnthropic:
		return "Anthropic"
	case model.ProviderDeepSeek:
		return "DeepSeek"
	case model.ProviderOpenAICompatible:
		return "OpenAI-compatible"
	default:
		return string(p)
	}
}

// classify maps a client error onto the error taxonomy.
func classify(ctx context.Context, p model.ProviderName, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return ErrCanceled
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se
	}
	return &TransportError{Provider: p, Err: err}
}

// isRetryableNetError checks if a network error is worth retrying before
// any response arrived.
func isRetryableNetError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary
	}

	return false
}
