package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/mimic-runner/internal/model"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestCollectorCounts(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.JobStarted()
	c.JobStarted()
	c.Chunk(model.ProviderOpenAI)
	c.JobFinished(model.ProviderOpenAI, model.StatusDone)
	c.JobSkipped(model.ProviderAnthropic, model.StatusError)
	c.RelayRequest("openai", http.StatusBadGateway)

	body := scrape(t, c)
	assert.Contains(t, body, "mimic_runner_jobs_in_flight 1")
	assert.Contains(t, body, `mimic_runner_jobs_finished_total{provider="openai",status="done"} 1`)
	assert.Contains(t, body, `mimic_runner_jobs_finished_total{provider="anthropic",status="error"} 1`)
	assert.Contains(t, body, `mimic_runner_stream_chunks_total{provider="openai"} 1`)
	assert.Contains(t, body, `mimic_runner_relay_requests_total{code="502",provider="openai"} 1`)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.JobStarted()
		c.JobFinished(model.ProviderOpenAI, model.StatusDone)
		c.JobSkipped(model.ProviderOpenAI, model.StatusError)
		c.Chunk(model.ProviderOpenAI)
		c.RelayRequest("openai", 200)
	})
}

func TestPrivateRegistry(t *testing.T) {
	a, b := New(nil), New(nil)
	a.JobStarted()
	assert.Contains(t, scrape(t, a), "mimic_runner_jobs_in_flight 1")
	assert.Contains(t, scrape(t, b), "mimic_runner_jobs_in_flight 0")
}
