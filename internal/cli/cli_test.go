package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/mimic-runner/internal/model"
	"github.com/daryltucker/mimic-runner/internal/output"
	"github.com/daryltucker/mimic-runner/internal/similarity"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.ExecuteContext(t.Context())
	return buf.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestListModels(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := writeFile(t, "cfg.yaml", `
models:
  - id: gpt-4o-mini
    label: GPT-4o Mini
    provider: openai
    enabled: true
  - id: claude-3-haiku-20240307
    label: Claude 3 Haiku
    provider: anthropic
`)

	out, err := execute(t, "--config", path, "list-models")
	require.NoError(t, err)
	assert.Contains(t, out, "gpt-4o-mini")
	assert.Contains(t, out, "set")
	assert.Contains(t, out, "missing ($ANTHROPIC_API_KEY)")
	assert.NotContains(t, out, "sk-test")
}

func TestRunRequiresQuestionAndModels(t *testing.T) {
	path := writeFile(t, "cfg.yaml", "concurrency: 1\n")
	t.Cleanup(func() { questions = nil })

	_, err := execute(t, "--config", path, "run")
	assert.ErrorContains(t, err, "no question given")

	_, err = execute(t, "--config", path, "run", "-q", "hello")
	assert.ErrorContains(t, err, "no models selected")
}

func TestClassifyCommand(t *testing.T) {
	run := model.Run{
		ID:     "r1",
		Config: model.RunConfig{Question: "q"},
		Responses: []model.ResponseRecord{
			{ID: "a", Service: model.ProviderOpenAI, ModelLabel: "GPT-4o", Status: model.StatusDone,
				Text: "the quick brown fox jumps over the lazy dog"},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, output.WriteRunJSON(&buf, run))
	runPath := writeFile(t, "run.json", buf.String())
	refsPath := writeFile(t, "refs.csv", "answer\nthe quick brown fox jumps over the lazy dog\nsomething entirely different here\n")

	out, err := execute(t, "classify", runPath, "--references", refsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "RED")
	assert.Contains(t, out, "openai/GPT-4o")
	assert.Contains(t, out, "GREEN")
}

func TestJournalWritesEachTerminalResponseOnce(t *testing.T) {
	var buf bytes.Buffer
	j := newJournal(output.NewJSONWriter(&buf))

	run := model.Run{Responses: []model.ResponseRecord{
		{ID: "a", Status: model.StatusInProgress},
		{ID: "b", Status: model.StatusError},
	}}
	j.observe(run)
	j.observe(run)

	run.Responses[0].Status = model.StatusDone
	j.observe(run)

	run.Responses[1].Status = model.StatusDone
	run.Responses[1].RetryCount = 1
	j.observe(run)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var ids []string
	for _, l := range lines {
		var r model.ResponseRecord
		require.NoError(t, json.Unmarshal([]byte(l), &r))
		ids = append(ids, r.ID+":"+string(r.Status))
	}
	assert.Equal(t, []string{"b:error", "a:done", "b:done"}, ids)
}

func TestPrintRun(t *testing.T) {
	latency := int64(120)
	run := model.Run{
		ID: "r1",
		Config: model.RunConfig{Question: "q", LoopCount: 1, Concurrency: 2,
			SelectedModelIDs: []string{"m"}},
		Responses: []model.ResponseRecord{
			{ID: "a", ModelLabel: "M", Status: model.StatusDone, Text: "hello world", LatencyMs: &latency},
			{ID: "b", ModelLabel: "M", Status: model.StatusError, ErrorMessage: "OpenAI API error: 401"},
		},
		Similarity: &model.Similarity{Clusters: []model.Cluster{{IDs: []string{"a", "b"}}}},
	}
	run.Stats = model.ComputeStats(run.Responses)

	var buf bytes.Buffer
	printRun(&buf, run)
	out := buf.String()
	assert.Contains(t, out, "120ms")
	assert.Contains(t, out, "OpenAI API error: 401")
	assert.Contains(t, out, "1/2 done, 1 errors, 0 canceled, avg latency 120ms")
	assert.Contains(t, out, "cluster 1: #1 M, #2 M")
}

func TestPrintClassificationsGreenWithoutResponses(t *testing.T) {
	var buf bytes.Buffer
	refs := []model.ReferenceText{{ID: "x", Text: "anything"}}
	printClassifications(&buf, refs, model.Run{}, similarity.DefaultThresholds())
	assert.Contains(t, buf.String(), "GREEN")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b", preview("  a\n\tb "))
	long := strings.Repeat("é", previewLen+5)
	got := []rune(preview(long))
	assert.Len(t, got, previewLen)
	assert.Equal(t, '…', got[len(got)-1])
}
