/*
PURPOSE:
  Defines the core data structures used throughout Mimic Runner.
  These types represent model catalogs, run configurations, per-job response
  records, and the similarity/classification results attached to a run.

REQUIREMENTS:
  User-specified:
  - Record status, text, latency and token counts per (model, repetition).
  - Track the run config snapshot and derived stats.

  Implementation-discovered:
  - Need JSON tags for export compatibility (snake_case columns mirror CSV).
  - Observers and history need deep copies, not shared slices.

ARCHITECTURE INTEGRATION:
  - Used by: internal/engine, internal/provider, internal/similarity, internal/output
  - Shared across boundaries.

ERROR HANDLING:
  - None (pure data structs).

IMPLEMENTATION RULES:
  - Keep structs simple and public.
  - Optional numeric fields are pointers so "absent" survives JSON export.

USAGE:
  rec := model.ResponseRecord{...}
  stats := model.ComputeStats(run.Responses)

SELF-HEALING INSTRUCTIONS:
  - If new columns are needed, add the field here and update output/csv.go.

RELATED FILES:
  - internal/output/csv.go
  - internal/output/json.go

MAINTENANCE:
  - Update Clone() when adding reference-typed fields.
*/

package model

import (
	"strings"
	"time"
)

// ProviderName identifies a text-generation backend.
type ProviderName string

const (
	ProviderOpenAI           ProviderName = "openai"
	ProviderAnthropic        ProviderName = "anthropic"
	ProviderDeepSeek         ProviderName = "deepseek"
	ProviderOpenAICompatible ProviderName = "openai_compatible"
)

// Providers lists every supported provider in display order.
var Providers = []ProviderName{
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderDeepSeek,
	ProviderOpenAICompatible,
}

// Valid reports whether p is a known provider.
func (p ProviderName) Valid() bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

// Transport selects how a request reaches the provider.
type Transport string

const (
	// TransportDirect sends the credential straight to the provider.
	TransportDirect Transport = "direct"
	// TransportRelay sends the credential to a same-origin forwarder.
	TransportRelay Transport = "relay"
)

// ModelSpec describes one selectable model. Immutable for the duration of a run.
type ModelSpec struct {
	ID          string       `json:"id" yaml:"id"`
	Label       string       `json:"label" yaml:"label"`
	Provider    ProviderName `json:"provider" yaml:"provider"`
	Temperature *float64     `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Enabled     bool         `json:"enabled" yaml:"enabled"`
}

// ProviderSettings holds the credential and routing for one provider.
type ProviderSettings struct {
	APIKey    string    `json:"-" yaml:"api_key"`
	BaseURL   string    `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Transport Transport `json:"transport,omitempty" yaml:"transport,omitempty"`
	// RelayURL is the origin hosting /api/relay/<provider>.
	RelayURL string `json:"relay_url,omitempty" yaml:"relay_url,omitempty"`
}

// EffectiveTransport returns the transport, defaulting to direct.
func (s ProviderSettings) EffectiveTransport() Transport {
	if s.Transport == "" {
		return TransportDirect
	}
	return s.Transport
}

// RunConfig is the caller-supplied description of one run.
type RunConfig struct {
	SystemPrompt     string    `json:"system_prompt,omitempty"`
	Question         string    `json:"question"`
	LoopCount        int       `json:"loop_count"`
	SelectedModelIDs []string  `json:"selected_model_ids"`
	Concurrency      int       `json:"concurrency"`
	CreatedAt        time.Time `json:"created_at"`
	LoopCapAtRunTime int       `json:"loop_cap_at_run_time"`
}

// Status is the lifecycle state of a job and its response record.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether no further transitions happen without a retry.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCanceled
}

// ResponseRecord is the mutable result of one (model, repetition) job.
type ResponseRecord struct {
	ID           string       `json:"id"`
	RunID        string       `json:"run_id"`
	Service      ProviderName `json:"service"`
	ModelID      string       `json:"model_id"`
	ModelLabel   string       `json:"model_label"`
	LoopIndex    int          `json:"loop_index"`
	Status       Status       `json:"status"`
	Text         string       `json:"text"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	LatencyMs    *int64       `json:"latency_ms,omitempty"`
	InputTokens  *int         `json:"input_tokens,omitempty"`
	OutputTokens *int         `json:"output_tokens,omitempty"`
	TotalTokens  *int         `json:"total_tokens,omitempty"`
	CharCount    int          `json:"char_count"`
	FinishReason string       `json:"finish_reason,omitempty"`
	Truncated    bool         `json:"truncated"`
	ErrorMessage string       `json:"error_message,omitempty"`
	RetryCount   int          `json:"retry_count"`
}

// Usable reports whether the record takes part in similarity analysis.
func (r ResponseRecord) Usable() bool {
	return r.Status == StatusDone && hasContent(r.Text)
}

// Stats are derived from a run's responses. Never stored independently.
type Stats struct {
	Total        int    `json:"total"`
	Completed    int    `json:"completed"`
	Errors       int    `json:"errors"`
	Canceled     int    `json:"canceled"`
	AvgLatencyMs *int64 `json:"avg_latency_ms,omitempty"`
}

// ComputeStats derives Stats from a response list.
func ComputeStats(responses []ResponseRecord) Stats {
	st := Stats{Total: len(responses)}
	var latencySum int64
	var latencyN int64
	for _, r := range responses {
		switch r.Status {
		case StatusDone:
			st.Completed++
		case StatusError:
			st.Errors++
		case StatusCanceled:
			st.Canceled++
		}
		if r.LatencyMs != nil {
			latencySum += *r.LatencyMs
			latencyN++
		}
	}
	if latencyN > 0 {
		// Nearest millisecond, halves round up.
		avg := (latencySum*2 + latencyN) / (latencyN * 2)
		st.AvgLatencyMs = &avg
	}
	return st
}

// PairScore is one edge of the similarity adjacency map.
type PairScore struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Cluster is a connected component of mutually similar responses.
type Cluster struct {
	IDs []string `json:"ids"`
}

// Similarity is attached to a run once every job is terminal.
type Similarity struct {
	Pairs    map[string][]PairScore `json:"pairs"`
	Clusters []Cluster              `json:"clusters,omitempty"`
}

// Run is the aggregate root for one invocation.
type Run struct {
	ID         string           `json:"id"`
	Config     RunConfig        `json:"config"`
	Responses  []ResponseRecord `json:"responses"`
	Stats      Stats            `json:"stats"`
	Similarity *Similarity      `json:"similarity,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (r Run) Clone() Run {
	out := r
	out.Config.SelectedModelIDs = append([]string(nil), r.Config.SelectedModelIDs...)
	out.Responses = make([]ResponseRecord, len(r.Responses))
	for i, rec := range r.Responses {
		out.Responses[i] = rec.clone()
	}
	if r.Stats.AvgLatencyMs != nil {
		v := *r.Stats.AvgLatencyMs
		out.Stats.AvgLatencyMs = &v
	}
	if r.Similarity != nil {
		sim := &Similarity{Pairs: make(map[string][]PairScore, len(r.Similarity.Pairs))}
		for id, edges := range r.Similarity.Pairs {
			sim.Pairs[id] = append([]PairScore(nil), edges...)
		}
		for _, c := range r.Similarity.Clusters {
			sim.Clusters = append(sim.Clusters, Cluster{IDs: append([]string(nil), c.IDs...)})
		}
		out.Similarity = sim
	}
	return out
}

func (r ResponseRecord) clone() ResponseRecord {
	out := r
	out.StartedAt = clonePtr(r.StartedAt)
	out.CompletedAt = clonePtr(r.CompletedAt)
	out.LatencyMs = clonePtr(r.LatencyMs)
	out.InputTokens = clonePtr(r.InputTokens)
	out.OutputTokens = clonePtr(r.OutputTokens)
	out.TotalTokens = clonePtr(r.TotalTokens)
	return out
}

func hasContent(text string) bool {
	return strings.TrimSpace(text) != ""
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ReferenceText is an externally supplied text to classify.
type ReferenceText struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Bucket is the classification outcome for a reference text.
type Bucket string

const (
	BucketRed    Bucket = "red"
	BucketYellow Bucket = "yellow"
	BucketGreen  Bucket = "green"
)

// ComponentScores are the individual scores averaged into a classification.
type ComponentScores struct {
	Levenshtein float64 `json:"levenshtein"`
	Cosine      float64 `json:"cosine"`
	TFIDF       float64 `json:"tf_idf"`
}

// Classification is the verdict for one reference text.
type Classification struct {
	ReferenceID string          `json:"reference_id"`
	Bucket      Bucket          `json:"classification"`
	Confidence  float64         `json:"confidence"`
	LikelyModel string          `json:"likely_model,omitempty"`
	Scores      ComponentScores `json:"similarity_scores"`
}

// StatusSnapshot is the derived progress view returned by the scheduler.
type StatusSnapshot struct {
	IsRunning bool `json:"is_running"`
	Completed int  `json:"completed"`
	Total     int  `json:"total"`
	Errors    int  `json:"errors"`
}
