/*
PURPOSE:
  Classifies reference texts against a run's responses into red, yellow
  or green buckets.

REQUIREMENTS:
  - Only usable responses (done, non-blank) are compared.
  - Confidence is the mean of Levenshtein, cosine and TF-IDF scores.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli (run --references, classify)

RELATED FILES:
  - internal/similarity/similarity.go
*/

package similarity

import (
	"github.com/daryltucker/mimic-runner/internal/model"
)

// Thresholds are the bucket boundaries for reference classification.
type Thresholds struct {
	Red    float64 `yaml:"red"`
	Yellow float64 `yaml:"yellow"`
}

// DefaultThresholds returns red 0.8, yellow 0.6.
func DefaultThresholds() Thresholds {
	return Thresholds{Red: 0.8, Yellow: 0.6}
}

// CompareReference scores ref against every usable response and buckets the
// best match. Each response scores the mean of Levenshtein similarity,
// TF-cosine, and TF-cosine gated at 0.9. LikelyModel is set for red only.
func CompareReference(ref model.ReferenceText, responses []model.ResponseRecord, th Thresholds) model.Classification {
	var (
		best       float64
		bestScores model.ComponentScores
		bestModel  string
		found      bool
	)

	for _, r := range responses {
		if !r.Usable() {
			continue
		}
		scores := model.ComponentScores{
			Levenshtein: Levenshtein(ref.Text, r.Text),
			Cosine:      TextCosine(ref.Text, r.Text),
			TFIDF:       PairScore(ref.Text, r.Text, gate),
		}
		avg := (scores.Levenshtein + scores.Cosine + scores.TFIDF) / 3
		if !found || avg > best {
			best, bestScores, found = avg, scores, true
			bestModel = string(r.Service) + "/" + r.ModelLabel
		}
	}

	c := model.Classification{
		ReferenceID: ref.ID,
		Confidence:  best,
		Scores:      bestScores,
	}
	switch {
	case found && best >= th.Red:
		c.Bucket = model.BucketRed
		c.LikelyModel = bestModel
	case found && best >= th.Yellow:
		c.Bucket = model.BucketYellow
	default:
		c.Bucket = model.BucketGreen
	}
	return c
}

// ClassifyAll runs CompareReference for each reference in order.
func ClassifyAll(refs []model.ReferenceText, responses []model.ResponseRecord, th Thresholds) []model.Classification {
	out := make([]model.Classification, 0, len(refs))
	for _, ref := range refs {
		out = append(out, CompareReference(ref, responses, th))
	}
	return out
}
