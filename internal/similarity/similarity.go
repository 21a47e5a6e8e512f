/*
PURPOSE:
  Lexical similarity over generated responses. Finds near-duplicate pairs,
  groups them into clusters, and classifies reference texts against the
  generated set.

REQUIREMENTS:
  User-specified:
  - Detect templated or duplicated outputs across models and repetitions.
  - Compare an externally written reference text against every generated
    response and bucket it red / yellow / green.

  Implementation-discovered:
  - Term weights are raw term frequency divided by document length. There is
    no IDF term; scores must stay numerically compatible with earlier exports.
  - The gated component of a classification is zeroed below its own 0.9 gate
    while the other two components are not. Keep it that way.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (on run completion), internal/cli (classify)
  - Uses: internal/model, github.com/agnivade/levenshtein

ERROR HANDLING:
  - None. Degenerate input (empty text, zero vectors) scores 0, or 1 for two
    empty strings under Levenshtein.

IMPLEMENTATION RULES:
  - Only done, non-empty responses take part.
  - The vocabulary is rebuilt per call over the participating texts only.
  - Output order follows response order so results are reproducible.

USAGE:
  sim := similarity.Analyze(run.Responses, 0.9)
  c := similarity.CompareReference(ref, run.Responses, similarity.DefaultThresholds())

SELF-HEALING INSTRUCTIONS:
  - If scores drift from older exports, check Tokenize against the
    ASCII-only word class first.

RELATED FILES:
  - internal/model/types.go
  - internal/engine/scheduler.go

MAINTENANCE:
  - Pairwise comparison is O(n^2) in responses; fine for a few hundred.
*/

package similarity

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/daryltucker/mimic-runner/internal/model"
)

// DefaultThreshold is the pair threshold used when none is configured.
const DefaultThreshold = 0.9

// gate is the fixed threshold applied to the third classification component.
const gate = 0.9

// Tokenize lowercases text, drops everything but ASCII word characters and
// whitespace, and splits on runs of any Unicode whitespace.
func Tokenize(text string) []string {
	return strings.Fields(strings.Map(keepWordOrSpace, strings.ToLower(text)))
}

func keepWordOrSpace(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		return r
	case unicode.IsSpace(r):
		return ' '
	default:
		return -1
	}
}

// TermFrequencies builds one vector per text over the union vocabulary of
// texts. Each component is the term count divided by the document's token
// count.
func TermFrequencies(texts []string) [][]float64 {
	docs := make([][]string, len(texts))
	vocab := make(map[string]int)
	for i, t := range texts {
		docs[i] = Tokenize(t)
		for _, tok := range docs[i] {
			if _, ok := vocab[tok]; !ok {
				vocab[tok] = len(vocab)
			}
		}
	}

	vectors := make([][]float64, len(docs))
	for i, doc := range docs {
		v := make([]float64, len(vocab))
		for _, tok := range doc {
			v[vocab[tok]]++
		}
		if n := float64(len(doc)); n > 0 {
			for k := range v {
				v[k] /= n
			}
		}
		vectors[i] = v
	}
	return vectors
}

// Cosine is the normalized dot product of a and b. It is 0 when either
// vector has zero norm or the lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	// Identical vectors give exactly 1.
	den := math.Sqrt(na * nb)
	if den == 0 {
		return 0
	}
	return dot / den
}

// TextCosine is the TF-cosine of two texts over their shared vocabulary.
func TextCosine(a, b string) float64 {
	v := TermFrequencies([]string{a, b})
	return Cosine(v[0], v[1])
}

// PairScore is TextCosine gated at threshold: below it the score is 0.
func PairScore(a, b string, threshold float64) float64 {
	s := TextCosine(a, b)
	if s < threshold {
		return 0
	}
	return s
}

// Levenshtein returns 1 - distance/maxLen over runes. Two empty strings are
// identical.
func Levenshtein(a, b string) float64 {
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

// usable filters responses down to those that take part in analysis.
func usable(responses []model.ResponseRecord) []model.ResponseRecord {
	out := make([]model.ResponseRecord, 0, len(responses))
	for _, r := range responses {
		if r.Usable() {
			out = append(out, r)
		}
	}
	return out
}

// FindSimilarPairs returns a symmetric adjacency map of every pair of usable
// responses whose TF-cosine is at least threshold.
func FindSimilarPairs(responses []model.ResponseRecord, threshold float64) map[string][]model.PairScore {
	pairs := make(map[string][]model.PairScore)
	rs := usable(responses)
	if len(rs) < 2 {
		return pairs
	}

	texts := make([]string, len(rs))
	for i, r := range rs {
		texts[i] = r.Text
	}
	vectors := TermFrequencies(texts)

	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			s := Cosine(vectors[i], vectors[j])
			if s < threshold {
				continue
			}
			a, b := rs[i].ID, rs[j].ID
			pairs[a] = append(pairs[a], model.PairScore{ID: b, Score: s})
			pairs[b] = append(pairs[b], model.PairScore{ID: a, Score: s})
		}
	}
	return pairs
}

// Clusters returns the connected components of pairs with two or more
// members. Traversal starts from ids in order, so the result is stable.
func Clusters(pairs map[string][]model.PairScore, order []string) []model.Cluster {
	visited := make(map[string]bool, len(pairs))
	var clusters []model.Cluster

	for _, start := range order {
		if visited[start] || len(pairs[start]) == 0 {
			continue
		}
		var members []string
		queue := []string{start}
		visited[start] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			members = append(members, cur)
			for _, edge := range pairs[cur] {
				if !visited[edge.ID] {
					visited[edge.ID] = true
					queue = append(queue, edge.ID)
				}
			}
		}
		if len(members) > 1 {
			clusters = append(clusters, model.Cluster{IDs: members})
		}
	}
	return clusters
}

// FindSimilarityClusters groups usable responses into clusters of mutually
// similar texts.
func FindSimilarityClusters(responses []model.ResponseRecord, threshold float64) []model.Cluster {
	return Clusters(FindSimilarPairs(responses, threshold), ids(responses))
}

// Analyze computes the pairs and clusters attached to a finished run.
func Analyze(responses []model.ResponseRecord, threshold float64) *model.Similarity {
	pairs := FindSimilarPairs(responses, threshold)
	return &model.Similarity{
		Pairs:    pairs,
		Clusters: Clusters(pairs, ids(responses)),
	}
}

func ids(responses []model.ResponseRecord) []string {
	out := make([]string, len(responses))
	for i, r := range responses {
		out[i] = r.ID
	}
	return out
}
