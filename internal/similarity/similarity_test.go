package similarity

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/mimic-runner/internal/model"
)

func done(id, text string) model.ResponseRecord {
	return model.ResponseRecord{ID: id, Status: model.StatusDone, Text: text, Service: model.ProviderOpenAI, ModelLabel: "GPT " + id}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Hello, World!", []string{"hello", "world"}},
		{"  spaced\t\nout  ", []string{"spaced", "out"}},
		{"snake_case and 42", []string{"snake_case", "and", "42"}},
		{"...", []string{}},
		{"", []string{}},
		{"hello\u00a0world", []string{"hello", "world"}},
		{"hello\vworld", []string{"hello", "world"}},
		{"em\u2003space\u3000ideographic", []string{"em", "space", "ideographic"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Tokenize(tt.in), tt.in)
	}
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 1.0, Levenshtein("abc", "abc"))
	assert.Equal(t, 1.0, Levenshtein("", ""))
	assert.Equal(t, 0.0, Levenshtein("abc", ""))
	assert.Equal(t, 0.0, Levenshtein("", "abc"))
	assert.InDelta(t, 1-1.0/3, Levenshtein("abc", "abd"), 1e-12)
	assert.InDelta(t, 1-3.0/7, Levenshtein("kitten", "sitting"), 1e-12)
	// Runes, not bytes.
	assert.InDelta(t, 0.5, Levenshtein("né", "ne"), 1e-12)
}

func TestCosine(t *testing.T) {
	assert.Equal(t, 0.0, TextCosine("apples oranges", "cars trucks"), "disjoint vocabularies")
	assert.Equal(t, 0.0, TextCosine("", "anything"), "zero norm")
	assert.Equal(t, 0.0, Cosine([]float64{1}, []float64{1, 2}))
	assert.InDelta(t, 1.0, TextCosine("The cat sat.", "the CAT sat"), 1e-12)
	assert.InDelta(t, 1.0, TextCosine("hello world", "hello\u00a0world"), 1e-12, "non-breaking space separates words")

	// "a b" vs "a c": tf vectors (.5,.5,0) and (.5,0,.5).
	assert.InDelta(t, 0.5, TextCosine("a b", "a c"), 1e-12)
}

func TestTermFrequenciesNormalizeByLength(t *testing.T) {
	v := TermFrequencies([]string{"x x y", "y"})
	require.Len(t, v, 2)
	assert.Equal(t, []float64{2.0 / 3, 1.0 / 3}, v[0])
	assert.Equal(t, []float64{0, 1}, v[1])
}

func TestPairScoreGate(t *testing.T) {
	assert.Equal(t, 0.0, PairScore("a b", "a c", 0.9))
	assert.InDelta(t, 0.5, PairScore("a b", "a c", 0.5), 1e-12)
	assert.InDelta(t, 1.0, PairScore("same words", "same words", 0.9), 1e-12)
}

func TestFindSimilarPairsIdenticalAtThresholdOne(t *testing.T) {
	pairs := FindSimilarPairs([]model.ResponseRecord{
		done("a", "The quick brown fox"),
		done("b", "the quick brown fox!"),
	}, 1.0)

	require.Len(t, pairs, 2)
	require.Len(t, pairs["a"], 1)
	require.Len(t, pairs["b"], 1)
	assert.Equal(t, "b", pairs["a"][0].ID)
	assert.Equal(t, "a", pairs["b"][0].ID)
	assert.InDelta(t, 1.0, pairs["a"][0].Score, 1e-9)
	assert.Equal(t, pairs["a"][0].Score, pairs["b"][0].Score)
}

func TestFindSimilarPairsIgnoresUnusable(t *testing.T) {
	rs := []model.ResponseRecord{
		done("a", "repeat me please"),
		{ID: "b", Status: model.StatusError, Text: "repeat me please"},
		{ID: "c", Status: model.StatusInProgress, Text: "repeat me please"},
		done("d", "   "),
		done("e", "repeat me please"),
	}
	pairs := FindSimilarPairs(rs, 0.9)

	assert.ElementsMatch(t, []string{"a", "e"}, keys(pairs))
}

func TestFindSimilarPairsTooFew(t *testing.T) {
	assert.Empty(t, FindSimilarPairs(nil, 0.5))
	assert.Empty(t, FindSimilarPairs([]model.ResponseRecord{done("a", "solo")}, 0.5))
}

func TestClustersAreConnectedComponents(t *testing.T) {
	rs := []model.ResponseRecord{
		done("a", "alpha beta gamma"),
		done("b", "unrelated words here"),
		done("c", "alpha beta gamma"),
		done("d", "unrelated words here"),
		done("e", "something else entirely"),
		done("f", "alpha beta gamma"),
	}

	got := FindSimilarityClusters(rs, 0.9)
	want := []model.Cluster{
		{IDs: []string{"a", "c", "f"}},
		{IDs: []string{"b", "d"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("clusters mismatch (-want +got):\n%s", diff)
	}
}

func TestClustersNeverSingleton(t *testing.T) {
	pairs := map[string][]model.PairScore{
		"a": {{ID: "b", Score: 1}},
		"b": {{ID: "a", Score: 1}},
		"z": nil,
	}
	for _, c := range Clusters(pairs, []string{"z", "a", "b", "q"}) {
		assert.GreaterOrEqual(t, len(c.IDs), 2)
	}
	assert.Empty(t, FindSimilarityClusters([]model.ResponseRecord{done("a", "x"), done("b", "y")}, 0.9))
}

func TestClustersTransitive(t *testing.T) {
	// a~b and b~c chain into one cluster even if a and c are not paired.
	pairs := map[string][]model.PairScore{
		"a": {{ID: "b"}},
		"b": {{ID: "a"}, {ID: "c"}},
		"c": {{ID: "b"}},
	}
	got := Clusters(pairs, []string{"c", "b", "a"})
	require.Len(t, got, 1)
	assert.Equal(t, []string{"c", "b", "a"}, got[0].IDs)
}

func TestAnalyze(t *testing.T) {
	sim := Analyze([]model.ResponseRecord{done("a", "same"), done("b", "same"), done("c", "other")}, DefaultThreshold)
	require.NotNil(t, sim)
	assert.Len(t, sim.Pairs, 2)
	assert.Equal(t, []model.Cluster{{IDs: []string{"a", "b"}}}, sim.Clusters)
}

func TestCompareReferenceIdenticalIsRed(t *testing.T) {
	rs := []model.ResponseRecord{
		done("a", "Completely different response about weather."),
		{ID: "b", Status: model.StatusDone, Text: "The mitochondria is the powerhouse of the cell.", Service: model.ProviderAnthropic, ModelLabel: "Claude 3 Haiku"},
	}
	ref := model.ReferenceText{ID: "ref-1", Text: "The mitochondria is the powerhouse of the cell."}

	got := CompareReference(ref, rs, Thresholds{Red: 0.8, Yellow: 0.6})

	want := model.Classification{
		ReferenceID: "ref-1",
		Bucket:      model.BucketRed,
		Confidence:  1,
		LikelyModel: "anthropic/Claude 3 Haiku",
		Scores:      model.ComponentScores{Levenshtein: 1, Cosine: 1, TFIDF: 1},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("classification mismatch (-want +got):\n%s", diff)
	}
}

func TestCompareReferenceBuckets(t *testing.T) {
	rs := []model.ResponseRecord{done("a", "a b")}

	// Levenshtein("a c","a b") = 2/3, cosine 0.5, gated 0 -> mean 7/18.
	c := CompareReference(model.ReferenceText{ID: "r", Text: "a c"}, rs, Thresholds{Red: 0.8, Yellow: 0.3})
	assert.Equal(t, model.BucketYellow, c.Bucket)
	assert.Empty(t, c.LikelyModel, "attribution is for red only")
	assert.InDelta(t, 7.0/18, c.Confidence, 1e-9)
	assert.Equal(t, 0.0, c.Scores.TFIDF)

	c = CompareReference(model.ReferenceText{ID: "r", Text: "a c"}, rs, DefaultThresholds())
	assert.Equal(t, model.BucketGreen, c.Bucket)
}

func TestCompareReferenceIgnoresUnfinished(t *testing.T) {
	rs := []model.ResponseRecord{{ID: "x", Status: model.StatusError, Text: "copy"}}
	c := CompareReference(model.ReferenceText{ID: "r", Text: "copy"}, rs, DefaultThresholds())
	assert.Equal(t, model.BucketGreen, c.Bucket)
	assert.Zero(t, c.Confidence)

	c = CompareReference(model.ReferenceText{ID: "r", Text: "copy"}, nil, Thresholds{})
	assert.Equal(t, model.BucketGreen, c.Bucket)
}

func TestCompareReferenceIgnoresBlankResponses(t *testing.T) {
	// "  a" vs "   " would score Levenshtein 2/3 if blank text took part.
	rs := []model.ResponseRecord{done("blank", "   ")}
	c := CompareReference(model.ReferenceText{ID: "r", Text: "  a"}, rs, DefaultThresholds())
	assert.Equal(t, model.BucketGreen, c.Bucket)
	assert.Zero(t, c.Confidence)
	assert.Equal(t, model.ComponentScores{}, c.Scores)
}

func TestClassifyAllKeepsOrder(t *testing.T) {
	rs := []model.ResponseRecord{done("a", "hello there")}
	refs := []model.ReferenceText{{ID: "1", Text: "hello there"}, {ID: "2", Text: "zzz"}}
	got := ClassifyAll(refs, rs, DefaultThresholds())
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ReferenceID)
	assert.Equal(t, model.BucketRed, got[0].Bucket)
	assert.Equal(t, "2", got[1].ReferenceID)
	assert.Equal(t, model.BucketGreen, got[1].Bucket)
}

func keys(m map[string][]model.PairScore) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
