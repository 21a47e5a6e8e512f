package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/daryltucker/mimic-runner/internal/model"
	"github.com/daryltucker/mimic-runner/internal/output"
	"github.com/daryltucker/mimic-runner/internal/similarity"
)

const previewLen = 60

func loadReferences(path string) ([]model.ReferenceText, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open references: %w", err)
	}
	defer f.Close()

	refs, err := output.ReadReferencesCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return refs, nil
}

// printRun writes a per-response table followed by the similarity clusters.
func printRun(w io.Writer, run model.Run) {
	fmt.Fprintf(w, "\nRun %s: %q\n", run.ID, run.Config.Question)
	fmt.Fprintf(w, "%d model(s) x %d repetition(s), concurrency %d",
		len(run.Config.SelectedModelIDs), run.Config.LoopCount, run.Config.Concurrency)
	if run.Config.LoopCapAtRunTime > 0 {
		fmt.Fprintf(w, ", loop cap %d", run.Config.LoopCapAtRunTime)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tMODEL\tLOOP\tSTATUS\tLATENCY\tCHARS\tTEXT")
	for i, r := range run.Responses {
		latency := "-"
		if r.LatencyMs != nil {
			latency = fmt.Sprintf("%dms", *r.LatencyMs)
		}
		text := preview(r.Text)
		if r.Status == model.StatusError {
			text = preview(r.ErrorMessage)
		}
		if r.Truncated {
			text += " [truncated]"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%d\t%s\n",
			i+1, r.ModelLabel, r.LoopIndex+1, r.Status, latency, r.CharCount, text)
	}
	tw.Flush()

	st := run.Stats
	fmt.Fprintf(w, "\n%d/%d done, %d errors, %d canceled", st.Completed, st.Total, st.Errors, st.Canceled)
	if st.AvgLatencyMs != nil {
		fmt.Fprintf(w, ", avg latency %dms", *st.AvgLatencyMs)
	}
	fmt.Fprintln(w)

	if run.Similarity == nil || len(run.Similarity.Clusters) == 0 {
		return
	}
	index := make(map[string]int, len(run.Responses))
	for i, r := range run.Responses {
		index[r.ID] = i
	}
	fmt.Fprintln(w, "\nSimilar responses:")
	for n, c := range run.Similarity.Clusters {
		members := make([]string, 0, len(c.IDs))
		for _, id := range c.IDs {
			i := index[id]
			members = append(members, fmt.Sprintf("#%d %s", i+1, run.Responses[i].ModelLabel))
		}
		fmt.Fprintf(w, "  cluster %d: %s\n", n+1, strings.Join(members, ", "))
	}
}

// printClassifications scores refs against run and writes one line per ref.
func printClassifications(w io.Writer, refs []model.ReferenceText, run model.Run, th similarity.Thresholds) {
	results := similarity.ClassifyAll(refs, run.Responses, th)

	fmt.Fprintln(w, "\nReference classification:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BUCKET\tCONFIDENCE\tLIKELY MODEL\tLEV\tCOS\tTF\tREFERENCE")
	for i, c := range results {
		likely := c.LikelyModel
		if likely == "" {
			likely = "-"
		}
		fmt.Fprintf(tw, "%s\t%.3f\t%s\t%.3f\t%.3f\t%.3f\t%s\n",
			strings.ToUpper(string(c.Bucket)), c.Confidence, likely,
			c.Scores.Levenshtein, c.Scores.Cosine, c.Scores.TFIDF, preview(refs[i].Text))
	}
	tw.Flush()
}

// printHistory lists archived runs, newest first.
func printHistory(w io.Writer, runs []model.Run) {
	fmt.Fprintln(w, "\nSession history:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tDONE\tERRORS\tCLUSTERS\tQUESTION")
	for _, r := range runs {
		clusters := 0
		if r.Similarity != nil {
			clusters = len(r.Similarity.Clusters)
		}
		fmt.Fprintf(tw, "%s\t%d/%d\t%d\t%d\t%s\n",
			r.ID, r.Stats.Completed, r.Stats.Total, r.Stats.Errors, clusters, preview(r.Config.Question))
	}
	tw.Flush()
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen-1]) + "…"
}
