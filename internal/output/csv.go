/*
PURPOSE:
  CSV export of runs and CSV import of reference texts.

REQUIREMENTS:
  User-specified:
  - One header line plus one row per response.
  - Fields containing a comma, quote or newline are quoted, quotes doubled.
  - Reference texts come from any CSV whose header names a response, text
    or answer column.

  Implementation-discovered:
  - Spreadsheet exports of references often carry stray quotes; parse leniently.
  - Rows with an empty text cell are skipped, not errors.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Export), internal/cli (classify)
  - Consumes: internal/model.Run, internal/model.ResponseRecord

ERROR HANDLING:
  - Returns error on write failure, missing header, or no data rows.

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Flush() after every row so partial exports survive a crash.
  - Mutex guards concurrent Write calls.

USAGE:
  err := output.WriteRunCSV(f, run)
  refs, err := output.ReadReferencesCSV(f)

SELF-HEALING INSTRUCTIONS:
  - If CSV format changes, update RunCSVHeader and row() together.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Column order is part of the export format. Append, never reorder.
*/

package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daryltucker/mimic-runner/internal/model"
)

// TimeFormat is used for every timestamp in exports.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// RunCSVHeader is the column layout of a run export.
var RunCSVHeader = []string{
	"run_id", "run_created_at", "system_prompt", "question",
	"service", "model_id", "model_label", "loop_index", "status",
	"started_at", "completed_at", "latency_ms", "char_count",
	"input_tokens", "output_tokens", "total_tokens",
	"finish_reason", "truncated", "retry_count", "text",
}

var (
	// ErrNoReferenceRows is returned when a references CSV has no data rows.
	ErrNoReferenceRows = errors.New("CSV must have at least a header and one data row")
	// ErrNoTextColumn is returned when no header names the text column.
	ErrNoTextColumn = errors.New(`CSV must contain a column with "response", "text", or "answer" in the header`)
)

// CSVWriter writes response rows under RunCSVHeader.
type CSVWriter struct {
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter writes the header to w and returns a row writer.
func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(RunCSVHeader); err != nil {
		return nil, err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return &CSVWriter{writer: cw}, nil
}

// Write writes one response row. It is thread-safe.
func (cw *CSVWriter) Write(run model.Run, r model.ResponseRecord) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := cw.writer.Write(row(run, r)); err != nil {
		return err
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

// WriteRunCSV writes the header and every response of run to w.
func WriteRunCSV(w io.Writer, run model.Run) error {
	cw, err := NewCSVWriter(w)
	if err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range run.Responses {
		if err := cw.Write(run, r); err != nil {
			return fmt.Errorf("failed to write CSV row %s: %w", r.ID, err)
		}
	}
	return nil
}

func row(run model.Run, r model.ResponseRecord) []string {
	return []string{
		run.ID,
		formatTime(&run.Config.CreatedAt),
		run.Config.SystemPrompt,
		run.Config.Question,
		string(r.Service),
		r.ModelID,
		r.ModelLabel,
		strconv.Itoa(r.LoopIndex),
		string(r.Status),
		formatTime(r.StartedAt),
		formatTime(r.CompletedAt),
		formatInt64(r.LatencyMs),
		strconv.Itoa(r.CharCount),
		formatInt(r.InputTokens),
		formatInt(r.OutputTokens),
		formatInt(r.TotalTokens),
		r.FinishReason,
		strconv.FormatBool(r.Truncated),
		strconv.Itoa(r.RetryCount),
		r.Text,
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeFormat)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatInt64(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

// ReadReferencesCSV parses reference texts. The text column is the first
// header containing "response", "text" or "answer"; other non-empty cells
// become metadata keyed by their header.
func ReadReferencesCSV(r io.Reader) ([]model.ReferenceText, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse references CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, ErrNoReferenceRows
	}

	header := make([]string, len(records[0]))
	textCol := -1
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.ReplaceAll(h, `"`, ""))
		lower := strings.ToLower(header[i])
		if textCol < 0 && (strings.Contains(lower, "response") || strings.Contains(lower, "text") || strings.Contains(lower, "answer")) {
			textCol = i
		}
	}
	if textCol < 0 {
		return nil, ErrNoTextColumn
	}

	var refs []model.ReferenceText
	for _, rec := range records[1:] {
		if len(rec) <= textCol {
			continue
		}
		text := strings.TrimSpace(rec[textCol])
		if text == "" {
			continue
		}

		var meta map[string]string
		for i, v := range rec {
			v = strings.TrimSpace(v)
			if i == textCol || i >= len(header) || v == "" {
				continue
			}
			if meta == nil {
				meta = make(map[string]string)
			}
			meta[header[i]] = v
		}
		refs = append(refs, model.ReferenceText{ID: uuid.NewString(), Text: text, Metadata: meta})
	}
	return refs, nil
}
