/*
PURPOSE:
  JSON export/import of whole runs, plus a JSON Lines journal of finished
  responses written while a run is still going.

REQUIREMENTS:
  User-specified:
  - JSON output for easier parsing.

  Implementation-discovered:
  - The journal must be append-friendly so an interrupted run still leaves
    every finished response on disk.
  - Exported runs are read back by the classify command.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (Export), internal/cli (run, classify)
  - Consumes: internal/model.Run, internal/model.ResponseRecord

ERROR HANDLING:
  - Returns error on encode/decode failure.

IMPLEMENTATION RULES:
  - Use encoding/json.NewEncoder.
  - JSONWriter is thread-safe.

USAGE:
  err := output.WriteRunJSON(f, run)
  run, err := output.ReadRunJSON(f)
  j := output.NewJSONWriter(f); j.Write(record)

SELF-HEALING INSTRUCTIONS:
  - None specific.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - JSON field names come from struct tags in internal/model.
*/

package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/daryltucker/mimic-runner/internal/model"
)

// JSONWriter appends response records as JSON Lines.
type JSONWriter struct {
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter creates a JSONWriter over w.
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{encoder: json.NewEncoder(w)}
}

// Write writes a single record as one JSON line.
func (jw *JSONWriter) Write(r model.ResponseRecord) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	return jw.encoder.Encode(r)
}

// WriteRunJSON writes run as indented JSON.
func WriteRunJSON(w io.Writer, run model.Run) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}
	return nil
}

// ReadRunJSON decodes a run written by WriteRunJSON.
func ReadRunJSON(r io.Reader) (model.Run, error) {
	var run model.Run
	if err := json.NewDecoder(r).Decode(&run); err != nil {
		return model.Run{}, fmt.Errorf("failed to decode run: %w", err)
	}
	run.Stats = model.ComputeStats(run.Responses)
	return run, nil
}
