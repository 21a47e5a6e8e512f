/*
PURPOSE:
  High-level runner that drives one question to completion.
  Starts the run, waits, performs explicit retry rounds, and writes results.

REQUIREMENTS:
  User-specified:
  - Retry is an explicit caller action, never automatic.
  - Log results to CSV/JSON.

  Implementation-discovered:
  - An interrupted run still has useful partial results; return them.
  - Each run gets its own files so repeated questions do not overwrite.

ARCHITECTURE INTEGRATION:
  - Called by: internal/cli
  - Uses: internal/engine (Scheduler), internal/output

ERROR HANDLING:
  - Job errors stay on the run. Only start failures, interruption, and
    file I/O are returned.

IMPLEMENTATION RULES:
  - Retry rounds stop early when nothing failed.
  - Export writes <dir>/run-<id>.csv and <dir>/run-<id>.json.

USAGE:
  run, err := engine.Execute(ctx, s, cfg, 1)
  csvPath, jsonPath, err := engine.Export(run, "./results")

SELF-HEALING INSTRUCTIONS:
  - None.

RELATED FILES:
  - internal/engine/scheduler.go
  - internal/output/csv.go
  - internal/output/json.go

MAINTENANCE:
  - Update Export when adding output formats.
*/

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/daryltucker/mimic-runner/internal/model"
	"github.com/daryltucker/mimic-runner/internal/output"
)

// Execute starts a run for cfg, waits for it to go idle, and then performs up
// to retryRounds RetryErrors passes. If ctx ends first the run is canceled
// and the partial run is returned with the context error.
func Execute(ctx context.Context, s *Scheduler, cfg model.RunConfig, retryRounds int) (model.Run, error) {
	if _, err := s.StartRun(cfg); err != nil {
		return model.Run{}, fmt.Errorf("failed to start run: %w", err)
	}

	run, err := s.Wait(ctx)
	for round := 1; err == nil && round <= retryRounds && run.Stats.Errors > 0; round++ {
		output.Logger.Infow("Retry round", "round", round, "errors", run.Stats.Errors)
		if s.RetryErrors() == 0 {
			break
		}
		run, err = s.Wait(ctx)
	}

	if err != nil {
		s.CancelRun()
		run, _ = s.Current()
		return run, fmt.Errorf("run interrupted: %w", err)
	}
	return run, nil
}

// Export writes run as CSV and JSON into dir, creating it if needed.
func Export(run model.Run, dir string) (csvPath, jsonPath string, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	base := filepath.Join(dir, "run-"+run.ID)
	csvPath, jsonPath = base+".csv", base+".json"

	if err := writeFile(csvPath, func(f *os.File) error { return output.WriteRunCSV(f, run) }); err != nil {
		return "", "", err
	}
	if err := writeFile(jsonPath, func(f *os.File) error { return output.WriteRunJSON(f, run) }); err != nil {
		return "", "", err
	}
	return csvPath, jsonPath, nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}
