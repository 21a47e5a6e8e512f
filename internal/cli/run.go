/*
PURPOSE:
  Defines the 'run' subcommand.
  Asks every selected model the question N times and exports the run.

REQUIREMENTS:
  User-specified:
  - Run one or more questions across the selected models.
  - Specific flags for overrides.
  - Ctrl-C cancels the run; finished responses are still exported.

  Implementation-discovered:
  - Need to load config first.
  - Apply flag overrides to config.
  - Retry is explicit: --retry-rounds N re-queues failures up to N times.
  - A JSON Lines journal keeps finished responses even if export fails.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Execute(), internal/engine.Export()
  - Uses: internal/config, internal/similarity (with --references)

ERROR HANDLING:
  - Returns error if config load fails or no models are selected.
  - An interrupted run is exported before the error is returned.

IMPLEMENTATION RULES:
  - Setup flags in init().
  - Logic: Load Config -> Override -> Scheduler -> Execute -> Export.

USAGE:
  mimic-runner run -q "What is the capital of France?" --models gpt-4o-mini,deepseek-chat

SELF-HEALING INSTRUCTIONS:
  - Check flag names match Config struct fields generally.

RELATED FILES:
  - internal/cli/root.go
  - internal/engine/runner.go

MAINTENANCE:
  - Update when adding new CLI overrides.
*/

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/daryltucker/mimic-runner/internal/config"
	"github.com/daryltucker/mimic-runner/internal/engine"
	"github.com/daryltucker/mimic-runner/internal/metrics"
	"github.com/daryltucker/mimic-runner/internal/model"
	"github.com/daryltucker/mimic-runner/internal/output"
	"github.com/daryltucker/mimic-runner/internal/provider"
)

var (
	questions       []string
	questionFile    string
	modelsOverride  []string
	loopsOverride   int
	concurrencyFlag int
	systemOverride  string
	retryRounds     int
	referencesFile  string
	outputOverride  string
	journalPath     string
	metricsAddr     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ask the selected models a question and compare the answers",
	Long: `Sends each question to every selected model, LoopCount times per model,
with at most --concurrency requests streaming at once.
The process follows a strict protocol:
1. Dispatch: jobs are created per (model, repetition) and started in order.
2. Streaming: partial text accumulates on each response as it arrives.
3. Retry: with --retry-rounds, failed responses are re-queued in place.
   Rate limits and 5xx answers are not retried automatically unless
   retry.max_attempts in the config is raised above 1.
4. Analysis: pairwise similarity and clusters are computed once idle.

Results are saved to <output-dir>/run-<id>.csv and .json for every question.`,
	Example: `  # Ask the models enabled in mimic_runner.yaml
  mimic-runner run -q "Explain photosynthesis in one sentence"

  # Pick models and repetitions explicitly
  mimic-runner run -q "Name three colors" --models gpt-4o-mini,claude-3-haiku-20240307 --loops 3

  # Retry failures twice and compare against reference answers
  mimic-runner run -q "..." --retry-rounds 2 --references ./refs.csv

  # Keep a live journal and expose Prometheus metrics
  mimic-runner run -q "..." --journal ./responses.jsonl --metrics-addr :9090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Overrides
		if questionFile != "" {
			data, err := os.ReadFile(questionFile)
			if err != nil {
				return fmt.Errorf("failed to read question file: %w", err)
			}
			questions = append(questions, string(data))
		}
		if len(questions) == 0 {
			return errors.New("no question given: pass -q or --question-file")
		}
		if cmd.Flags().Changed("loops") {
			cfg.LoopCount = config.ClampLoops(loopsOverride, cfg.LoopCap)
		}
		if cmd.Flags().Changed("concurrency") {
			cfg.Concurrency = max(concurrencyFlag, 1)
		}
		if cmd.Flags().Changed("system") {
			cfg.SystemPrompt = systemOverride
		}
		if outputOverride != "" {
			cfg.OutputDir = outputOverride
		}

		selected := modelsOverride
		if len(selected) == 0 {
			selected = cfg.EnabledModelIDs()
		}
		if len(selected) == 0 {
			return errors.New("no models selected: pass --models or set enabled: true in the config")
		}

		var refs []model.ReferenceText
		if referencesFile != "" {
			var err error
			if refs, err = loadReferences(referencesFile); err != nil {
				return err
			}
		}

		// 2. Wiring
		var m *metrics.Collector
		if metricsAddr != "" {
			m = metrics.New(nil)
			stop := serveMetrics(metricsAddr, m)
			defer stop()
		}

		opts := []engine.Option{
			engine.WithMetrics(m),
			engine.WithResolver(engine.ProviderResolver(provider.NewClient(cfg.Retry))),
		}
		if journalPath != "" {
			f, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer f.Close()
			opts = append(opts, engine.WithObserver(newJournal(output.NewJSONWriter(f)).observe))
		}

		s := engine.New(cfg.Catalog(), opts...)
		defer s.Shutdown()

		// 3. Execution
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		for _, q := range questions {
			run, err := engine.Execute(ctx, s, model.RunConfig{
				SystemPrompt:     cfg.SystemPrompt,
				Question:         q,
				LoopCount:        cfg.LoopCount,
				SelectedModelIDs: selected,
				Concurrency:      cfg.Concurrency,
			}, retryRounds)
			if run.ID != "" {
				csvPath, jsonPath, xerr := engine.Export(run, cfg.OutputDir)
				if xerr != nil {
					return errors.Join(err, xerr)
				}
				printRun(out, run)
				if len(refs) > 0 {
					printClassifications(out, refs, run, cfg.Classification)
				}
				fmt.Fprintf(out, "\nSaved %s\nSaved %s\n", csvPath, jsonPath)
			}
			if err != nil {
				return err
			}
		}
		if cur, ok := s.Current(); ok && len(questions) > 1 {
			printHistory(out, append([]model.Run{cur}, s.History()...))
		}
		return nil
	},
}

// serveMetrics exposes m on addr until the returned stop func is called.
func serveMetrics(addr string, m *metrics.Collector) func() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			output.Logger.Warnw("Metrics listener stopped", "addr", addr, "error", err)
		}
	}()
	output.Logger.Infow("Serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	}
}

// journal appends each response to a JSON Lines file the first time it
// reaches a terminal status. Retried responses are written again.
type journal struct {
	w    *output.JSONWriter
	seen map[string]bool
}

func newJournal(w *output.JSONWriter) *journal {
	return &journal{w: w, seen: make(map[string]bool)}
}

// observe is called by the scheduler with its lock held; calls are serial.
func (j *journal) observe(run model.Run) {
	for _, r := range run.Responses {
		if !r.Status.Terminal() {
			continue
		}
		key := fmt.Sprintf("%s/%d", r.ID, r.RetryCount)
		if j.seen[key] {
			continue
		}
		j.seen[key] = true
		if err := j.w.Write(r); err != nil {
			output.Logger.Warnw("Failed to write journal entry", "id", r.ID, "error", err)
		}
	}
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringArrayVarP(&questions, "question", "q", nil, "Question to ask (repeatable; each runs separately)")
	runCmd.Flags().StringVarP(&questionFile, "question-file", "f", "", "Path to a text file containing a question")
	runCmd.Flags().StringSliceVar(&modelsOverride, "models", nil, "Comma-separated model ids (default: models enabled in config)")
	runCmd.Flags().IntVarP(&loopsOverride, "loops", "n", 0, "Repetitions per model (clamped to loop_cap)")
	runCmd.Flags().IntVarP(&concurrencyFlag, "concurrency", "c", 0, "Maximum requests streaming at once")
	runCmd.Flags().StringVar(&systemOverride, "system", "", "System prompt (overrides config)")
	runCmd.Flags().IntVar(&retryRounds, "retry-rounds", 0, "Re-queue failed responses up to N times")
	runCmd.Flags().StringVar(&referencesFile, "references", "", "CSV of reference texts to classify against the run")
	runCmd.Flags().StringVarP(&outputOverride, "output-dir", "o", "", "Output directory for results (CSV/JSON)")
	runCmd.Flags().StringVar(&journalPath, "journal", "", "Append finished responses to this JSON Lines file")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
}
