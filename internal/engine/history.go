/*
PURPOSE:
  Bounded, newest-first list of runs replaced by a new Start.

REQUIREMENTS:
  - Oldest runs are evicted once the cap is reached.

ARCHITECTURE INTEGRATION:
  - Owned by: internal/engine/scheduler.go (guarded by its lock)

RELATED FILES:
  - internal/engine/scheduler.go
*/

package engine

import "github.com/daryltucker/mimic-runner/internal/model"

// DefaultHistoryCap bounds the number of past runs kept in memory.
const DefaultHistoryCap = 50

// History is a bounded, newest-first list of finished or replaced runs.
// It is not safe for concurrent use; the Scheduler guards it.
type History struct {
	limit int
	runs  []model.Run
}

// NewHistory creates a History holding at most limit runs.
func NewHistory(limit int) *History {
	if limit < 1 {
		limit = DefaultHistoryCap
	}
	return &History{limit: limit}
}

// Push stores a copy of run at the front, evicting the oldest when full.
func (h *History) Push(run model.Run) {
	h.runs = append([]model.Run{run.Clone()}, h.runs...)
	if len(h.runs) > h.limit {
		h.runs = h.runs[:h.limit]
	}
}

// Runs returns deep copies, newest first.
func (h *History) Runs() []model.Run {
	out := make([]model.Run, len(h.runs))
	for i, r := range h.runs {
		out[i] = r.Clone()
	}
	return out
}

// Len reports how many runs are stored.
func (h *History) Len() int { return len(h.runs) }
